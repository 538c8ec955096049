package main

import (
	"fmt"
	"strconv"
	"time"

	"codeberg.org/mutker/padctl/internal/goal"
	"github.com/spf13/cobra"
)

func newGoalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goals",
		Short: "Manage goals",
	}

	cmd.AddCommand(newGoalsListCmd())
	cmd.AddCommand(newGoalsAddCmd())
	cmd.AddCommand(newGoalsProgressCmd())
	cmd.AddCommand(newGoalsUpdateCmd())
	cmd.AddCommand(newGoalsDeleteCmd())

	return cmd
}

func newGoalsListCmd() *cobra.Command {
	var (
		all    bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List goals with their progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			_, r, err := openRecords(cmd)
			if err != nil {
				return err
			}
			defer closeRecords(r, &err)

			ctx := cmd.Context()
			eval := r.Goals()

			goals, err := eval.List(ctx, !all)
			if err != nil {
				return err
			}

			progress := make([]goal.Progress, 0, len(goals))
			for _, g := range goals {
				p, err := eval.Progress(ctx, g.ID)
				if err != nil {
					return err
				}
				progress = append(progress, p)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, progress)
			}

			for _, p := range progress {
				state := "active"
				if p.Goal.Completed {
					state = "done"
				}
				fmt.Fprintf(out, "%s  %-9s %g/%g %s (%.0f%%) %s\n",
					p.Goal.ID, p.Goal.Type, p.Current, p.Goal.Target, p.Goal.Type.Unit(), p.Percent, state)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include completed and expired goals")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}

func newGoalsAddCmd() *cobra.Command {
	var (
		start string
		end   string
	)

	cmd := &cobra.Command{
		Use:   "add TYPE TARGET",
		Short: "Add a distance, steps, duration or calories goal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			typ, err := goal.ParseType(args[0])
			if err != nil {
				return err
			}
			target, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid target %q: %w", args[1], err)
			}

			g := goal.Goal{Type: typ, Target: target}
			if start != "" {
				if g.StartDate, err = time.ParseInLocation(time.DateOnly, start, time.Local); err != nil {
					return fmt.Errorf("invalid --start: %w", err)
				}
			}
			if end != "" {
				d, err := time.ParseInLocation(time.DateOnly, end, time.Local)
				if err != nil {
					return fmt.Errorf("invalid --end: %w", err)
				}
				g.EndDate = &d
			}

			_, r, err := openRecords(cmd)
			if err != nil {
				return err
			}
			defer closeRecords(r, &err)

			g, err = r.Goals().Create(cmd.Context(), g)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), g.ID)

			return nil
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "first day (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&end, "end", "", "last day, inclusive (YYYY-MM-DD)")

	return cmd
}

func newGoalsProgressCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "progress ID",
		Short: "Show the progress of one goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			_, r, err := openRecords(cmd)
			if err != nil {
				return err
			}
			defer closeRecords(r, &err)

			p, err := r.Goals().Progress(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, p)
			}

			unit := p.Goal.Type.Unit()
			fmt.Fprintf(out, "Goal:      %s %g %s\n", p.Goal.Type, p.Goal.Target, unit)
			fmt.Fprintf(out, "Current:   %g %s (%.0f%%)\n", p.Current, unit, p.Percent)
			fmt.Fprintf(out, "Remaining: %g %s\n", p.Remaining, unit)
			if p.Goal.CompletedAt != nil {
				fmt.Fprintf(out, "Completed: %s\n", formatWhen(*p.Goal.CompletedAt, time.Now()))
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}

func newGoalsUpdateCmd() *cobra.Command {
	var (
		target float64
		end    string
	)

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Change the target or the last day of a goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			var targetPtr *float64
			if cmd.Flags().Changed("target") {
				targetPtr = &target
			}

			var endPtr *time.Time
			if end != "" {
				d, err := time.ParseInLocation(time.DateOnly, end, time.Local)
				if err != nil {
					return fmt.Errorf("invalid --end: %w", err)
				}
				endPtr = &d
			}

			if targetPtr == nil && endPtr == nil {
				return fmt.Errorf("nothing to update: set --target or --end")
			}

			_, r, err := openRecords(cmd)
			if err != nil {
				return err
			}
			defer closeRecords(r, &err)

			g, err := r.Goals().Update(cmd.Context(), args[0], targetPtr, endPtr)
			if err != nil {
				return err
			}

			return writeJSON(cmd.OutOrStdout(), g)
		},
	}

	cmd.Flags().Float64Var(&target, "target", 0, "new target value")
	cmd.Flags().StringVar(&end, "end", "", "new last day, inclusive (YYYY-MM-DD)")

	return cmd
}

func newGoalsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			_, r, err := openRecords(cmd)
			if err != nil {
				return err
			}
			defer closeRecords(r, &err)

			return r.Goals().Delete(cmd.Context(), args[0])
		},
	}
}
