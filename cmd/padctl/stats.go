package main

import (
	"fmt"
	"time"

	"codeberg.org/mutker/padctl/internal/stats"
	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var (
		period string
		date   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize sessions for a day, week or month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			p, err := stats.ParsePeriod(period)
			if err != nil {
				return err
			}

			ref := time.Now()
			if date != "" {
				ref, err = time.ParseInLocation(time.DateOnly, date, time.Local)
				if err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
			}

			_, r, err := openRecords(cmd)
			if err != nil {
				return err
			}
			defer closeRecords(r, &err)

			ctx := cmd.Context()
			sum, err := r.Stats().Aggregate(ctx, p, ref)
			if err != nil {
				return err
			}

			prefs, err := r.Preferences(ctx)
			if err != nil {
				return err
			}
			miles := prefs.UnitsMiles
			view := sum.Display(miles)

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, view)
			}

			fmt.Fprintf(out, "%s from %s\n", view.Period, view.From.Format(time.DateOnly))
			fmt.Fprintf(out, "Sessions: %d\n", view.TotalSessions)
			fmt.Fprintf(out, "Distance: %s\n", formatDistance(view.TotalDistance, miles))
			fmt.Fprintf(out, "Steps:    %s\n", formatSteps(view.TotalSteps))
			fmt.Fprintf(out, "Duration: %s\n", formatDuration(view.TotalDuration))
			fmt.Fprintf(out, "Calories: %s\n", formatCalories(view.TotalCalories))
			fmt.Fprintf(out, "Avg pace: %s\n", formatSpeed(view.AverageSpeed, miles))

			return nil
		},
	}

	cmd.Flags().StringVar(&period, "period", "daily", "daily, weekly or monthly")
	cmd.Flags().StringVar(&date, "date", "", "reference date (YYYY-MM-DD, default today)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}
