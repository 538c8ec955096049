package main

import (
	"fmt"
	"time"

	"codeberg.org/mutker/padctl/internal/session"
	"github.com/spf13/cobra"
)

type historyView struct {
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	Sessions []session.Session `json:"sessions"`
}

func newHistoryCmd() *cobra.Command {
	var (
		page   int
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			cfg, r, err := openRecords(cmd)
			if err != nil {
				return err
			}
			defer closeRecords(r, &err)

			ctx := cmd.Context()
			sessions, total, err := r.Tracker().History(ctx,
				session.Filter{UserID: cfg.UserID},
				session.Page{Number: page, Size: limit})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, historyView{Total: total, Page: page, Sessions: sessions})
			}

			prefs, err := r.Preferences(ctx)
			if err != nil {
				return err
			}
			now := time.Now()
			for _, s := range sessions {
				fmt.Fprintf(out, "%s  %-10s %-9s %8s steps  %s\n",
					formatWhen(s.StartTime, now),
					formatDistance(s.DistanceKm, prefs.UnitsMiles),
					formatDuration(s.DurationSeconds),
					formatSteps(s.Steps),
					formatCalories(s.CaloriesKcal))
			}
			fmt.Fprintf(out, "%d of %d sessions\n", len(sessions), total)

			return nil
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&limit, "limit", 20, "sessions per page")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	cmd.AddCommand(newHistoryAddCmd())

	return cmd
}

// parseWhen accepts RFC 3339 or a local "YYYY-MM-DD HH:MM".
func parseWhen(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02 15:04", s, time.Local)
}

func newHistoryAddCmd() *cobra.Command {
	var (
		start    string
		end      string
		duration time.Duration
		distance float64
		steps    int
		calories float64
		notes    string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a session walked without the device connected",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			from, err := parseWhen(start)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}

			var to time.Time
			switch {
			case end != "":
				if to, err = parseWhen(end); err != nil {
					return fmt.Errorf("invalid --end: %w", err)
				}
			case duration > 0:
				to = from.Add(duration)
			default:
				return fmt.Errorf("one of --end or --duration is required")
			}

			_, r, err := openRecords(cmd)
			if err != nil {
				return err
			}
			defer closeRecords(r, &err)

			s, err := r.Tracker().Import(session.Session{
				StartTime:       from,
				EndTime:         &to,
				DistanceKm:      distance,
				Steps:           steps,
				DurationSeconds: int(duration.Seconds()),
				CaloriesKcal:    calories,
				Notes:           notes,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, s)
			}
			fmt.Fprintln(out, s.ID)

			return nil
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "start time (RFC 3339 or \"YYYY-MM-DD HH:MM\")")
	cmd.Flags().StringVar(&end, "end", "", "end time; defaults to start plus --duration")
	cmd.Flags().DurationVar(&duration, "duration", 0, "walking time, e.g. 45m")
	cmd.Flags().Float64Var(&distance, "distance", 0, "distance in km")
	cmd.Flags().IntVar(&steps, "steps", 0, "step count")
	cmd.Flags().Float64Var(&calories, "calories", 0, "kcal; estimated when omitted")
	cmd.Flags().StringVar(&notes, "notes", "", "free text")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	_ = cmd.MarkFlagRequired("start")

	return cmd
}
