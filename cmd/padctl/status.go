package main

import (
	"fmt"
	"time"

	"codeberg.org/mutker/padctl/internal/session"
	"codeberg.org/mutker/padctl/internal/settings"
	"github.com/spf13/cobra"
)

type statusView struct {
	UserID      string               `json:"user_id"`
	Preferences settings.Preferences `json:"preferences"`
	LastSession *session.Session     `json:"last_session,omitempty"`
	Streak      int                  `json:"streak_days"`
}

func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show preferences, the last session and the current streak",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			cfg, r, err := openRecords(cmd)
			if err != nil {
				return err
			}
			defer closeRecords(r, &err)

			ctx := cmd.Context()
			now := time.Now()
			view := statusView{UserID: cfg.UserID}

			if view.Preferences, err = r.Preferences(ctx); err != nil {
				return err
			}

			last, _, err := r.Tracker().History(ctx, session.Filter{UserID: cfg.UserID}, session.Page{Number: 1, Size: 1})
			if err != nil {
				return err
			}
			if len(last) > 0 {
				view.LastSession = &last[0]
			}

			if view.Streak, err = r.Stats().Streak(ctx, now); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, view)
			}

			miles := view.Preferences.UnitsMiles
			fmt.Fprintf(out, "User:        %s\n", view.UserID)
			fmt.Fprintf(out, "Max speed:   %s\n", formatSpeed(view.Preferences.MaxSpeed, miles))
			fmt.Fprintf(out, "Start speed: %s\n", formatSpeed(view.Preferences.StartSpeed, miles))
			fmt.Fprintf(out, "Streak:      %d days\n", view.Streak)
			if s := view.LastSession; s != nil && s.EndTime != nil {
				fmt.Fprintf(out, "Last walk:   %s, %s in %s\n",
					formatWhen(*s.EndTime, now), formatDistance(s.DistanceKm, miles), formatDuration(s.DurationSeconds))
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}
