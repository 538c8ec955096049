package main

import (
	"context"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/padctl/internal/engine"
	"codeberg.org/mutker/padctl/internal/events"
	"codeberg.org/mutker/padctl/internal/logger"
	"codeberg.org/mutker/padctl/internal/pid"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon",
		Args:  cobra.NoArgs,
		RunE:  runDaemon,
	}

	cmd.Flags().String("address", "", "device bridge websocket URL")
	cmd.Flags().Bool("simulate", false, "use the simulated device")
	cmd.Flags().String("pid-file", "", "PID file path")
	cmd.Flags().Bool("telemetry", false, "record raw telemetry samples")

	return cmd
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := pid.Write(cfg.PIDFile); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(cfg.PIDFile); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, cfg)
	if err != nil {
		return err
	}

	sub := eng.Subscribe()
	logged := make(chan struct{})
	go func() {
		defer close(logged)
		logEvents(sub)
	}()

	logger.Info().Str("user_id", cfg.UserID).Msg("padctl started")

	runErr := eng.Run(ctx)
	if err := eng.Close(); err != nil && runErr == nil {
		runErr = err
	}
	<-logged

	logger.Info().Msg("Exiting...")

	return runErr
}

// logEvents writes the event stream to the log until the bus closes.
func logEvents(sub *events.Subscription) {
	log := logger.New("events")

	for ev := range sub.C {
		switch p := ev.Payload.(type) {
		case events.SessionSummary:
			log.Info().
				Str("session_id", p.SessionID).
				Float64("distance_km", p.DistanceKm).
				Int("steps", p.Steps).
				Int("duration_seconds", p.DurationSeconds).
				Msg("Session ended")
		case events.GoalPayload:
			log.Info().Str("goal_id", p.GoalID).Str("type", p.Type).Msg("Goal achieved")
		case events.FailurePayload:
			log.Error().Str("kind", p.Kind).Str("id", p.ID).Str("error", p.Error).Msg("Persistence failure")
		default:
			log.Debug().Str("type", string(ev.Type)).Uint64("seq", ev.Seq).Interface("payload", ev.Payload).Msg("Event")
		}
	}
}
