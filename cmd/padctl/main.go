package main

import (
	"os"

	"codeberg.org/mutker/padctl/internal/config"
	"codeberg.org/mutker/padctl/internal/engine"
	"codeberg.org/mutker/padctl/internal/logger"
	"github.com/spf13/cobra"
)

var (
	configFile string
	envFiles   []string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "padctl",
		Short:         "WalkingPad session and metrics daemon",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "configuration file (default: search /etc/padctl, user config dir, .)")
	flags.StringSliceVar(&envFiles, "env-file", nil, "load environment variables from these .env files")
	flags.String("log-level", "", "log level: debug, info, warning, error")
	flags.Bool("debug", false, "enable debug logging")
	flags.Bool("verbose", false, "enable verbose logging")
	flags.String("user", "", "user id")
	flags.String("db", "", "database path")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newGoalsCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

// loadConfig reads configuration with cmd's flags bound and sets up logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	opts := []config.Option{config.WithFlags(cmd.Flags())}
	if configFile != "" {
		opts = append(opts, config.WithConfigFile(configFile))
	}
	if len(envFiles) > 0 {
		opts = append(opts, config.WithDotEnv(envFiles...))
	}

	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, err
	}

	logger.InitWithOutput(cmd.ErrOrStderr(), cfg.Debug, cfg.Verbose, logger.IsService())
	if !cfg.Debug && !cfg.Verbose {
		level, _ := logger.ParseLevel(string(cfg.LogLevel))
		logger.SetLogLevel(level)
	}
	logger.Debug().Msg("Config loaded")

	return cfg, nil
}

// openRecords opens the store for commands that run without the daemon.
func openRecords(cmd *cobra.Command) (*config.Config, *engine.Records, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	r, err := engine.OpenRecords(cfg, logger.New("records"))
	if err != nil {
		return nil, nil, err
	}

	return cfg, r, nil
}

// closeRecords reports a failed close unless the command already failed.
func closeRecords(r *engine.Records, err *error) {
	if cerr := r.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}
