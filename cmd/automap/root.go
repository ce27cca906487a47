package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cory-johannsen/automap/internal/config"
	"github.com/cory-johannsen/automap/internal/observability"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "automap",
		Short:         "Automatic maps for interactive fiction",
		Long:          `automap builds a map of rooms and paths from a story's moves and keeps it per story.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "path to configuration file (defaults and AUTOMAP_ env when empty)")

	root.AddCommand(
		newServeCmd(),
		newReplayCmd(),
		newDecodeCmd(),
		newStoryIDCmd(),
		newMigrateCmd(),
	)
	return root
}

// loadConfig reads the --config file and builds the logger it configures.
func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("loading config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("creating logger: %w", err)
	}
	return cfg, logger, nil
}
