package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ligustah/harvest/internal/config"
	"github.com/ligustah/harvest/internal/logger"
)

// loadConfig applies defaults, then the config file, then HARVEST_*
// variables, then flags the user actually set, and validates the result.
func loadConfig(cmd *cobra.Command, g *globalFlags, override config.Config) (config.Config, error) {
	cfg := config.Default()
	if g.configPath != "" {
		fileCfg, err := config.LoadFromFile(g.configPath)
		if err != nil {
			return config.Config{}, exitWith(ExitInvalidArgs, err)
		}
		cfg = fileCfg
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, exitWith(ExitInvalidArgs, err)
	}

	if cmd.Flags().Changed("output") {
		override.OutputRoot = g.output
	}
	if cmd.Flags().Changed("log-level") {
		override.LogLevel = g.logLevel
	}
	cfg = cfg.Merge(override)

	if err := cfg.Validate(); err != nil {
		return config.Config{}, exitWith(ExitInvalidArgs, err)
	}

	logger.Setup(cfg.LogLevel, cmd.ErrOrStderr())
	logger.Debug("configuration loaded",
		"output", cfg.OutputRoot,
		"labels", cfg.Labels,
		"sources", len(cfg.Sources),
		"scanner", cfg.Scanner,
		"mirror", cfg.Mirror.Bucket != "",
	)
	return cfg, nil
}

func statusf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.ErrOrStderr(), "[harvest] "+format+"\n", args...)
}
