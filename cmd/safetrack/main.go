// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relabs-tech/safety_tracker/internal/config"
	"github.com/relabs-tech/safety_tracker/internal/observability"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "safetrack",
	Short: "Location-aware hazard tracker",
	Long:  "Acquires GPS fixes with adaptive precision, ranks nearby hazards and publishes both over MQTT.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.InitGlobal(cfgFile); err != nil {
			return err
		}
		cfg := config.Get()
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}

		if _, err := observability.InitLogger(cfg.LogLevel, cfg.LogFormat); err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default "+config.DefaultFile+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
