// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relabs-tech/safety_tracker/internal/app"
	"github.com/relabs-tech/safety_tracker/internal/config"
)

var trackOpts app.TrackOptions

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Run the tracker (GPS -> filter -> ranking -> MQTT)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		zap.L().Info("starting tracker", zap.Bool("simulate", trackOpts.Simulate))
		return app.RunTracker(ctx, config.Get(), trackOpts)
	},
}

func init() {
	trackCmd.Flags().BoolVar(&trackOpts.Simulate, "simulate", false, "use the simulated GPS walk instead of the serial receiver")
	trackCmd.Flags().BoolVar(&trackOpts.HighPrecision, "high-precision", false, "start in high-accuracy mode even if HIGH_PRECISION=false")
	rootCmd.AddCommand(trackCmd)
}
