// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/safety_tracker/internal/app"
	"github.com/relabs-tech/safety_tracker/internal/config"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Print tracker events from MQTT",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return app.RunConsole(ctx, config.Get())
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}
