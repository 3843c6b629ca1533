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

var webPort int

var webCmd = &cobra.Command{
	Use:   "web",
	Short: "Serve the dashboard API and websocket feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg := config.Get()
		if webPort != 0 {
			cfg.WebServerPort = webPort
		}
		return app.RunWeb(ctx, cfg)
	},
}

func init() {
	webCmd.Flags().IntVar(&webPort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(webCmd)
}
