// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/aegis-dev/aegis/internal/config"
)

// NewRootCmd creates the root aegis command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "aegis",
		Short:         "A conversational tool-using agent",
		Long:          "Aegis runs a guarded conversational agent: tool retrieval, rate limiting, audit logging, and confirmation gates around destructive actions.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")

	root.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newSessionCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)

	return root
}

// resolveConfigPath applies the discovery order: the --config flag, then
// ./aegis.yaml, then ~/.config/aegis/aegis.yaml (bootstrapped with the
// commented default on first run). An empty return means defaults only.
func resolveConfigPath(cmd *cobra.Command) string {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path
	}
	if _, err := os.Stat("aegis.yaml"); err == nil {
		return "aegis.yaml"
	}
	if path, err := config.DefaultConfigPath(); err == nil {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return config.BootstrapConfig()
}

// loadConfig resolves and loads the effective configuration for a command.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := resolveConfigPath(cmd)
	config.WarnInsecurePermissions(path)
	return config.Load(path)
}
