// Package cmd implements the hearth CLI.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/openhearth/hearth/internal/config"
)

var (
	cfgPath string
	verbose bool
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hearth",
		Short: "Hearth is a home voice agent runtime",
		Long: `Hearth runs a guarded agent loop between a language model and your
home's tools: lights, locks, timers, search. Sensitive actions always
require explicit confirmation.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultPath(), "config file path")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(chatCmd())
	cmd.AddCommand(recordsCmd())
	cmd.AddCommand(entitiesCmd())

	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
