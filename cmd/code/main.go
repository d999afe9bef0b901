// Package main is a thin CLI harness that wires a session.Controller end
// to end and drives it from a terminal: configure a session, read lines
// from stdin as user input, print the resulting events, and answer
// approval prompts interactively. It intentionally does no parsing, TUI
// rendering, or protocol work of its own beyond cobra flag handling —
// everything else is delegated to the internal packages.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main so it can be exercised without a process exit.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "code",
		Short:        "Drive a coding-agent session from a terminal",
		Long:         "code wires a sandboxed executor, sub-agent manager, retrieval store, and an LLM provider into one session.Controller and drives it from stdin/stdout.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildRunCmd())
	return rootCmd
}
