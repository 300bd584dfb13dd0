package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/mirrorpick/internal/history"
	"github.com/BadgerOps/mirrorpick/internal/mirror"
	"github.com/BadgerOps/mirrorpick/internal/safety"
)

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve URL",
		Short: "Probe the mirrors and print the fastest URL",
		Long: `Probe every candidate for the given download and print the selected URL on
stdout. Per-mirror progress is written to stderr unless --quiet is set.

If every probe fails, the original URL is printed.`,
		Example: `  mirrorpick resolve https://github.com/owner/repo/releases/download/v1/app.jar
  curl -LO "$(mirrorpick resolve --quiet https://github.com/owner/repo/releases/download/v1/app.jar)"`,
		Args: cobra.ExactArgs(1),
		RunE: resolveRun,
	}
}

func resolveRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	outcome, err := resolveURL(commandContext(cmd), args[0])
	if err != nil {
		return err
	}
	fmt.Println(outcome.Selected)
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

// resolveURL validates rawURL, resolves it against the configured mirrors,
// and records the outcome in the ledger when history is enabled.
func resolveURL(ctx context.Context, rawURL string) (*mirror.Outcome, error) {
	if _, err := safety.ValidateHTTPURL(rawURL); err != nil {
		return nil, err
	}

	gen := mirror.NewGenerator(globalCfg.Mirrors)
	candidates := gen.Generate(rawURL)

	started := time.Now()
	outcome, err := newSelector().Resolve(ctx, candidates)
	if err != nil {
		return nil, err
	}

	hist, err := openHistory(false)
	if err != nil {
		logger.Warn("history unavailable, resolution not recorded", "error", err)
		return outcome, nil
	}
	if hist != nil {
		entry := history.FromOutcome(gen.Canonical(), candidates, outcome, started, time.Since(started))
		if err := hist.RecordResolution(ctx, entry); err != nil {
			logger.Warn("failed to record resolution", "error", err)
		} else {
			logger.Debug("resolution recorded", "run_id", entry.RunID)
		}
	}
	return outcome, nil
}
