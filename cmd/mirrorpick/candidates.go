package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/mirrorpick/internal/mirror"
	"github.com/BadgerOps/mirrorpick/internal/safety"
)

func newCandidatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "candidates URL",
		Short: "List the candidate URLs for a download",
		Long: `Print every URL that would be probed for the given download, one per line.
The original URL always comes first. URLs that are not on the canonical host
produce a single candidate.`,
		Example: `  mirrorpick candidates https://github.com/owner/repo/releases/download/v1/app.jar`,
		Args:    cobra.ExactArgs(1),
		RunE:    candidatesRun,
	}
}

func candidatesRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if _, err := safety.ValidateHTTPURL(args[0]); err != nil {
		return err
	}

	gen := mirror.NewGenerator(globalCfg.Mirrors)
	for _, c := range gen.Generate(args[0]) {
		fmt.Println(c)
	}
	return nil
}
