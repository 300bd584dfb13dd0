package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/mirrorpick/internal/download"
	"github.com/BadgerOps/mirrorpick/internal/safety"
)

var (
	fetchOut       string
	fetchDir       string
	fetchSHA256    string
	fetchSize      int64
	fetchLimitRate string
)

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch [URL]",
		Short: "Resolve the fastest mirror and download from it",
		Long: `Resolve the fastest mirror for URL, then download the artifact from it.
The file name is taken from the original URL unless --out is given.

Partial downloads are resumed when --size is known, and the result is
verified against --sha256 or --size when given. Without a URL there is
nothing to fetch and the command exits successfully.`,
		Example: `  mirrorpick fetch https://github.com/owner/repo/releases/download/v1/app.jar
  mirrorpick fetch --dir ./libs --sha256 3a7b... https://github.com/owner/repo/releases/download/v1/app.jar
  mirrorpick fetch --out app.jar --limit-rate 1MiB https://github.com/owner/repo/releases/download/v1/app.jar`,
		Args: cobra.MaximumNArgs(1),
		RunE: fetchRun,
	}

	cmd.Flags().StringVarP(&fetchOut, "out", "o", "", "destination file path")
	cmd.Flags().StringVar(&fetchDir, "dir", "", "destination directory (default from config download.output_dir)")
	cmd.Flags().StringVar(&fetchSHA256, "sha256", "", "expected SHA-256 of the artifact")
	cmd.Flags().Int64Var(&fetchSize, "size", 0, "expected size of the artifact in bytes")
	cmd.Flags().StringVar(&fetchLimitRate, "limit-rate", "", "bandwidth cap per second, e.g. 512KiB or 2MB (default from config download.rate_limit)")
	cmd.MarkFlagsMutuallyExclusive("out", "dir")

	return cmd
}

func fetchRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	fmt.Printf("mirrorpick %s\n", version)
	if len(args) == 0 || args[0] == "" {
		fmt.Println("No download URL supplied, nothing to fetch.")
		return nil
	}
	rawURL := args[0]

	dest, err := fetchDestination(rawURL)
	if err != nil {
		return err
	}

	rateLimit := globalCfg.Download.RateLimit
	if fetchLimitRate != "" {
		n, err := humanize.ParseBytes(fetchLimitRate)
		if err != nil {
			return fmt.Errorf("invalid --limit-rate: %w", err)
		}
		rateLimit = int64(n)
	}

	ctx := commandContext(cmd)
	outcome, err := resolveURL(ctx, rawURL)
	if err != nil {
		return err
	}

	bar := newProgressBar(fetchSize)
	client := download.NewClient(logger)
	result, err := client.Download(ctx, download.Options{
		URL:              outcome.Selected,
		DestPath:         dest,
		ExpectedChecksum: fetchSHA256,
		ExpectedSize:     fetchSize,
		RetryCount:       globalCfg.Download.RetryAttempts,
		RateLimit:        rateLimit,
		OnProgress: func(done, total int64) {
			if total > 0 && bar.GetMax64() != total {
				bar.ChangeMax64(total)
			}
			_ = bar.Set64(done)
		},
	})
	_ = bar.Finish()
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", outcome.Selected, err)
	}

	fmt.Printf("Saved %s (%s, sha256 %s) in %s\n",
		result.Path,
		humanize.IBytes(uint64(result.Size)),
		result.SHA256,
		result.Duration.Round(time.Millisecond),
	)
	return nil
}

// fetchDestination picks the output path: --out as given, otherwise the
// URL's file name under --dir or the configured output directory.
func fetchDestination(rawURL string) (string, error) {
	if fetchOut != "" {
		return fetchOut, nil
	}

	name, err := safety.FileNameFromURL(rawURL)
	if err != nil {
		return "", err
	}

	dir := fetchDir
	if dir == "" {
		dir = globalCfg.Download.OutputDir
	}
	if dir == "" {
		dir = "."
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving output directory: %w", err)
	}
	return safety.SafeJoinUnder(absDir, name)
}

func newProgressBar(size int64) *progressbar.ProgressBar {
	total := size
	if total <= 0 {
		total = -1
	}
	out := progressWriter()
	return progressbar.NewOptions64(
		total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(out, "\n")
		}),
	)
}
