package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/mirrorpick/internal/history"
	"github.com/BadgerOps/mirrorpick/internal/mirror"
)

var historyLimit int

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded resolutions",
		Long: `List the most recent resolutions recorded in the history ledger. The ledger
is only written when history is enabled in the config or --history-db is set;
it is never consulted when selecting a mirror.`,
		Example: `  mirrorpick history
  mirrorpick history --limit 50
  mirrorpick history show 7f7c1f9e-2b1c-4c55-9d4e-8f1f3c7f0a11`,
		Args: cobra.NoArgs,
		RunE: historyListRun,
	}
	cmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of resolutions to show (0 for all)")

	cmd.AddCommand(&cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show one resolution with its probe results",
		Args:  cobra.ExactArgs(1),
		RunE:  historyShowRun,
	})

	return cmd
}

func historyListRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	st, err := openHistory(true)
	if err != nil {
		return err
	}

	list, err := st.ListResolutions(commandContext(cmd), historyLimit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No resolutions recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tSTARTED\tCANDIDATES\tRESPONDED\tFALLBACK\tSELECTED")
	for _, r := range list {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			r.RunID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Candidates,
			r.Responded,
			yesNo(r.Fallback),
			r.SelectedURL,
		)
	}
	return w.Flush()
}

func historyShowRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	st, err := openHistory(true)
	if err != nil {
		return err
	}

	res, err := st.GetResolution(commandContext(cmd), args[0])
	if errors.Is(err, history.ErrNotFound) {
		return fmt.Errorf("no resolution with run id %s", args[0])
	}
	if err != nil {
		return err
	}

	fmt.Printf("Run:        %s\n", res.RunID)
	fmt.Printf("Started:    %s (%s)\n", res.StartedAt.Local().Format(time.DateTime), res.Duration)
	fmt.Printf("Canonical:  %s\n", res.CanonicalURL)
	fmt.Printf("Selected:   %s\n", res.SelectedURL)
	fmt.Printf("Fallback:   %s\n", yesNo(res.Fallback))
	fmt.Printf("Responded:  %d of %d\n\n", res.Responded, res.Candidates)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSTATUS\tRATE\tDETAIL\tURL")
	for _, p := range res.Probes {
		rate := "-"
		if p.Status == history.StatusSuccess {
			rate = mirror.FormatRate(p.BytesPerSecond)
		}
		detail := p.Error
		if detail == "" && p.StatusCode != 0 {
			detail = fmt.Sprintf("HTTP %d", p.StatusCode)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", p.Position, p.Status, rate, detail, p.URL)
	}
	return w.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
