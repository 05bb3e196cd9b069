package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/compass/pkg/cli"
	"mercator-hq/compass/pkg/ledger"
)

var summaryFlags struct {
	domain  string
	variant string
	since   time.Duration
	limit   int
	history bool
	format  string
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Report experiment phase transitions",
	Long: `Report the phase transitions recorded in the ledger.

By default one row is printed per variant with its current phase and the
statistics at the time of its last transition. --history lists every
transition instead, newest first.

Examples:
  # Current phase of every variant
  compass summary

  # Transitions of one domain in the last day
  compass summary --domain routing --since 24h --history

  # Machine-readable output
  compass summary --format json`,
	Args: cobra.NoArgs,
	RunE: runSummary,
}

func init() {
	rootCmd.AddCommand(summaryCmd)

	summaryCmd.Flags().StringVar(&summaryFlags.domain, "domain", "", "filter by domain")
	summaryCmd.Flags().StringVar(&summaryFlags.variant, "variant", "", "filter by variant")
	summaryCmd.Flags().DurationVar(&summaryFlags.since, "since", 0, "only transitions newer than this (e.g. 24h)")
	summaryCmd.Flags().IntVar(&summaryFlags.limit, "limit", 0, "max transitions to read (0 for all)")
	summaryCmd.Flags().BoolVar(&summaryFlags.history, "history", false, "list every transition")
	summaryCmd.Flags().StringVar(&summaryFlags.format, "format", "table", "output format: table, json, yaml")
}

// transitionTable renders transitions as a table.
type transitionTable []*ledger.Transition

func (t transitionTable) Header() []string {
	return []string{"RECORDED", "DOMAIN", "VARIANT", "FROM", "TO", "TRIGGER", "SAMPLES", "IMPROVEMENT", "P-VALUE", "REASON"}
}

func (t transitionTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, tr := range t {
		rows = append(rows, []string{
			tr.RecordedAt.Format(time.RFC3339),
			tr.Domain,
			tr.Variant,
			tr.From,
			tr.To,
			tr.Trigger,
			strconv.FormatInt(tr.Samples, 10),
			fmt.Sprintf("%+.1f%%", tr.Improvement*100),
			fmt.Sprintf("%.4f", tr.PValue),
			tr.Reason,
		})
	}
	return rows
}

// latestPerVariant keeps the newest transition of every (domain, variant),
// sorted by domain then variant. Input is newest first.
func latestPerVariant(transitions []*ledger.Transition) []*ledger.Transition {
	seen := make(map[[2]string]bool)
	var out []*ledger.Transition
	for _, tr := range transitions {
		key := [2]string{tr.Domain, tr.Variant}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tr)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Domain != out[j].Domain {
			return out[i].Domain < out[j].Domain
		}
		return out[i].Variant < out[j].Variant
	})
	return out
}

func runSummary(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(summaryFlags.format)
	if err != nil {
		return err
	}
	if format == cli.FormatText {
		format = cli.FormatTable
	}

	cfg, err := loadConfig()
	if err != nil {
		return cli.NewCommandError("summary", err)
	}
	if cfg.Ledger.Backend == "memory" {
		return cli.NewCommandError("summary", fmt.Errorf("ledger backend is %q; nothing is persisted to report", cfg.Ledger.Backend))
	}
	store, err := ledger.Open(cfg.Ledger)
	if err != nil {
		return cli.NewCommandError("summary", err)
	}
	defer store.Close()

	q := &ledger.Query{
		Domain:  summaryFlags.domain,
		Variant: summaryFlags.variant,
		Limit:   summaryFlags.limit,
	}
	if summaryFlags.since > 0 {
		since := time.Now().Add(-summaryFlags.since)
		q.Since = &since
	}
	transitions, err := store.Query(context.Background(), q)
	if err != nil {
		return cli.NewCommandError("summary", err)
	}

	if !summaryFlags.history {
		transitions = latestPerVariant(transitions)
	}
	if len(transitions) == 0 && format == cli.FormatTable {
		fmt.Fprintln(cmd.OutOrStdout(), "No transitions recorded.")
		return nil
	}
	if transitions == nil {
		transitions = []*ledger.Transition{}
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), transitionTable(transitions))
}
