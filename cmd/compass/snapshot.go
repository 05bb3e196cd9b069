package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/compass/pkg/cli"
	"mercator-hq/compass/pkg/snapshot"
)

var snapshotFlags struct {
	domain string
	format string
	retain int
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Inspect persisted policy state",
	Long: `Inspect the policy snapshots written by "compass run".

Subcommands:
  list   - List snapshots, newest first
  show   - Print one snapshot including its learned state
  prune  - Delete old snapshots of a domain`,
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots",
	Long: `List snapshots, newest first.

Examples:
  compass snapshot list
  compass snapshot list --domain routing --format json`,
	Args: cobra.NoArgs,
	RunE: listSnapshots,
}

var snapshotShowCmd = &cobra.Command{
	Use:   "show <id|domain>",
	Short: "Print a snapshot",
	Long: `Print a snapshot with its learned state. The argument is a snapshot ID,
or a domain name to print that domain's latest snapshot.

Examples:
  compass snapshot show routing --format yaml
  compass snapshot show 3f2b6c1e-... --format json`,
	Args: cobra.ExactArgs(1),
	RunE: showSnapshot,
}

var snapshotPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old snapshots",
	Long: `Keep the newest --retain snapshots of a domain and delete the rest.

Examples:
  compass snapshot prune --domain routing --retain 3`,
	Args: cobra.NoArgs,
	RunE: pruneSnapshots,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.AddCommand(snapshotListCmd, snapshotShowCmd, snapshotPruneCmd)

	snapshotListCmd.Flags().StringVar(&snapshotFlags.domain, "domain", "", "only list snapshots of this domain")
	snapshotListCmd.Flags().StringVar(&snapshotFlags.format, "format", "table", "output format: table, json, yaml")
	snapshotShowCmd.Flags().StringVar(&snapshotFlags.format, "format", "yaml", "output format: json, yaml")
	snapshotPruneCmd.Flags().StringVar(&snapshotFlags.domain, "domain", "", "domain to prune (required)")
	snapshotPruneCmd.Flags().IntVar(&snapshotFlags.retain, "retain", 0, "snapshots to keep (defaults to snapshot.retain)")
	_ = snapshotPruneCmd.MarkFlagRequired("domain")
}

// metaTable renders snapshot metadata as a table.
type metaTable []snapshot.Meta

func (t metaTable) Header() []string {
	return []string{"ID", "DOMAIN", "ALGORITHM", "CREATED", "SIZE"}
}

func (t metaTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, m := range t {
		rows = append(rows, []string{
			m.ID,
			m.Domain,
			m.Algorithm,
			m.CreatedAt.Format(time.RFC3339),
			strconv.Itoa(m.Size),
		})
	}
	return rows
}

func openSnapshots() (snapshot.Backend, int, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, 0, err
	}
	if cfg.Snapshot.Backend == "memory" {
		return nil, 0, fmt.Errorf("snapshot backend is %q; nothing is persisted to inspect", cfg.Snapshot.Backend)
	}
	b, err := snapshot.Open(cfg.Snapshot)
	if err != nil {
		return nil, 0, err
	}
	return b, cfg.Snapshot.Retain, nil
}

func listSnapshots(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(snapshotFlags.format)
	if err != nil {
		return err
	}
	b, _, err := openSnapshots()
	if err != nil {
		return cli.NewCommandError("snapshot list", err)
	}
	defer b.Close()

	metas, err := b.List(context.Background(), snapshotFlags.domain)
	if err != nil {
		return cli.NewCommandError("snapshot list", err)
	}
	if len(metas) == 0 && format == cli.FormatTable {
		fmt.Fprintln(cmd.OutOrStdout(), "No snapshots found.")
		return nil
	}
	if format == cli.FormatText {
		format = cli.FormatTable
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), metaTable(metas))
}

func showSnapshot(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(snapshotFlags.format)
	if err != nil {
		return err
	}
	if format != cli.FormatJSON {
		format = cli.FormatYAML
	}
	b, _, err := openSnapshots()
	if err != nil {
		return cli.NewCommandError("snapshot show", err)
	}
	defer b.Close()

	ctx := context.Background()
	s, err := b.Get(ctx, args[0])
	if err != nil {
		// Fall back to treating the argument as a domain.
		var latestErr error
		if s, latestErr = b.Latest(ctx, args[0]); latestErr != nil {
			return cli.NewCommandError("snapshot show", err)
		}
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), s)
}

func pruneSnapshots(cmd *cobra.Command, args []string) error {
	b, retain, err := openSnapshots()
	if err != nil {
		return cli.NewCommandError("snapshot prune", err)
	}
	defer b.Close()

	if cmd.Flags().Changed("retain") {
		retain = snapshotFlags.retain
	}
	removed, err := b.Prune(context.Background(), snapshotFlags.domain, retain)
	if err != nil {
		return cli.NewCommandError("snapshot prune", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed %d snapshot(s) of %s (retain %d)\n", removed, snapshotFlags.domain, retain)
	return nil
}
