package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rpzk/throttleguard/pkg/audit"
	"github.com/rpzk/throttleguard/pkg/audit/export"
	"github.com/rpzk/throttleguard/pkg/audit/retention"
	auditstorage "github.com/rpzk/throttleguard/pkg/audit/storage"
	"github.com/rpzk/throttleguard/pkg/cli"
)

var auditFlags struct {
	db      string
	actor   string
	action  string
	since   string
	until   string
	failed  bool
	limit   int
	format  string
	days    int
	archive string
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query and prune the audit trail",
	Long: `Work with the SQLite audit trail written by the server.

Subcommands:
  query - Export matching entries as JSON or CSV
  prune - Delete entries past the retention period`,
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Export audit entries",
	Long: `Export audit entries, oldest first.

--since and --until take an RFC3339 timestamp or a duration relative to
now, such as 24h.

Examples:
  # Rejections in the last day
  throttleguard audit query --action rate_limit_exceeded --since 24h

  # Everything one subject did, as CSV
  throttleguard audit query --actor user-123 --format csv > user-123.csv`,
	Args: cobra.NoArgs,
	RunE: queryAudit,
}

var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete audit entries past the retention period",
	Long: `Delete entries older than --days. With --archive, expiring entries
are first written as JSON to that directory.

Examples:
  throttleguard audit prune --days 90
  throttleguard audit prune --days 30 --archive data/archives`,
	Args: cobra.NoArgs,
	RunE: pruneAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditQueryCmd, auditPruneCmd)

	auditCmd.PersistentFlags().StringVar(&auditFlags.db, "db", "data/audit.db", "audit database path")

	auditQueryCmd.Flags().StringVar(&auditFlags.actor, "actor", "", "filter by subject ID")
	auditQueryCmd.Flags().StringVar(&auditFlags.action, "action", "", "filter by action")
	auditQueryCmd.Flags().StringVar(&auditFlags.since, "since", "", "entries at or after this time")
	auditQueryCmd.Flags().StringVar(&auditFlags.until, "until", "", "entries at or before this time")
	auditQueryCmd.Flags().BoolVar(&auditFlags.failed, "failed", false, "only unsuccessful outcomes")
	auditQueryCmd.Flags().IntVar(&auditFlags.limit, "limit", 1000, "maximum entries (0 for all)")
	auditQueryCmd.Flags().StringVarP(&auditFlags.format, "format", "f", "json", "output format: json, csv")

	auditPruneCmd.Flags().IntVar(&auditFlags.days, "days", 90, "retention period in days")
	auditPruneCmd.Flags().StringVar(&auditFlags.archive, "archive", "", "archive directory (empty disables archiving)")
}

func openAuditDB() (*auditstorage.SQLiteStorage, error) {
	cfg := auditstorage.DefaultSQLiteConfig()
	cfg.Path = auditFlags.db
	return auditstorage.NewSQLiteStorage(cfg)
}

// parseTimeFlag accepts RFC3339 or a duration back from now.
func parseTimeFlag(name, value string, now time.Time) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return time.Time{}, fmt.Errorf("--%s: want RFC3339 or a positive duration, got %q", name, value)
	}
	return now.Add(-d), nil
}

func buildAuditQuery(now time.Time) (*audit.Query, error) {
	q := &audit.Query{
		ActorID: auditFlags.actor,
		Action:  audit.Action(auditFlags.action),
		Limit:   auditFlags.limit,
	}
	if q.Action != "" && !q.Action.Valid() {
		return nil, fmt.Errorf("unknown action %q", auditFlags.action)
	}
	if q.Limit < 0 {
		return nil, fmt.Errorf("--limit must not be negative")
	}

	var err error
	if q.Since, err = parseTimeFlag("since", auditFlags.since, now); err != nil {
		return nil, err
	}
	if q.Until, err = parseTimeFlag("until", auditFlags.until, now); err != nil {
		return nil, err
	}
	if !q.Since.IsZero() && !q.Until.IsZero() && q.Until.Before(q.Since) {
		return nil, fmt.Errorf("--until is before --since")
	}
	if auditFlags.failed {
		q.Success = new(bool)
	}
	return q, nil
}

func queryAudit(cmd *cobra.Command, args []string) error {
	q, err := buildAuditQuery(time.Now())
	if err != nil {
		return cli.NewCommandError("audit query", err)
	}
	exporter, err := export.ForFormat(auditFlags.format, true)
	if err != nil {
		return cli.NewCommandError("audit query", err)
	}

	store, err := openAuditDB()
	if err != nil {
		return cli.NewCommandError("audit query", err)
	}
	defer store.Close()

	entries, err := store.Query(cmd.Context(), q)
	if err != nil {
		return cli.NewCommandError("audit query", err)
	}
	export.SortOldestFirst(entries)
	return exporter.Export(cmd.Context(), entries, cmd.OutOrStdout())
}

func pruneAudit(cmd *cobra.Command, args []string) error {
	if auditFlags.days <= 0 {
		return cli.NewCommandError("audit prune", fmt.Errorf("--days must be positive"))
	}

	store, err := openAuditDB()
	if err != nil {
		return cli.NewCommandError("audit prune", err)
	}
	defer store.Close()

	pruner := retention.NewPruner(store, &retention.Config{
		RetentionDays:       auditFlags.days,
		ArchiveBeforeDelete: auditFlags.archive != "",
		ArchivePath:         auditFlags.archive,
	})
	cutoff, _ := pruner.Cutoff()

	n, err := pruner.Prune(cmd.Context())
	if err != nil {
		return cli.NewCommandError("audit prune", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted %d entries recorded before %s\n", n, cutoff.Format(time.RFC3339))
	return nil
}
