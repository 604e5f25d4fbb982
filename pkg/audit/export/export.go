// Package export writes audit entries as JSON or CSV.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/rpzk/throttleguard/pkg/audit"
)

// Exporter writes entries to w.
type Exporter interface {
	Export(ctx context.Context, entries []*audit.Entry, w io.Writer) error
}

// ForFormat returns the exporter for "json" or "csv".
func ForFormat(format string, pretty bool) (Exporter, error) {
	switch format {
	case "json", "":
		return &JSONExporter{Pretty: pretty}, nil
	case "csv":
		return &CSVExporter{IncludeHeader: true}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q (want json or csv)", format)
	}
}

// JSONExporter writes entries as a JSON array.
type JSONExporter struct {
	// Pretty enables indentation.
	Pretty bool
}

// Export writes entries as a JSON array. An empty slice writes "[]".
func (e *JSONExporter) Export(ctx context.Context, entries []*audit.Entry, w io.Writer) error {
	if entries == nil {
		entries = []*audit.Entry{}
	}

	enc := json.NewEncoder(w)
	if e.Pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("json export of %d entries: %w", len(entries), err)
	}
	return nil
}

// CSVExporter writes one row per entry. Details are flattened to a JSON
// object in a single column.
type CSVExporter struct {
	// IncludeHeader writes a header row first.
	IncludeHeader bool
}

var csvHeader = []string{
	"id", "timestamp", "actor_id", "actor_email", "actor_role",
	"action", "resource", "success", "details", "error_message",
}

// Export writes entries as CSV.
func (e *CSVExporter) Export(ctx context.Context, entries []*audit.Entry, w io.Writer) error {
	writer := csv.NewWriter(w)

	if e.IncludeHeader {
		if err := writer.Write(csvHeader); err != nil {
			return fmt.Errorf("csv export: %w", err)
		}
	}

	for i, entry := range entries {
		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := writer.Write(row(entry)); err != nil {
			return fmt.Errorf("csv export of entry %s: %w", entry.ID, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("csv export: %w", err)
	}
	return nil
}

func row(e *audit.Entry) []string {
	details := ""
	if len(e.Details) > 0 {
		// encoding/json sorts map keys, so the column is stable.
		data, _ := json.Marshal(e.Details)
		details = string(data)
	}
	return []string{
		e.ID,
		e.Timestamp.UTC().Format(time.RFC3339),
		e.ActorID,
		e.ActorEmail,
		e.ActorRole,
		string(e.Action),
		e.Resource,
		strconv.FormatBool(e.Success),
		details,
		e.ErrorMessage,
	}
}

// SortOldestFirst orders entries by timestamp ascending, in place.
func SortOldestFirst(entries []*audit.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
}
