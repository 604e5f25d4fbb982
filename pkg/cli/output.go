package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rpzk/throttleguard/pkg/guard"
)

// OutputFormat represents the output format for command results.
type OutputFormat string

const (
	// FormatText is aligned plain text.
	FormatText OutputFormat = "text"
	// FormatJSON is indented JSON.
	FormatJSON OutputFormat = "json"
)

// ParseOutputFormat accepts text or json.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case FormatText, "":
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (want text or json)", s)
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteStats renders the admin stats.
func WriteStats(w io.Writer, stats guard.Stats, format OutputFormat) error {
	if format == FormatJSON {
		return WriteJSON(w, stats)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Limiter")
	fmt.Fprintf(tw, "  Active subjects\t%d\n", stats.ActiveSubjects)
	fmt.Fprintf(tw, "  Blocked subjects\t%d\n", stats.BlockedSubjects)
	fmt.Fprintf(tw, "  Total requests\t%d\n", stats.TotalRequests)
	fmt.Fprintln(tw, "Anomaly detector")
	fmt.Fprintf(tw, "  Profiles\t%d\n", stats.Detector.ProfileCount)
	fmt.Fprintf(tw, "  Suspicious sources\t%d\n", stats.Detector.SuspiciousSourceCount)
	fmt.Fprintf(tw, "  Event history\t%d\n", stats.Detector.EventHistorySize)
	return tw.Flush()
}
