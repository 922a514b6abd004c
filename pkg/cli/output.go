package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
)

// OutputFormat represents the output format for command results.
type OutputFormat string

const (
	// FormatText is aligned key/value text (default).
	FormatText OutputFormat = "text"
	// FormatJSON is indented JSON.
	FormatJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --format flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case FormatText, "":
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (must be text or json)", s)
	}
}

// Field is one row of text output.
type Field struct {
	Name  string
	Value any
}

// Texter is implemented by results that have a text rendering.
type Texter interface {
	TextFields() []Field
}

// Write renders data to w. Text output requires data to implement Texter
// and falls back to %v otherwise.
func Write(w io.Writer, format OutputFormat, data any) error {
	if format == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}

	t, ok := data.(Texter)
	if !ok {
		_, err := fmt.Fprintf(w, "%v\n", data)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, f := range t.TextFields() {
		if _, err := fmt.Fprintf(tw, "%s:\t%v\n", f.Name, f.Value); err != nil {
			return err
		}
	}
	return tw.Flush()
}
