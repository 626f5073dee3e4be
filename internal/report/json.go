package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/sitegrade/sitegrade/internal/scan"
)

// JSONWriter renders reports as JSON for tool consumption.
type JSONWriter struct {
	out    io.Writer
	indent bool
}

// JSONOption configures a JSONWriter.
type JSONOption func(*JSONWriter)

// WithPrettyPrint switches to two-space indented output.
func WithPrettyPrint() JSONOption {
	return func(w *JSONWriter) {
		w.indent = true
	}
}

// NewJSONWriter creates a JSONWriter that writes to out. Output is
// compact unless WithPrettyPrint is given.
func NewJSONWriter(out io.Writer, opts ...JSONOption) *JSONWriter {
	w := &JSONWriter{out: out}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write marshals the report and writes it with a trailing newline.
func (w *JSONWriter) Write(report *scan.Report) (int, error) {
	var (
		data []byte
		err  error
	)
	if w.indent {
		data, err = json.MarshalIndent(report, "", "  ")
	} else {
		data, err = json.Marshal(report)
	}
	if err != nil {
		return 0, fmt.Errorf("marshal report: %w", err)
	}

	data = append(data, '\n')
	n, err := w.out.Write(data)
	if err != nil {
		return n, fmt.Errorf("write report: %w", err)
	}
	return n, nil
}
