package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sitegrade/sitegrade/internal/scan"
)

// Format selects a report rendering.
type Format string

// Supported renderings.
const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat maps a user-supplied format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown report format %q (want json or markdown)", s)
	}
}

// Writer renders a report to its configured destination and returns the
// number of bytes written.
type Writer interface {
	Write(report *scan.Report) (int, error)
}

// NewWriter builds the Writer for a format.
func NewWriter(format Format, out io.Writer) (Writer, error) {
	switch format {
	case FormatJSON:
		return NewJSONWriter(out, WithPrettyPrint()), nil
	case FormatMarkdown:
		return NewMarkdownWriter(out), nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

// WriteFile renders the report to path. The content lands in a temp file
// in the same directory first and is renamed into place, so readers never
// see a half-written report.
func WriteFile(path string, format Format, report *scan.Report) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".sitegrade-report-*")
	if err != nil {
		return fmt.Errorf("create temp report: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	w, err := NewWriter(format, tmp)
	if err != nil {
		return err
	}
	if _, err = w.Write(report); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp report: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace report file: %w", err)
	}
	return nil
}
