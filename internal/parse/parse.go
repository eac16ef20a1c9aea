// Package parse decodes raw uploaded bytes to normalized UTF-8 text,
// dispatched by file extension or URL source.
package parse

import (
	"context"
	"fmt"
	"strings"

	"ingestd/internal/kind"
)

// Parser decodes raw bytes (or fetches a URL) into normalized text.
type Parser interface {
	// Parse returns normalized UTF-8 text or a kind.ParseError-kinded error.
	Parse(ctx context.Context, raw []byte, opts Options) (string, error)
}

// Options carries per-request parsing flags.
type Options struct {
	// RichPDF selects the structured-extraction variant for PDF input.
	RichPDF bool
}

// ForExtension returns the Parser registered for a lowercase extension
// without the leading dot ("txt", "md", "pdf", "xlsx", "xls", "csv").
func ForExtension(ext string) (Parser, error) {
	switch strings.ToLower(ext) {
	case "txt", "md":
		return textParser{}, nil
	case "pdf":
		return pdfParser{}, nil
	case "xlsx", "xls":
		return spreadsheetParser{}, nil
	case "csv":
		return csvParser{}, nil
	default:
		return nil, kind.New(kind.Unsupported, "parse.ForExtension", fmt.Errorf("unsupported extension %q", ext))
	}
}

func failEmpty(op string) error {
	return kind.New(kind.ParseError, op, fmt.Errorf("parsed output is empty"))
}

// collapseBlankLines collapses runs of 3+ newlines to exactly two (one blank
// line between paragraphs) and trims trailing whitespace on each line.
func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := 0
	for _, l := range lines {
		trimmed := strings.TrimRight(l, " \t\r")
		if strings.TrimSpace(trimmed) == "" {
			blank++
			if blank <= 1 {
				out = append(out, "")
			}
			continue
		}
		blank = 0
		out = append(out, trimmed)
	}
	return strings.Join(out, "\n")
}
