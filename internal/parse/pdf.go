package parse

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dslipak/pdf"

	"ingestd/internal/kind"
)

// pdfParser extracts text per page and normalizes whitespace per the rules
// in the parser set: collapse blank-line runs, collapse in-line whitespace
// runs, and join soft-wrapped sentences across page boundaries.
type pdfParser struct{}

var multiSpace = regexp.MustCompile(`[ \t]{2,}`)

// sentenceEnd reports whether s ends in sentence punctuation, ignoring
// trailing whitespace.
func sentenceEnd(s string) bool {
	s = strings.TrimRight(s, " \t")
	if s == "" {
		return true
	}
	last := s[len(s)-1]
	return last == '.' || last == '!' || last == '?'
}

func (pdfParser) Parse(_ context.Context, raw []byte, opts Options) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", kind.New(kind.ParseError, "parse.pdf", fmt.Errorf("open pdf: %w", err))
	}

	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		pg := r.Page(i)
		if pg.V.IsNull() {
			continue
		}
		var text string
		var terr error
		if opts.RichPDF {
			text, terr = richPageText(pg)
		} else {
			text, terr = pg.GetPlainText(nil)
		}
		if terr != nil {
			continue
		}
		pages = append(pages, text)
	}

	joined := strings.Join(pages, "\n")
	normalized := normalizePDFText(joined)
	if strings.TrimSpace(normalized) == "" {
		return "", failEmpty("parse.pdf")
	}
	return normalized, nil
}

// richPageText is the structured-extraction variant: same page text but
// keeping row-level layout hints (dslipak/pdf's Rows helper) so tables read
// less garbled. Falls back to plain text on any row extraction error.
func richPageText(pg pdf.Page) (string, error) {
	rows, err := pg.GetTextByRow()
	if err != nil {
		return pg.GetPlainText(nil)
	}
	var b strings.Builder
	for _, row := range rows {
		for i, w := range row.Content {
			if i > 0 {
				b.WriteString(" ")
			}
			b.WriteString(w.S)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

// normalizePDFText applies the normalization rules from the parser spec:
// collapse inline whitespace runs, join soft-wrapped lines, collapse blank
// line runs, preserve paragraph breaks.
func normalizePDFText(s string) string {
	lines := strings.Split(s, "\n")
	var joined []string
	var buf strings.Builder
	flush := func() {
		if buf.Len() > 0 {
			joined = append(joined, buf.String())
			buf.Reset()
		}
	}
	for _, raw := range lines {
		line := multiSpace.ReplaceAllString(strings.TrimRight(raw, " \t\r"), " ")
		if strings.TrimSpace(line) == "" {
			flush()
			joined = append(joined, "")
			continue
		}
		if buf.Len() == 0 {
			buf.WriteString(line)
			continue
		}
		if sentenceEnd(buf.String()) {
			flush()
			buf.WriteString(line)
		} else {
			buf.WriteString(" ")
			buf.WriteString(strings.TrimSpace(line))
		}
	}
	flush()
	return collapseBlankLines(strings.Join(joined, "\n"))
}
