package parse

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"ingestd/internal/kind"
)

// csvParser applies the same empty-row/column dropping and numeric rounding
// as the spreadsheet parser, serialized tab-separated.
type csvParser struct{}

func (csvParser) Parse(_ context.Context, raw []byte, _ Options) (string, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return "", kind.New(kind.ParseError, "parse.csv", fmt.Errorf("read csv: %w", err))
	}

	grid := dropEmpty(rows)
	if len(grid) == 0 {
		return "", failEmpty("parse.csv")
	}
	var out strings.Builder
	for _, row := range grid {
		out.WriteString(strings.Join(row, "\t"))
		out.WriteString("\n")
	}
	return strings.TrimSpace(out.String()), nil
}
