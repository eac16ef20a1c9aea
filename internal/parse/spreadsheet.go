package parse

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"ingestd/internal/kind"
)

// spreadsheetParser handles xlsx/xls: drop fully empty rows and columns,
// round numeric cells to 2 decimals, serialize tab-separated.
type spreadsheetParser struct{}

func (spreadsheetParser) Parse(_ context.Context, raw []byte, _ Options) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return "", kind.New(kind.ParseError, "parse.spreadsheet", fmt.Errorf("open workbook: %w", err))
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", failEmpty("parse.spreadsheet")
	}

	var out strings.Builder
	wrote := false
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		grid := dropEmpty(rows)
		for _, row := range grid {
			out.WriteString(strings.Join(row, "\t"))
			out.WriteString("\n")
			wrote = true
		}
	}
	if !wrote {
		return "", failEmpty("parse.spreadsheet")
	}
	return strings.TrimSpace(out.String()), nil
}

// dropEmpty removes rows and columns that are empty across the whole grid,
// and rounds any cell that parses as a float to 2 decimal places.
func dropEmpty(rows [][]string) [][]string {
	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	colHasData := make([]bool, width)
	norm := make([][]string, len(rows))
	for i, r := range rows {
		row := make([]string, width)
		for j := 0; j < width; j++ {
			var cell string
			if j < len(r) {
				cell = roundIfNumeric(r[j])
			}
			row[j] = cell
			if strings.TrimSpace(cell) != "" {
				colHasData[j] = true
			}
		}
		norm[i] = row
	}

	var out [][]string
	for _, row := range norm {
		empty := true
		for _, c := range row {
			if strings.TrimSpace(c) != "" {
				empty = false
				break
			}
		}
		if empty {
			continue
		}
		var kept []string
		for j, c := range row {
			if colHasData[j] {
				kept = append(kept, c)
			}
		}
		out = append(out, kept)
	}
	return out
}

func roundIfNumeric(s string) string {
	t := strings.TrimSpace(s)
	if t == "" {
		return ""
	}
	f, err := strconv.ParseFloat(t, 64)
	if err != nil {
		return s
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}
