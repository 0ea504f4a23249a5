package parser

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"arthakosh/pkg/core/money"
	"arthakosh/pkg/models"
)

// Table wraps a raw grid with a header row and fuzzy column lookup, so
// parsers never touch dynamic rows directly.
type Table struct {
	header   []string
	normCols []string
	rows     [][]string
	headerAt int
}

// NewTable builds a Table with the header at the given row index. Rows
// before the header are dropped.
func NewTable(grid [][]string, headerAt int) (*Table, error) {
	if headerAt < 0 || headerAt >= len(grid) {
		return nil, fmt.Errorf("%w: header row %d out of %d rows", models.ErrParse, headerAt, len(grid))
	}
	header := grid[headerAt]
	norm := make([]string, len(header))
	for i, h := range header {
		norm[i] = normalizeColumn(h)
	}
	return &Table{
		header:   header,
		normCols: norm,
		rows:     grid[headerAt+1:],
		headerAt: headerAt,
	}, nil
}

func normalizeColumn(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.rows) }

// Header returns the raw header cells.
func (t *Table) Header() []string { return t.header }

// Row returns the i-th data row. SourceIdx on the row is the original
// 0-based index in the file, stable across re-ingest.
func (t *Table) Row(i int) Row {
	return Row{table: t, idx: i}
}

// HasColumn reports whether any candidate matches a header column.
func (t *Table) HasColumn(candidates ...string) bool {
	return t.columnIndex(candidates...) >= 0
}

// columnIndex finds the best column for a prioritized candidate list:
// exact normalized match wins, then prefix, then substring.
func (t *Table) columnIndex(candidates ...string) int {
	for _, cand := range candidates {
		n := normalizeColumn(cand)
		if n == "" {
			continue
		}
		for i, col := range t.normCols {
			if col == n {
				return i
			}
		}
		for i, col := range t.normCols {
			if strings.HasPrefix(col, n) {
				return i
			}
		}
		for i, col := range t.normCols {
			if strings.Contains(col, n) {
				return i
			}
		}
	}
	return -1
}

// Row is one data row with typed, fuzzy accessors.
type Row struct {
	table *Table
	idx   int
}

// SourceIdx is the 0-based row index in the original file.
func (r Row) SourceIdx() int { return r.table.headerAt + 1 + r.idx }

// Cells returns the raw row.
func (r Row) Cells() []string { return r.table.rows[r.idx] }

// GetByAny returns the first non-empty cell under any candidate column.
func (r Row) GetByAny(candidates ...string) (string, bool) {
	col := r.table.columnIndex(candidates...)
	if col < 0 {
		return "", false
	}
	cells := r.table.rows[r.idx]
	if col >= len(cells) {
		return "", false
	}
	v := strings.TrimSpace(cells[col])
	return v, v != ""
}

// Amount parses a monetary cell; missing column or empty cell is zero.
func (r Row) Amount(candidates ...string) (decimal.Decimal, error) {
	v, ok := r.GetByAny(candidates...)
	if !ok {
		return decimal.Zero, nil
	}
	return money.ParseAmount(v)
}

// Units parses a unit-quantity cell (4 digits).
func (r Row) Units(candidates ...string) (decimal.Decimal, error) {
	v, ok := r.GetByAny(candidates...)
	if !ok {
		return decimal.Zero, nil
	}
	return money.ParseUnits(v)
}

// statement date layouts seen across RTA, broker and bank exports.
var dateLayouts = []string{
	"02-Jan-2006",
	"02-Jan-06",
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"02/01/06",
	"2 Jan 2006",
	"02 Jan 2006",
	"Jan 2, 2006",
	"2006-01-02 15:04:05",
}

// ParseDate parses a statement date cell across the known layouts.
func ParseDate(s string) (time.Time, error) {
	cleaned := strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised date %q", models.ErrParse, s)
}

// Date parses a date cell under any candidate column.
func (r Row) Date(candidates ...string) (time.Time, error) {
	v, ok := r.GetByAny(candidates...)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: no date column among %v", models.ErrParse, candidates)
	}
	return ParseDate(v)
}

// IsEmpty reports whether every cell in the row is blank.
func (r Row) IsEmpty() bool {
	for _, c := range r.table.rows[r.idx] {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// FindHeaderRow scores the first maxScan rows by keyword overlap and
// returns the best-scoring index, or -1 when no row matches at least two
// keywords. Used for bank statements where the header floats.
func FindHeaderRow(grid [][]string, keywords []string, maxScan int) int {
	if maxScan > len(grid) {
		maxScan = len(grid)
	}
	normKeywords := make([]string, 0, len(keywords))
	for _, k := range keywords {
		normKeywords = append(normKeywords, normalizeColumn(k))
	}

	bestIdx, bestScore := -1, 1
	for i := 0; i < maxScan; i++ {
		score := 0
		for _, cell := range grid[i] {
			n := normalizeColumn(cell)
			if n == "" {
				continue
			}
			for _, k := range normKeywords {
				if strings.Contains(n, k) || strings.Contains(k, n) {
					score++
					break
				}
			}
		}
		if score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	return bestIdx
}
