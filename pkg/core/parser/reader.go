package parser

import (
	"context"
	"fmt"
	"strings"

	"arthakosh/pkg/models"
)

// TabularFile is an open spreadsheet-like document: named sheets of raw
// string cells. Implementations: excelize (xlsx), goquery (HTML tables
// masquerading as .xls), stdlib CSV.
type TabularFile interface {
	Sheets() []string
	Rows(sheet string) ([][]string, error)
	Close() error
}

// TabularEngine opens a file into a TabularFile, or fails so the next
// engine in the chain gets a chance.
type TabularEngine interface {
	Name() string
	Open(path string) (TabularFile, error)
}

// OpenTabularFunc is the injected opener parsers receive.
type OpenTabularFunc func(path string) (TabularFile, error)

// ChainOpener builds an opener that tries each engine in order. Indian bank
// ".xls" exports are frequently HTML tables, so the chain typically runs
// excelize then HTML then CSV.
func ChainOpener(engines ...TabularEngine) OpenTabularFunc {
	return func(path string) (TabularFile, error) {
		var errs []string
		for _, e := range engines {
			f, err := e.Open(path)
			if err == nil {
				return f, nil
			}
			errs = append(errs, fmt.Sprintf("%s: %v", e.Name(), err))
		}
		return nil, fmt.Errorf("%w: no engine could open %s (%s)",
			models.ErrParse, path, strings.Join(errs, "; "))
	}
}

// DefaultOpener is the production chain.
func DefaultOpener() OpenTabularFunc {
	return ChainOpener(ExcelizeEngine{}, HTMLTableEngine{}, CSVEngine{})
}

// PdfDoc is an open PDF exposing per-page text. Byte-level extraction is an
// injected dependency; the NSDL parser consumes only this surface.
type PdfDoc interface {
	PageCount() int
	ExtractText(page int) (string, error)
	Close() error
}

// PdfOpener opens a possibly password-protected PDF. Implementations must
// return ErrPasswordRequired / ErrInvalidPassword for the two credential
// failures so the ingester can report them distinctly.
type PdfOpener func(path, password string) (PdfDoc, error)

// MemTabularFile is an in-memory TabularFile for tests and for engines that
// materialise their grid up front.
type MemTabularFile struct {
	SheetOrder []string
	Grids      map[string][][]string
}

func (m *MemTabularFile) Sheets() []string { return m.SheetOrder }

func (m *MemTabularFile) Rows(sheet string) ([][]string, error) {
	grid, ok := m.Grids[sheet]
	if !ok {
		return nil, fmt.Errorf("%w: sheet %q not found", models.ErrParse, sheet)
	}
	return grid, nil
}

func (m *MemTabularFile) Close() error { return nil }

// MemPdf is an in-memory PdfDoc for tests and pre-extracted text.
type MemPdf struct {
	Pages []string
}

func (m *MemPdf) PageCount() int { return len(m.Pages) }

func (m *MemPdf) ExtractText(page int) (string, error) {
	if page < 0 || page >= len(m.Pages) {
		return "", fmt.Errorf("%w: page %d out of range", models.ErrParse, page)
	}
	return m.Pages[page], nil
}

func (m *MemPdf) Close() error { return nil }

// detectSheets opens the file and reports whether any wanted sheet exists.
// Used by parser Detect implementations; errors mean "not ours".
func detectSheets(_ context.Context, open OpenTabularFunc, file string, wanted ...string) bool {
	f, err := open(file)
	if err != nil {
		return false
	}
	defer f.Close()
	for _, s := range f.Sheets() {
		for _, w := range wanted {
			if strings.EqualFold(strings.TrimSpace(s), w) || strings.HasPrefix(strings.ToLower(s), strings.ToLower(w)) {
				return true
			}
		}
	}
	return false
}
