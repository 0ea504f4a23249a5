package parser

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/xuri/excelize/v2"

	"arthakosh/pkg/models"
)

// ExcelizeEngine reads real xlsx workbooks.
type ExcelizeEngine struct{}

func (ExcelizeEngine) Name() string { return "excelize" }

func (ExcelizeEngine) Open(path string) (TabularFile, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrParse, err)
	}
	return &excelizeFile{f: f}, nil
}

type excelizeFile struct {
	f *excelize.File
}

func (x *excelizeFile) Sheets() []string { return x.f.GetSheetList() }

func (x *excelizeFile) Rows(sheet string) ([][]string, error) {
	rows, err := x.f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: sheet %q: %v", models.ErrParse, sheet, err)
	}
	return rows, nil
}

func (x *excelizeFile) Close() error { return x.f.Close() }

// HTMLTableEngine reads files that claim to be .xls but are HTML tables,
// a common shape for Indian bank statement exports. Each <table> becomes a
// sheet named Table1, Table2, ...
type HTMLTableEngine struct{}

func (HTMLTableEngine) Name() string { return "html-table" }

func (HTMLTableEngine) Open(path string) (TabularFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrParse, err)
	}
	head := strings.ToLower(string(raw[:min(len(raw), 512)]))
	if !strings.Contains(head, "<table") && !strings.Contains(head, "<html") {
		return nil, fmt.Errorf("%w: not an HTML document", models.ErrParse)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrParse, err)
	}

	mem := &MemTabularFile{Grids: make(map[string][][]string)}
	doc.Find("table").Each(func(i int, table *goquery.Selection) {
		var grid [][]string
		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			var row []string
			tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
				row = append(row, strings.TrimSpace(cell.Text()))
			})
			grid = append(grid, row)
		})
		name := fmt.Sprintf("Table%d", i+1)
		mem.SheetOrder = append(mem.SheetOrder, name)
		mem.Grids[name] = grid
	})
	if len(mem.SheetOrder) == 0 {
		return nil, fmt.Errorf("%w: no tables in document", models.ErrParse)
	}
	return mem, nil
}

// CSVEngine reads a CSV file as a single sheet named "Sheet1". Ragged rows
// are allowed; statements pad section markers unevenly.
type CSVEngine struct{}

func (CSVEngine) Name() string { return "csv" }

func (CSVEngine) Open(path string) (TabularFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrParse, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrParse, err)
	}
	return &MemTabularFile{
		SheetOrder: []string{"Sheet1"},
		Grids:      map[string][][]string{"Sheet1": records},
	}, nil
}
