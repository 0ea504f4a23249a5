package parser

import (
	"context"
	"strings"

	"arthakosh/pkg/models"
)

const iciciHeaderRow = 3

const (
	iciciShortTermMarker = "Short Term Capital Gain (STT paid)"
	iciciLongTermMarker  = "Long Term Capital Gain (STT paid)"
)

// ICICIParser reads ICICI Direct capital-gains CSV exports. Rows sit under
// section markers that decide whether the broker reports the gain as short
// or long term; that classification is carried as a cross-check field only.
type ICICIParser struct {
	open OpenTabularFunc
}

func NewICICIParser(open OpenTabularFunc) *ICICIParser {
	return &ICICIParser{open: open}
}

func (p *ICICIParser) Source() models.Source { return models.SourceICICI }

func (p *ICICIParser) Detect(ctx context.Context, file string) bool {
	f, err := p.open(file)
	if err != nil {
		return false
	}
	defer f.Close()
	grid, err := firstSheet(f)
	if err != nil {
		return false
	}
	limit := min(len(grid), 20)
	for _, row := range grid[:limit] {
		for _, cell := range row {
			if strings.Contains(cell, "Capital Gain (STT paid)") {
				return true
			}
		}
	}
	return false
}

func (p *ICICIParser) Parse(ctx context.Context, file, _ string) (*ParseResult, error) {
	res := &ParseResult{Success: true, SourceFile: file, Parser: p.Source()}

	f, err := p.open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	grid, err := firstSheet(f)
	if err != nil {
		res.failf("%v", err)
		return res, nil
	}
	table, err := NewTable(grid, iciciHeaderRow)
	if err != nil {
		res.failf("%v", err)
		return res, nil
	}

	section := "short"
	for i := 0; i < table.Len(); i++ {
		row := table.Row(i)
		if marker := sectionMarker(row.Cells()); marker != "" {
			section = marker
			continue
		}
		if row.IsEmpty() {
			continue
		}
		txn, err := iciciRow(row, section)
		if err != nil {
			res.warnf("row %d: %v", row.SourceIdx(), err)
			continue
		}
		if txn != nil {
			res.Transactions = append(res.Transactions, *txn)
		}
	}
	if len(res.Transactions) == 0 && len(res.Warnings) > 0 {
		res.failf("no parseable rows in %d warnings", len(res.Warnings))
	}
	return res, nil
}

func sectionMarker(cells []string) string {
	for _, c := range cells {
		switch {
		case strings.Contains(c, iciciShortTermMarker):
			return "short"
		case strings.Contains(c, iciciLongTermMarker):
			return "long"
		}
	}
	return ""
}

func iciciRow(row Row, section string) (*Transaction, error) {
	symbol, ok := row.GetByAny("Stock Symbol", "Symbol", "Stock")
	if !ok {
		return nil, nil
	}
	saleDate, err := row.Date("Sale Date", "Sell Date")
	if err != nil {
		return nil, err
	}
	qty, err := row.Units("Quantity", "Qty")
	if err != nil {
		return nil, err
	}
	saleValue, err := row.Amount("Sale Value", "Sale Amount")
	if err != nil {
		return nil, err
	}
	purchaseValue, err := row.Amount("Purchase Value", "Purchase Amount")
	if err != nil {
		return nil, err
	}
	profit, err := row.Amount("Profit/Loss", "Profit / Loss", "Gain")
	if err != nil {
		return nil, err
	}

	txn := &Transaction{
		AssetType: models.AssetIndianStock,
		TxnType:   models.TxnSell,
		Date:      saleDate,
		Symbol:    symbol,
		Units:     qty,
		Amount:    saleValue,
		Segment:   "delivery",
		RowIdx:    row.SourceIdx(),
	}
	if purchaseDate, err := row.Date("Purchase Date", "Buy Date"); err == nil {
		txn.PurchaseDate = &purchaseDate
	}
	if !purchaseValue.IsZero() {
		txn.BrokerCost = &purchaseValue
	}
	if section == "long" {
		txn.BrokerLTCG = &profit
	} else {
		txn.BrokerSTCG = &profit
	}
	return txn, nil
}

func firstSheet(f TabularFile) ([][]string, error) {
	sheets := f.Sheets()
	if len(sheets) == 0 {
		return nil, models.ErrParse
	}
	return f.Rows(sheets[0])
}
