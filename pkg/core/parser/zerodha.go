package parser

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"arthakosh/pkg/models"
)

const (
	zerodhaExitsPrefix    = "Tradewise Exits from"
	zerodhaOldExitsSheet  = "TRADEWISE"
	zerodhaSpeculative    = "SPECULATIVE"
	zerodhaDividendsSheet = "Equity Dividends"
	zerodhaHeaderRow      = 14
)

// ZerodhaParser reads Zerodha Tax P&L workbooks. Exits become delivery
// sells carrying the broker's own buy value and gain split as cross-check
// fields; SPECULATIVE rows become intraday sells; the dividends sheet
// becomes events.
type ZerodhaParser struct {
	open OpenTabularFunc
}

func NewZerodhaParser(open OpenTabularFunc) *ZerodhaParser {
	return &ZerodhaParser{open: open}
}

func (p *ZerodhaParser) Source() models.Source { return models.SourceZerodha }

func (p *ZerodhaParser) Detect(ctx context.Context, file string) bool {
	return detectSheets(ctx, p.open, file, zerodhaExitsPrefix, zerodhaOldExitsSheet)
}

func (p *ZerodhaParser) Parse(ctx context.Context, file, _ string) (*ParseResult, error) {
	res := &ParseResult{Success: true, SourceFile: file, Parser: p.Source()}

	f, err := p.open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	for _, sheet := range f.Sheets() {
		name := strings.TrimSpace(sheet)
		switch {
		case strings.HasPrefix(name, zerodhaExitsPrefix):
			p.parseExits(f, sheet, zerodhaHeaderRow, "delivery", res)
		case strings.EqualFold(name, zerodhaOldExitsSheet):
			p.parseExits(f, sheet, -1, "delivery", res)
		case strings.EqualFold(name, zerodhaSpeculative):
			p.parseExits(f, sheet, -1, "intraday", res)
		case strings.EqualFold(name, zerodhaDividendsSheet):
			p.parseDividends(f, sheet, res)
		}
	}
	if len(res.Transactions) == 0 && len(res.Events) == 0 {
		res.failf("no tradewise or dividend sheets recognised")
	}
	return res, nil
}

var zerodhaHeaderKeywords = []string{"Symbol", "ISIN", "Quantity", "Buy Value", "Sell Value"}

func (p *ZerodhaParser) parseExits(f TabularFile, sheet string, headerAt int, segment string, res *ParseResult) {
	grid, err := f.Rows(sheet)
	if err != nil {
		res.warnf("sheet %q: %v", sheet, err)
		return
	}
	if headerAt < 0 {
		headerAt = FindHeaderRow(grid, zerodhaHeaderKeywords, 20)
		if headerAt < 0 {
			res.warnf("sheet %q: no header row found", sheet)
			return
		}
	}
	table, err := NewTable(grid, headerAt)
	if err != nil {
		res.warnf("sheet %q: %v", sheet, err)
		return
	}

	for i := 0; i < table.Len(); i++ {
		row := table.Row(i)
		if row.IsEmpty() {
			continue
		}
		txn, err := zerodhaExitRow(row, segment)
		if err != nil {
			res.warnf("sheet %q row %d: %v", sheet, row.SourceIdx(), err)
			continue
		}
		if txn != nil {
			res.Transactions = append(res.Transactions, *txn)
		}
	}
}

func zerodhaExitRow(row Row, segment string) (*Transaction, error) {
	symbol, ok := row.GetByAny("Symbol", "Scrip")
	if !ok {
		return nil, nil
	}
	isin, _ := row.GetByAny("ISIN")
	// Subtotal and note rows carry no real ISIN.
	if isin != "" && !strings.HasPrefix(isin, "INE") && !strings.HasPrefix(isin, "INF") {
		return nil, nil
	}

	exitDate, err := row.Date("Exit Date", "Sell Date")
	if err != nil {
		return nil, err
	}
	qty, err := row.Units("Quantity", "Qty")
	if err != nil {
		return nil, err
	}
	sellValue, err := row.Amount("Sell Value", "Sale Value")
	if err != nil {
		return nil, err
	}
	buyValue, err := row.Amount("Buy Value", "Purchase Value")
	if err != nil {
		return nil, err
	}
	profit, err := row.Amount("Profit", "Realized P&L", "Realised P&L")
	if err != nil {
		return nil, err
	}

	txn := &Transaction{
		AssetType: models.AssetIndianStock,
		TxnType:   models.TxnSell,
		Date:      exitDate,
		Symbol:    symbol,
		ISIN:      isin,
		Units:     qty,
		Amount:    sellValue,
		Segment:   segment,
		RowIdx:    row.SourceIdx(),
	}
	if entry, err := row.Date("Entry Date", "Buy Date"); err == nil {
		txn.PurchaseDate = &entry
	}
	if !buyValue.IsZero() {
		txn.BrokerCost = &buyValue
	}
	if holdingDays, ok := row.GetByAny("Period of Holding", "Holding Period"); ok {
		if days, err := row.Units("Period of Holding", "Holding Period"); err == nil && holdingDays != "" {
			if days.IntPart() > 365 {
				txn.BrokerLTCG = &profit
			} else {
				txn.BrokerSTCG = &profit
			}
		}
	} else if segment == "delivery" {
		txn.BrokerSTCG = &profit
	}
	return txn, nil
}

func (p *ZerodhaParser) parseDividends(f TabularFile, sheet string, res *ParseResult) {
	grid, err := f.Rows(sheet)
	if err != nil {
		res.warnf("sheet %q: %v", sheet, err)
		return
	}
	headerAt := zerodhaHeaderRow
	if headerAt >= len(grid) {
		headerAt = FindHeaderRow(grid, []string{"Symbol", "Date", "Dividend"}, 20)
	}
	if headerAt < 0 {
		res.warnf("sheet %q: no header row found", sheet)
		return
	}
	table, err := NewTable(grid, headerAt)
	if err != nil {
		res.warnf("sheet %q: %v", sheet, err)
		return
	}

	for i := 0; i < table.Len(); i++ {
		row := table.Row(i)
		if row.IsEmpty() {
			continue
		}
		symbol, ok := row.GetByAny("Symbol", "Scrip")
		if !ok {
			continue
		}
		date, err := row.Date("Date", "Dividend Date", "Ex Date")
		if err != nil {
			res.warnf("sheet %q row %d: %v", sheet, row.SourceIdx(), err)
			continue
		}
		amount, err := row.Amount("Net Dividend Amount", "Dividend Amount", "Amount")
		if err != nil {
			res.warnf("sheet %q row %d: %v", sheet, row.SourceIdx(), err)
			continue
		}
		if amount.Equal(decimal.Zero) {
			continue
		}
		res.Events = append(res.Events, Event{
			Kind:   "dividend",
			Date:   date,
			Symbol: symbol,
			Amount: amount,
			RowIdx: row.SourceIdx(),
		})
	}
}
