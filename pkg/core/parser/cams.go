package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"arthakosh/pkg/core/money"
	"arthakosh/pkg/models"
)

const camsHeaderRow = 3

// camsSheetNames in preference order; newer exports use TRXN_DETAILS.
var camsSheetNames = []string{"TRXN_DETAILS", "Transaction_Details"}

// CAMSParser reads CAMS capital-gains Excel exports. Besides the raw
// transactions it carries the RTA's own cost and grandfathering columns as
// cross-check fields.
type CAMSParser struct {
	open OpenTabularFunc
}

func NewCAMSParser(open OpenTabularFunc) *CAMSParser {
	return &CAMSParser{open: open}
}

func (p *CAMSParser) Source() models.Source { return models.SourceCAMS }

func (p *CAMSParser) Detect(ctx context.Context, file string) bool {
	return detectSheets(ctx, p.open, file, camsSheetNames...)
}

func (p *CAMSParser) Parse(ctx context.Context, file, _ string) (*ParseResult, error) {
	res := &ParseResult{Success: true, SourceFile: file, Parser: p.Source()}

	f, err := p.open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	grid, err := rtaSheet(f, camsSheetNames)
	if err != nil {
		res.failf("%v", err)
		return res, nil
	}
	table, err := NewTable(grid, camsHeaderRow)
	if err != nil {
		res.failf("%v", err)
		return res, nil
	}

	for i := 0; i < table.Len(); i++ {
		row := table.Row(i)
		if row.IsEmpty() {
			continue
		}
		txn, err := camsRow(row)
		if err != nil {
			res.warnf("row %d: %v", row.SourceIdx(), err)
			continue
		}
		res.Transactions = append(res.Transactions, *txn)
	}
	if len(res.Transactions) == 0 && len(res.Warnings) > 0 {
		res.failf("no parseable rows in %d warnings", len(res.Warnings))
	}
	return res, nil
}

func camsRow(row Row) (*Transaction, error) {
	date, err := row.Date("Date", "Transaction Date")
	if err != nil {
		return nil, err
	}
	scheme, _ := row.GetByAny("Scheme Name", "Scheme")
	if scheme == "" {
		return nil, fmt.Errorf("%w: missing scheme name", models.ErrParse)
	}
	units, err := row.Units("Units")
	if err != nil {
		return nil, err
	}
	amount, err := row.Amount("Amount")
	if err != nil {
		return nil, err
	}
	price, err := row.Units("Price", "NAV")
	if err != nil {
		return nil, err
	}
	stt, err := row.Amount("STT")
	if err != nil {
		return nil, err
	}
	desc, _ := row.GetByAny("Desc", "Description", "Transaction Type")
	folio, _ := row.GetByAny("Folio No", "Folio Number", "Folio")
	assetClass, _ := row.GetByAny("Asset Class", "Asset Type")

	txn := &Transaction{
		AssetType:   mfAssetClass(assetClass, scheme),
		TxnType:     ClassifyByUnitsAndDesc(units, desc),
		Date:        date,
		Scheme:      scheme,
		Folio:       folio,
		Description: desc,
		Units:       units,
		Amount:      amount,
		Price:       price,
		STT:         stt,
		RowIdx:      row.SourceIdx(),
	}
	camsRedemptionFields(row, txn)
	return txn, nil
}

// camsRedemptionFields fills the RTA's cross-check columns on redemption
// rows. Absent columns are left nil.
func camsRedemptionFields(row Row, txn *Transaction) {
	if v, ok := row.GetByAny("Date_1", "Date.1", "Purchase Date"); ok {
		if d, err := ParseDate(v); err == nil {
			txn.PurchaseDate = &d
		}
	}
	setOptAmount := func(dst **decimal.Decimal, candidates ...string) {
		if v, ok := row.GetByAny(candidates...); ok {
			if amt, err := parseOptionalAmount(v); err == nil {
				*dst = amt
			}
		}
	}
	setOptAmount(&txn.BrokerCost, "Original Purchase Cost", "Unit Cost")
	setOptAmount(&txn.BrokerSTCG, "Short Term")
	setOptAmount(&txn.BrokerLTCG, "Long Term Without Index", "Long Term")
	setOptAmount(&txn.GrandfatheredNAV, "Grandfathered NAV")
}

func parseOptionalAmount(v string) (*decimal.Decimal, error) {
	amt, err := money.ParseAmount(v)
	if err != nil {
		return nil, err
	}
	return &amt, nil
}

// mfAssetClass maps an RTA asset-class cell (or scheme name keywords) to
// equity vs. debt mutual fund.
func mfAssetClass(assetClass, scheme string) models.AssetType {
	probe := strings.ToLower(assetClass)
	if probe == "" {
		probe = strings.ToLower(scheme)
	}
	switch {
	case strings.Contains(probe, "debt"),
		strings.Contains(probe, "liquid"),
		strings.Contains(probe, "gilt"),
		strings.Contains(probe, "overnight"),
		strings.Contains(probe, "income"),
		strings.Contains(probe, "bond"):
		return models.AssetMutualFundDebt
	default:
		return models.AssetMutualFundEquity
	}
}

// rtaSheet finds the transactions sheet by name, falling back to the second
// sheet of the workbook.
func rtaSheet(f TabularFile, names []string) ([][]string, error) {
	sheets := f.Sheets()
	for _, want := range names {
		for _, s := range sheets {
			if strings.EqualFold(strings.TrimSpace(s), want) {
				return f.Rows(s)
			}
		}
	}
	if len(sheets) >= 2 {
		return f.Rows(sheets[1])
	}
	return nil, fmt.Errorf("%w: no transaction sheet among %v", models.ErrParse, sheets)
}
