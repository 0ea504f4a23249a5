package parser

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"arthakosh/pkg/models"
)

const karvyHeaderRow = 4

// karvySheetName is spelled as KFintech spells it.
const karvySheetName = "Trasaction_Details"

// KarvyParser reads Karvy/KFintech capital-gains Excel exports. The layout
// resembles the CAMS one but the folio and ISIN ride inside the scheme-name
// cell, in trailing parentheses.
type KarvyParser struct {
	open OpenTabularFunc
}

func NewKarvyParser(open OpenTabularFunc) *KarvyParser {
	return &KarvyParser{open: open}
}

func (p *KarvyParser) Source() models.Source { return models.SourceKarvy }

func (p *KarvyParser) Detect(ctx context.Context, file string) bool {
	return detectSheets(ctx, p.open, file, karvySheetName)
}

func (p *KarvyParser) Parse(ctx context.Context, file, _ string) (*ParseResult, error) {
	res := &ParseResult{Success: true, SourceFile: file, Parser: p.Source()}

	f, err := p.open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	grid, err := rtaSheet(f, []string{karvySheetName})
	if err != nil {
		res.failf("%v", err)
		return res, nil
	}
	table, err := NewTable(grid, karvyHeaderRow)
	if err != nil {
		res.failf("%v", err)
		return res, nil
	}

	for i := 0; i < table.Len(); i++ {
		row := table.Row(i)
		if row.IsEmpty() {
			continue
		}
		txn, err := karvyRow(row)
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

func karvyRow(row Row) (*Transaction, error) {
	date, err := row.Date("Date", "Transaction Date", "Trade Date")
	if err != nil {
		return nil, err
	}
	rawScheme, _ := row.GetByAny("Fund Description", "Scheme Name", "Scheme")
	if rawScheme == "" {
		return nil, fmt.Errorf("%w: missing scheme name", models.ErrParse)
	}
	scheme, folio, isin := splitKarvyScheme(rawScheme)
	if folio == "" {
		folio, _ = row.GetByAny("Folio No", "Folio")
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
	assetClass, _ := row.GetByAny("Asset Class", "Asset Type")

	txn := &Transaction{
		AssetType:   mfAssetClass(assetClass, scheme),
		TxnType:     ClassifyByUnitsAndDesc(units, desc),
		Date:        date,
		Scheme:      scheme,
		Folio:       folio,
		ISIN:        isin,
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

var karvyTrailerRe = regexp.MustCompile(`\(([^()]*)\)\s*$`)

// splitKarvyScheme peels the trailing "(folio / ISIN)" off a KFintech
// scheme-name cell. Either part may be absent; the ISIN is recognised by its
// IN prefix.
func splitKarvyScheme(raw string) (scheme, folio, isin string) {
	scheme = strings.TrimSpace(raw)
	m := karvyTrailerRe.FindStringSubmatchIndex(scheme)
	if m == nil {
		return scheme, "", ""
	}
	trailer := scheme[m[2]:m[3]]
	for _, part := range strings.Split(trailer, "/") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if len(part) == 12 && strings.HasPrefix(part, "IN") {
			isin = part
		} else if folio == "" {
			folio = part
		}
	}
	if folio == "" && isin == "" {
		return scheme, "", ""
	}
	scheme = strings.TrimSpace(scheme[:m[0]])
	return scheme, folio, isin
}
