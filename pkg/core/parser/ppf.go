package parser

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"arthakosh/pkg/models"
)

var ppfHeaderKeywords = []string{"Date", "Deposit", "Withdrawal", "Interest", "Balance", "Particulars", "Description"}

// PPFParser reads PPF passbook exports. The account number usually sits in
// the preamble above the floating header row.
type PPFParser struct {
	open OpenTabularFunc
}

func NewPPFParser(open OpenTabularFunc) *PPFParser {
	return &PPFParser{open: open}
}

func (p *PPFParser) Source() models.Source { return models.SourcePPF }

func (p *PPFParser) Detect(ctx context.Context, file string) bool {
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
			lower := strings.ToLower(cell)
			if strings.Contains(lower, "ppf") || strings.Contains(lower, "public provident fund") {
				return true
			}
		}
	}
	return false
}

func (p *PPFParser) Parse(ctx context.Context, file, _ string) (*ParseResult, error) {
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
	headerAt := FindHeaderRow(grid, ppfHeaderKeywords, 20)
	if headerAt < 0 {
		res.failf("no passbook header row found")
		return res, nil
	}
	table, err := NewTable(grid, headerAt)
	if err != nil {
		res.failf("%v", err)
		return res, nil
	}

	account := ppfAccountNumber(grid[:headerAt])

	for i := 0; i < table.Len(); i++ {
		row := table.Row(i)
		if row.IsEmpty() {
			continue
		}
		txn, err := ppfRow(row, account)
		if err != nil {
			res.warnf("row %d: %v", row.SourceIdx(), err)
			continue
		}
		if txn != nil {
			res.Transactions = append(res.Transactions, *txn)
		}
	}
	if len(res.Transactions) == 0 {
		res.failf("no passbook entries found")
	}
	return res, nil
}

// ppfAccountNumber scans preamble rows for an "Account ...: <number>" cell
// pair or a single cell with the number after a colon.
func ppfAccountNumber(preamble [][]string) string {
	for _, row := range preamble {
		for i, cell := range row {
			lower := strings.ToLower(cell)
			if !strings.Contains(lower, "account") {
				continue
			}
			if _, after, found := strings.Cut(cell, ":"); found {
				if v := strings.TrimSpace(after); v != "" {
					return v
				}
			}
			if i+1 < len(row) {
				if v := strings.TrimSpace(row[i+1]); v != "" {
					return v
				}
			}
		}
	}
	return ""
}

func ppfRow(row Row, account string) (*Transaction, error) {
	date, err := row.Date("Date", "Txn Date", "Transaction Date")
	if err != nil {
		return nil, err
	}
	desc, _ := row.GetByAny("Particulars", "Description", "Narration", "Remarks")
	deposit, err := row.Amount("Deposit", "Credit", "Deposit Amount")
	if err != nil {
		return nil, err
	}
	withdrawal, err := row.Amount("Withdrawal", "Debit", "Withdrawal Amount")
	if err != nil {
		return nil, err
	}

	var (
		amount  decimal.Decimal
		txnType models.TxnType
	)
	lower := strings.ToLower(desc)
	switch {
	case strings.Contains(lower, "interest"):
		txnType = models.TxnInterest
		amount = deposit
	case deposit.IsPositive():
		txnType = models.TxnContribution
		amount = deposit
	case withdrawal.IsPositive():
		txnType = models.TxnWithdrawal
		amount = withdrawal
	default:
		return nil, nil
	}

	txn := &Transaction{
		AssetType:     models.AssetPPF,
		TxnType:       txnType,
		Date:          date,
		AccountNumber: account,
		Description:   desc,
		Amount:        amount,
		RowIdx:        row.SourceIdx(),
	}
	if bal, err := row.Amount("Balance", "Closing Balance"); err == nil && !bal.IsZero() {
		txn.BalanceAfter = &bal
	}
	return txn, nil
}
