package parser

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"arthakosh/pkg/models"
)

// bankHeaderKeywords locate the floating header row in bank statements.
// User-supplied additions extend, never replace, this set.
var bankHeaderKeywords = []string{"Remark", "Narration", "Withdrawal", "Deposit", "Date", "Balance"}

// BankParser reads savings-account statements across banks. Every bank lays
// the sheet out differently, so both the header row and the columns are
// discovered fuzzily rather than assumed.
type BankParser struct {
	open          OpenTabularFunc
	extraKeywords []string
}

func NewBankParser(open OpenTabularFunc, extraKeywords []string) *BankParser {
	return &BankParser{open: open, extraKeywords: extraKeywords}
}

func (p *BankParser) Source() models.Source { return models.SourceBank }

func (p *BankParser) keywords() []string {
	return append(append([]string{}, bankHeaderKeywords...), p.extraKeywords...)
}

func (p *BankParser) Detect(ctx context.Context, file string) bool {
	f, err := p.open(file)
	if err != nil {
		return false
	}
	defer f.Close()
	_, table, err := p.findStatement(f)
	return err == nil && table != nil
}

func (p *BankParser) Parse(ctx context.Context, file, _ string) (*ParseResult, error) {
	res := &ParseResult{Success: true, SourceFile: file, Parser: p.Source()}

	f, err := p.open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	_, table, err := p.findStatement(f)
	if err != nil {
		res.failf("no statement sheet with recognisable columns")
		return res, nil
	}

	for i := 0; i < table.Len(); i++ {
		row := table.Row(i)
		if row.IsEmpty() {
			continue
		}
		txn, err := bankRow(row)
		if err != nil {
			res.warnf("row %d: %v", row.SourceIdx(), err)
			continue
		}
		if txn != nil {
			res.Transactions = append(res.Transactions, *txn)
		}
	}
	if len(res.Transactions) == 0 {
		res.failf("no statement entries found")
	}
	return res, nil
}

// findStatement scans every sheet for a header row that carries both a
// narration-like and a debit/credit-like column. The two requirements keep
// the parser from claiming broker or RTA files that merely mention dates.
func (p *BankParser) findStatement(f TabularFile) (string, *Table, error) {
	keywords := p.keywords()
	for _, sheet := range f.Sheets() {
		grid, err := f.Rows(sheet)
		if err != nil {
			continue
		}
		headerAt := FindHeaderRow(grid, keywords, 20)
		if headerAt < 0 {
			continue
		}
		table, err := NewTable(grid, headerAt)
		if err != nil {
			continue
		}
		hasNarration := table.HasColumn("Narration", "Remark", "Remarks", "Description", "Particulars", "Transaction Remarks")
		hasMovement := table.HasColumn("Withdrawal", "Deposit", "Debit", "Credit")
		if hasNarration && hasMovement && table.HasColumn("Date") {
			return sheet, table, nil
		}
	}
	return "", nil, models.ErrParse
}

func bankRow(row Row) (*Transaction, error) {
	date, err := row.Date("Txn Date", "Transaction Date", "Value Date", "Date")
	if err != nil {
		return nil, err
	}
	desc, _ := row.GetByAny("Narration", "Remark", "Remarks", "Transaction Remarks", "Description", "Particulars")
	withdrawal, err := row.Amount("Withdrawal Amt", "Withdrawal Amount", "Withdrawal", "Debit")
	if err != nil {
		return nil, err
	}
	deposit, err := row.Amount("Deposit Amt", "Deposit Amount", "Deposit", "Credit")
	if err != nil {
		return nil, err
	}
	if withdrawal.IsZero() && deposit.IsZero() {
		return nil, nil
	}
	amount := deposit.Sub(withdrawal)

	txn := &Transaction{
		AssetType:   models.AssetBank,
		TxnType:     bankTxnType(desc, amount),
		Date:        date,
		Description: desc,
		Amount:      amount,
		RowIdx:      row.SourceIdx(),
	}
	if bal, err := row.Amount("Closing Balance", "Balance"); err == nil && !bal.IsZero() {
		txn.BalanceAfter = &bal
	}
	return txn, nil
}

func bankTxnType(desc string, amount decimal.Decimal) models.TxnType {
	lower := strings.ToLower(desc)
	switch {
	case strings.Contains(lower, "interest") && amount.IsPositive():
		return models.TxnInterest
	case strings.Contains(lower, "chrg"), strings.Contains(lower, "charge"),
		strings.Contains(lower, "fee"), strings.Contains(lower, "gst"):
		return models.TxnCharge
	case strings.Contains(lower, "salary") && amount.IsPositive():
		return models.TxnContribution
	case strings.Contains(lower, "tds"):
		return models.TxnTax
	default:
		return models.TxnMisc
	}
}

// BankRowHash is the natural key for a bank row. Statements carry no
// transaction ids, so identity is the tuple itself.
func BankRowHash(userID int64, bank string, date, rawDescription, amount string) string {
	h := sha256.New()
	for _, part := range []string{
		strconv.FormatInt(userID, 10), bank, date, rawDescription, amount,
	} {
		h.Write([]byte(part))
		h.Write([]byte{'|'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
