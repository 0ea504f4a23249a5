// Package ledger implements the double-entry journal: the chart of
// accounts, journal posting with balance enforcement, and the data-driven
// posting rules that translate business events into debit/credit legs.
package ledger

import (
	"context"
	"fmt"

	"arthakosh/pkg/core/store"
	"arthakosh/pkg/models"
)

// Chart of accounts codes used by the posting rules. The chart is seeded
// once and immutable afterwards.
const (
	AcctBankSavings   = "1101"
	AcctMFEquity      = "1201"
	AcctMFDebt        = "1202"
	AcctIndianStocks  = "1203"
	AcctForeignStocks = "1204"
	AcctRSU           = "1205"
	AcctESPP          = "1206"
	AcctPPF           = "1301"
	AcctEPF           = "1302"
	AcctNPS           = "1303"
	AcctTDSReceivable = "1601"
	AcctLoansPayable  = "2101"
	AcctOpeningEquity = "3101"
	AcctSalaryIncome  = "4101"
	AcctInterestIncome = "4201"
	AcctDividendIncome = "4203"
	AcctSTCG          = "4301"
	AcctLTCG          = "4302"
	AcctBankCharges   = "5101"
	AcctInterestExpense = "5201"
	AcctTaxesPaid     = "5301"
	AcctSuspense      = "1901"
)

type seedAccount struct {
	Code string
	Name string
	Type string
}

var chartOfAccounts = []seedAccount{
	{AcctBankSavings, "Bank Savings", "ASSET"},
	{AcctMFEquity, "Mutual Funds - Equity", "ASSET"},
	{AcctMFDebt, "Mutual Funds - Debt", "ASSET"},
	{AcctIndianStocks, "Indian Stocks", "ASSET"},
	{AcctForeignStocks, "Foreign Stocks", "ASSET"},
	{AcctRSU, "RSU Holdings", "ASSET"},
	{AcctESPP, "ESPP Holdings", "ASSET"},
	{AcctPPF, "PPF Account", "ASSET"},
	{AcctEPF, "EPF Account", "ASSET"},
	{AcctNPS, "NPS Account", "ASSET"},
	{AcctTDSReceivable, "TDS Receivable", "ASSET"},
	{AcctSuspense, "Suspense", "ASSET"},
	{AcctLoansPayable, "Loans Payable", "LIABILITY"},
	{AcctOpeningEquity, "Opening Balance Equity", "EQUITY"},
	{AcctSalaryIncome, "Salary Income", "INCOME"},
	{AcctInterestIncome, "Interest Income", "INCOME"},
	{AcctDividendIncome, "Dividend Income", "INCOME"},
	{AcctSTCG, "Short Term Capital Gains", "INCOME"},
	{AcctLTCG, "Long Term Capital Gains", "INCOME"},
	{AcctBankCharges, "Bank Charges", "EXPENSE"},
	{AcctInterestExpense, "Interest Expense", "EXPENSE"},
	{AcctTaxesPaid, "Taxes Paid", "EXPENSE"},
}

// SeedAccounts inserts the chart of accounts, skipping codes already
// present. Safe to run on every startup.
func SeedAccounts(ctx context.Context, db store.DB) error {
	for _, a := range chartOfAccounts {
		_, err := db.Exec(ctx, `
			INSERT INTO accounts (code, name, type) VALUES ($1, $2, $3)
			ON CONFLICT (code) DO NOTHING`,
			a.Code, a.Name, a.Type)
		if err != nil {
			return fmt.Errorf("seed account %s: %w", a.Code, store.WrapError(err))
		}
	}
	return nil
}

// AccountResolver maps an account code to its row id. The DB-backed resolver
// caches lookups; tests use a plain map.
type AccountResolver interface {
	Resolve(ctx context.Context, code string) (int64, error)
}

// DBAccountResolver resolves codes against the accounts table with a small
// write-once cache (the chart is immutable after seeding).
type DBAccountResolver struct {
	db    store.DB
	cache map[string]int64
}

func NewDBAccountResolver(db store.DB) *DBAccountResolver {
	return &DBAccountResolver{db: db, cache: make(map[string]int64)}
}

func (r *DBAccountResolver) Resolve(ctx context.Context, code string) (int64, error) {
	if id, ok := r.cache[code]; ok {
		return id, nil
	}
	var id int64
	err := r.db.QueryRow(ctx, `SELECT id FROM accounts WHERE code = $1`, code).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("account %s: %w", code, store.WrapError(err))
	}
	r.cache[code] = id
	return id, nil
}

// MapAccountResolver is a fixed in-memory resolver for tests.
type MapAccountResolver map[string]int64

func (m MapAccountResolver) Resolve(_ context.Context, code string) (int64, error) {
	id, ok := m[code]
	if !ok {
		return 0, fmt.Errorf("account %s: %w", code, models.ErrNotFound)
	}
	return id, nil
}

// AssetAccountCode returns the asset account backing a holding type.
func AssetAccountCode(a models.AssetType) string {
	switch a {
	case models.AssetMutualFundEquity:
		return AcctMFEquity
	case models.AssetMutualFundDebt:
		return AcctMFDebt
	case models.AssetIndianStock:
		return AcctIndianStocks
	case models.AssetForeignStock:
		return AcctForeignStocks
	case models.AssetRSU:
		return AcctRSU
	case models.AssetESPP:
		return AcctESPP
	case models.AssetPPF:
		return AcctPPF
	case models.AssetEPF:
		return AcctEPF
	case models.AssetNPS:
		return AcctNPS
	default:
		return AcctSuspense
	}
}
