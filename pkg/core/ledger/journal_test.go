package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arthakosh/pkg/models"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func entry(account int64, debit, credit string) models.JournalEntry {
	return models.JournalEntry{AccountID: account, Debit: d(debit), Credit: d(credit)}
}

func TestValidateEntriesBalanced(t *testing.T) {
	err := ValidateEntries([]models.JournalEntry{
		entry(1, "5000.00", "0"),
		entry(2, "0", "5000.00"),
	})
	assert.NoError(t, err)
}

func TestValidateEntriesWithinTolerance(t *testing.T) {
	err := ValidateEntries([]models.JournalEntry{
		entry(1, "5000.00", "0"),
		entry(2, "0", "5000.01"),
	})
	assert.NoError(t, err)
}

func TestValidateEntriesUnbalanced(t *testing.T) {
	err := ValidateEntries([]models.JournalEntry{
		entry(1, "5000.00", "0"),
		entry(2, "0", "4000.00"),
	})
	assert.ErrorIs(t, err, models.ErrUnbalancedJournal)
}

func TestValidateEntriesBothSidesSet(t *testing.T) {
	err := ValidateEntries([]models.JournalEntry{
		entry(1, "100.00", "100.00"),
		entry(2, "0", "0"),
	})
	assert.ErrorIs(t, err, models.ErrUnbalancedJournal)
}

func TestValidateEntriesAllZero(t *testing.T) {
	// Sum of zero means nothing to post; the call is rejected.
	err := ValidateEntries([]models.JournalEntry{
		entry(1, "0", "0"),
		entry(2, "0", "0"),
	})
	assert.ErrorIs(t, err, models.ErrUnbalancedJournal)
}

func TestValidateEntriesEmpty(t *testing.T) {
	assert.ErrorIs(t, ValidateEntries(nil), models.ErrUnbalancedJournal)
}

var testResolver = MapAccountResolver{
	AcctBankSavings:    1,
	AcctMFEquity:       2,
	AcctIndianStocks:   3,
	AcctSTCG:           4,
	AcctLTCG:           5,
	AcctTDSReceivable:  6,
	AcctDividendIncome: 7,
	AcctInterestIncome: 8,
	AcctSalaryIncome:   9,
	AcctBankCharges:    10,
	AcctInterestExpense: 11,
	AcctLoansPayable:   12,
	AcctPPF:            13,
}

func TestBuildEntriesStockBuy(t *testing.T) {
	entries, err := BuildEntries(context.Background(), Event{
		Kind:      EventBuy,
		AssetType: models.AssetIndianStock,
		Amounts:   map[LegRole]decimal.Decimal{RoleAsset: d("5000"), RoleBank: d("5000")},
	}, testResolver)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(3), entries[0].AccountID)
	assert.Equal(t, "5000", entries[0].Debit.String())
	assert.Equal(t, int64(1), entries[1].AccountID)
	assert.Equal(t, "5000", entries[1].Credit.String())
}

func TestBuildEntriesSellWithLTCG(t *testing.T) {
	// Proceeds 4200, cost 3000, long-term gain 1200.
	entries, err := BuildEntries(context.Background(), Event{
		Kind:      EventSell,
		AssetType: models.AssetMutualFundEquity,
		Amounts: map[LegRole]decimal.Decimal{
			RoleBank:     d("4200"),
			RoleAsset:    d("3000"),
			RoleGainLong: d("1200"),
		},
	}, testResolver)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "4200", entries[0].Debit.String())
	assert.Equal(t, "3000", entries[1].Credit.String())
	assert.Equal(t, int64(5), entries[2].AccountID)
	assert.Equal(t, "1200", entries[2].Credit.String())
}

func TestBuildEntriesSellAtLossFlipsGainLeg(t *testing.T) {
	entries, err := BuildEntries(context.Background(), Event{
		Kind:      EventSell,
		AssetType: models.AssetIndianStock,
		Amounts: map[LegRole]decimal.Decimal{
			RoleBank:      d("800"),
			RoleAsset:     d("1000"),
			RoleGainShort: d("-200"),
		},
	}, testResolver)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	// Loss lands as a debit on the STCG account.
	assert.Equal(t, int64(4), entries[2].AccountID)
	assert.Equal(t, "200", entries[2].Debit.String())
	assert.True(t, entries[2].Credit.IsZero())
}

func TestBuildEntriesDividendWithTDS(t *testing.T) {
	entries, err := BuildEntries(context.Background(), Event{
		Kind: EventDividend,
		Amounts: map[LegRole]decimal.Decimal{
			RoleBank:   d("900"),
			RoleTDS:    d("100"),
			RoleIncome: d("1000"),
		},
	}, testResolver)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(6), entries[1].AccountID)
	assert.Equal(t, "100", entries[1].Debit.String())
	assert.Equal(t, int64(7), entries[2].AccountID)
	assert.Equal(t, "1000", entries[2].Credit.String())
}

func TestBuildEntriesDropsZeroLegs(t *testing.T) {
	entries, err := BuildEntries(context.Background(), Event{
		Kind: EventDividend,
		Amounts: map[LegRole]decimal.Decimal{
			RoleBank:   d("1000"),
			RoleTDS:    decimal.Zero,
			RoleIncome: d("1000"),
		},
	}, testResolver)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestBuildEntriesUnknownEvent(t *testing.T) {
	_, err := BuildEntries(context.Background(), Event{Kind: "teleport"}, testResolver)
	assert.ErrorIs(t, err, models.ErrInvalid)
}

func TestBuildEntriesLoanEMI(t *testing.T) {
	entries, err := BuildEntries(context.Background(), Event{
		Kind: EventLoanEMI,
		Amounts: map[LegRole]decimal.Decimal{
			RoleInterest:  d("7500"),
			RolePrincipal: d("2500"),
			RoleBank:      d("10000"),
		},
	}, testResolver)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(11), entries[0].AccountID)
	assert.Equal(t, int64(12), entries[1].AccountID)
	assert.Equal(t, "10000", entries[2].Credit.String())
}
