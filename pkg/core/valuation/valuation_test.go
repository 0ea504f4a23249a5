package valuation

import (
	"context"
	"fmt"
	"math"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arthakosh/pkg/core/store"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestEMI(t *testing.T) {
	// 50L at 8.5% over 20 years: the standard calculator answer is 43,391.
	emi := EMI(d("5000000"), d("8.5"), 240)
	assert.Equal(t, "43391.16", emi.StringFixed(2))

	// Zero rate is straight division.
	assert.Equal(t, "10000", EMI(d("120000"), d("0"), 12).String())

	assert.True(t, EMI(d("0"), d("8.5"), 240).IsZero())
	assert.True(t, EMI(d("5000000"), d("8.5"), 0).IsZero())
}

func TestAmortizationSchedule(t *testing.T) {
	rows := AmortizationSchedule(d("1200000"), d("9"), 24, date("2024-01-01"))
	require.Len(t, rows, 24)

	// First month: interest on the full principal at 0.75% monthly.
	assert.Equal(t, "9000", rows[0].Interest.String())
	assert.Equal(t, rows[0].EMI.Sub(rows[0].Interest).String(), rows[0].Principal.String())

	// Interest declines, principal share grows, balance hits zero.
	assert.True(t, rows[23].Interest.Cmp(rows[0].Interest) < 0)
	assert.True(t, rows[23].Principal.Cmp(rows[0].Principal) > 0)
	assert.True(t, rows[23].Outstanding.IsZero())

	// Outstanding is monotonically decreasing.
	for i := 1; i < len(rows); i++ {
		assert.True(t, rows[i].Outstanding.Cmp(rows[i-1].Outstanding) < 0,
			"month %d outstanding did not decrease", i+1)
	}
}

func TestXIRR(t *testing.T) {
	// One lump sum doubling in ~5 years: rate near 14.87%.
	flows := []CashFlow{
		{Date: date("2019-01-01"), Amount: -100000},
		{Date: date("2024-01-01"), Amount: 200000},
	}
	rate, ok := XIRR(flows)
	require.True(t, ok)
	assert.InDelta(t, 0.1487, rate, 0.002)

	// Monthly SIP with a modest gain stays positive and small.
	var sip []CashFlow
	start := date("2023-01-01")
	for m := 0; m < 12; m++ {
		sip = append(sip, CashFlow{Date: start.AddDate(0, m, 0), Amount: -10000})
	}
	sip = append(sip, CashFlow{Date: date("2024-01-01"), Amount: 126000})
	rate, ok = XIRR(sip)
	require.True(t, ok)
	assert.True(t, rate > 0 && rate < 0.25, "rate %v", rate)

	// A loss still converges, negative.
	rate, ok = XIRR([]CashFlow{
		{Date: date("2022-01-01"), Amount: -100000},
		{Date: date("2024-01-01"), Amount: 60000},
	})
	require.True(t, ok)
	assert.True(t, rate < 0)
	assert.False(t, math.IsNaN(rate))
}

func TestXIRRInsufficientHistory(t *testing.T) {
	_, ok := XIRR(nil)
	assert.False(t, ok)

	_, ok = XIRR([]CashFlow{{Date: date("2024-01-01"), Amount: -1000}})
	assert.False(t, ok)

	// All flows one-sided cannot price.
	_, ok = XIRR([]CashFlow{
		{Date: date("2023-01-01"), Amount: -1000},
		{Date: date("2024-01-01"), Amount: -1000},
	})
	assert.False(t, ok)
}

func TestClassify(t *testing.T) {
	rules := DefaultFlowRules

	r, ok := Classify(rules, "NEFT SALARY CREDIT ACME CORP")
	require.True(t, ok)
	assert.Equal(t, ActivityOperating, r.Activity)
	assert.Equal(t, "Salary", r.Category)

	r, ok = Classify(rules, "ACH D- ZERODHA BROKING")
	require.True(t, ok)
	assert.Equal(t, ActivityInvesting, r.Activity)

	r, ok = Classify(rules, "HOME LOAN EMI 0042")
	require.True(t, ok)
	assert.Equal(t, ActivityFinancing, r.Activity)

	_, ok = Classify(rules, "UPI/P2P/9812/COFFEE")
	assert.False(t, ok)
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set")
	}
	st, err := store.Open(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(st.Close)
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func createTestUser(t *testing.T, st *store.Store) int64 {
	t.Helper()
	var id int64
	err := st.Pool().QueryRow(context.Background(), `
		INSERT INTO users (name, email) VALUES ('test', $1) RETURNING id`,
		fmt.Sprintf("valuation-%d@test.local", time.Now().UnixNano())).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestBalanceSheetAggregation(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	userID := createTestUser(t, st)

	_, err := st.Pool().Exec(ctx, `
		INSERT INTO bank_transactions
			(user_id, bank, txn_date, raw_description, amount, balance_after, category, row_hash, source)
		VALUES ($1, 'HDFC', '2024-01-10', 'OPENING', 50000, 250000, 'Misc', $2, 'bank'),
		       ($1, 'HDFC', '2024-03-10', 'SALARY', 100000, 350000, 'Contribution', $3, 'bank')`,
		userID, fmt.Sprintf("h1-%d", userID), fmt.Sprintf("h2-%d", userID))
	require.NoError(t, err)

	_, err = st.Pool().Exec(ctx, `
		INSERT INTO mf_transactions
			(user_id, folio, scheme, asset_class, txn_date, txn_type, amount, units, nav, source)
		VALUES ($1, 'F1', 'Fund X', 'mf_equity', '2024-01-05', 'BUY', 100000, 1000, 100, 'cams'),
		       ($1, 'F1', 'Fund X', 'mf_equity', '2024-02-05', 'SELL', -44000, -400, 110, 'cams')`, userID)
	require.NoError(t, err)

	_, err = st.Pool().Exec(ctx, `
		INSERT INTO liabilities (user_id, name, loan_type, principal, annual_rate, tenure_months, started_on)
		VALUES ($1, 'Home Loan', 'home', 3000000, 8.5, 240, '2023-06-01')`, userID)
	require.NoError(t, err)

	bs, err := NewBalanceSheetService(st.Pool()).Compute(ctx, userID, date("2024-03-31"))
	require.NoError(t, err)

	// Bank at latest balance_after, MF at 600 units x latest NAV 110.
	assert.Equal(t, "350000", holdingValue(bs, "HDFC").String())
	assert.Equal(t, "66000", holdingValue(bs, "Fund X").String())
	require.Len(t, bs.Loans, 1)
	assert.Equal(t, "3000000", bs.Loans[0].Outstanding.String())
	assert.Equal(t, "416000", bs.TotalAssets.String())
	assert.Equal(t, "-2584000", bs.NetWorth.String())

	// Before the fund purchase, only the bank row exists.
	early, err := NewBalanceSheetService(st.Pool()).Compute(ctx, userID, date("2024-01-31"))
	require.NoError(t, err)
	assert.Equal(t, "250000", holdingValue(early, "HDFC").String())

	require.NoError(t, NewBalanceSheetService(st.Pool()).Snapshot(ctx, bs))
	var count int
	require.NoError(t, st.Pool().QueryRow(ctx, `
		SELECT COUNT(*) FROM balance_sheet_snapshots WHERE user_id = $1`, userID).Scan(&count))
	assert.Equal(t, 1, count)
}

func holdingValue(bs *BalanceSheet, name string) decimal.Decimal {
	for _, h := range bs.Holdings {
		if h.Name == name {
			return h.Value
		}
	}
	return decimal.Zero
}

func TestLoanLifecycle(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	userID := createTestUser(t, st)

	svc := NewLiabilityService(st.Pool())
	loanID, err := svc.CreateLoan(ctx, userID, "Home Loan", "home", d("1200000"), d("9"), 24, date("2024-01-01"))
	require.NoError(t, err)

	row, err := svc.RecordEMI(ctx, userID, loanID, date("2024-02-01"), d("54822"))
	require.NoError(t, err)
	assert.Equal(t, "9000", row.Interest.String())
	assert.Equal(t, "45822", row.Principal.String())
	assert.Equal(t, "1154178", row.Outstanding.String())

	outstanding, err := svc.RecordPrepayment(ctx, userID, loanID, date("2024-02-15"), d("154178"))
	require.NoError(t, err)
	assert.Equal(t, "1000000", outstanding.String())

	outstanding, err = svc.RecordDisbursement(ctx, userID, loanID, date("2024-03-01"), d("200000"))
	require.NoError(t, err)
	assert.Equal(t, "1200000", outstanding.String())
}

func TestCashFlowStatement(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	userID := createTestUser(t, st)
	require.NoError(t, SeedFlowRules(ctx, st.Pool()))

	_, err := st.Pool().Exec(ctx, `
		INSERT INTO bank_transactions
			(user_id, bank, txn_date, raw_description, amount, category, row_hash, source)
		VALUES ($1, 'HDFC', '2024-05-01', 'NEFT SALARY ACME', 100000, 'Contribution', $2, 'bank'),
		       ($1, 'HDFC', '2024-05-03', 'SIP AXIS MF', -25000, 'Misc', $3, 'bank'),
		       ($1, 'HDFC', '2024-05-05', 'HOME LOAN EMI', -43000, 'Misc', $4, 'bank'),
		       ($1, 'HDFC', '2024-05-07', 'UPI COFFEE', -300, 'Misc', $5, 'bank')`,
		userID, fmt.Sprintf("c1-%d", userID), fmt.Sprintf("c2-%d", userID),
		fmt.Sprintf("c3-%d", userID), fmt.Sprintf("c4-%d", userID))
	require.NoError(t, err)

	svc := NewCashFlowService(st.Pool(), NewBalanceSheetService(st.Pool()))
	stmt, err := svc.Compute(ctx, userID, "2024-25")
	require.NoError(t, err)

	assert.Equal(t, "99700", stmt.NetOperating.String())
	assert.Equal(t, "-25000", stmt.NetInvesting.String())
	assert.Equal(t, "-43000", stmt.NetFinancing.String())
	assert.Equal(t, 1, stmt.Unclassified)
}
