package income

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arthakosh/pkg/core/store"
	"arthakosh/pkg/core/taxrules"
	"arthakosh/pkg/models"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func newRegime2425() *taxrules.RuleSet {
	from := date("2024-07-23")
	return &taxrules.RuleSet{
		FY:     "2024-25",
		Regime: models.RegimeNew,
		Slabs: []taxrules.Slab{
			{From: d("0"), To: dp("300000"), Rate: d("0")},
			{From: d("300000"), To: dp("700000"), Rate: d("0.05")},
			{From: d("700000"), To: dp("1000000"), Rate: d("0.10")},
			{From: d("1000000"), To: dp("1200000"), Rate: d("0.15")},
			{From: d("1200000"), To: dp("1500000"), Rate: d("0.20")},
			{From: d("1500000"), Rate: d("0.30")},
		},
		CGRates: []taxrules.CGRate{
			{AssetClass: "equity", Term: "long", Rate: d("0.125"), ExemptionLimit: d("125000"), EffectiveFrom: from},
			{AssetClass: "equity", Term: "short", Rate: d("0.20"), EffectiveFrom: from},
		},
		StandardDeduction: d("75000"),
		Surcharges: []taxrules.SurchargeBracket{
			{IncomeType: "normal", From: d("5000000"), To: dp("10000000"), Rate: d("0.10")},
			{IncomeType: "normal", From: d("10000000"), To: dp("20000000"), Rate: d("0.15")},
			{IncomeType: "normal", From: d("20000000"), Rate: d("0.25")},
			{IncomeType: "equity_cg", From: d("5000000"), To: dp("10000000"), Rate: d("0.10")},
			{IncomeType: "equity_cg", From: d("10000000"), Rate: d("0.15")},
		},
		CessRate: d("0.04"),
		Rebate:   taxrules.RebateLimit{IncomeLimit: d("700000"), MaxRebate: d("25000")},
	}
}

func record(incomeType, rateType string, gross string) models.IncomeRecord {
	g := d(gross)
	return models.IncomeRecord{
		IncomeType:    incomeType,
		GrossAmount:   g,
		TaxableAmount: g,
		TaxRateType:   rateType,
	}
}

func TestSlabTax(t *testing.T) {
	slabs := newRegime2425().Slabs

	assert.Equal(t, "0", SlabTax(slabs, d("300000")).String())
	assert.Equal(t, "20000", SlabTax(slabs, d("700000")).String())
	assert.Equal(t, "68750", SlabTax(slabs, d("1125000")).String())
	assert.Equal(t, "140000", SlabTax(slabs, d("1500000")).String())
	assert.Equal(t, "290000", SlabTax(slabs, d("2000000")).String())
}

// TestAssessSalaryWithEquityLTCG: salary 12,00,000 and equity LTCG 2,00,000
// under the new regime. Slab base 11,25,000 after the standard deduction;
// LTCG taxable 75,000 after the 1,25,000 exemption at 12.5%.
func TestAssessSalaryWithEquityLTCG(t *testing.T) {
	rules := newRegime2425()
	records := []models.IncomeRecord{
		record("salary", RateSlab, "1200000"),
		record("capital_gains", RateLTCGEquity, "200000"),
	}

	comp := Assess(rules, records, decimal.Zero)

	assert.Equal(t, "1400000", comp.GrossIncome.String())
	assert.Equal(t, "75000", comp.TotalDeductions.String())
	assert.Equal(t, "1325000", comp.TaxableIncome.String())
	assert.Equal(t, "68750", comp.SlabTax.String())
	assert.Equal(t, "9375", comp.SpecialRateTax.String())
	assert.Equal(t, "0", comp.Rebate.String())
	assert.Equal(t, "0", comp.Surcharge.String())
	assert.Equal(t, "3125", comp.Cess.String())
	assert.Equal(t, "81250", comp.TotalLiability.String())
	assert.Equal(t, "81250", comp.BalancePayable.String())
}

func TestAssessRebateZeroesSmallLiability(t *testing.T) {
	rules := newRegime2425()
	records := []models.IncomeRecord{record("salary", RateSlab, "750000")}

	comp := Assess(rules, records, decimal.Zero)

	// 7,50,000 less the 75,000 standard deduction is under the rebate limit.
	assert.Equal(t, "675000", comp.TaxableIncome.String())
	assert.Equal(t, "18750", comp.SlabTax.String())
	assert.Equal(t, "18750", comp.Rebate.String())
	assert.Equal(t, "0", comp.TotalLiability.String())
	assert.Equal(t, "0", comp.BalancePayable.String())
}

func TestAssessSurchargeSplitsByBucket(t *testing.T) {
	rules := newRegime2425()
	records := []models.IncomeRecord{
		record("salary", RateSlab, "25000000"),
		record("capital_gains", RateLTCGEquity, "10125000"),
	}

	comp := Assess(rules, records, decimal.Zero)

	// Salary tax draws the 25% bracket, the equity LTCG tax caps at 15%.
	slabTax := SlabTax(rules.Slabs, d("24925000"))
	special := d("10000000").Mul(d("0.125"))
	want := slabTax.Mul(d("0.25")).Add(special.Mul(d("0.15")))
	assert.Equal(t, want.Round(2).String(), comp.Surcharge.String())
}

func TestAssessTDSAndAdvancePaidReduceBalance(t *testing.T) {
	rules := newRegime2425()
	rec := record("salary", RateSlab, "1275000")
	rec.TDSAmount = d("50000")

	comp := Assess(rules, []models.IncomeRecord{rec}, d("10000"))

	assert.Equal(t, "1200000", comp.TaxableIncome.String())
	assert.Equal(t, "80000", comp.SlabTax.String())
	assert.Equal(t, "83200", comp.TotalLiability.String())
	assert.Equal(t, "50000", comp.TDSPaid.String())
	assert.Equal(t, "10000", comp.AdvanceTaxPaid.String())
	assert.Equal(t, "23200", comp.BalancePayable.String())

	// Over-withholding floors the balance at zero.
	rec.TDSAmount = d("100000")
	comp = Assess(rules, []models.IncomeRecord{rec}, d("10000"))
	assert.Equal(t, "0", comp.BalancePayable.String())
}

func TestSchedule(t *testing.T) {
	plan, err := Schedule("2024-25", d("100000"))
	require.NoError(t, err)
	require.Len(t, plan, 4)

	assert.Equal(t, date("2024-06-15"), plan[0].Due)
	assert.Equal(t, "15000", plan[0].CumulativeDue.String())
	assert.Equal(t, "45000", plan[1].CumulativeDue.String())
	assert.Equal(t, "75000", plan[2].CumulativeDue.String())
	assert.Equal(t, date("2025-03-15"), plan[3].Due)
	assert.Equal(t, "100000", plan[3].CumulativeDue.String())

	_, err = Schedule("garbage", d("1"))
	assert.Error(t, err)
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

// TestComputePersistsLatest writes a summary row, seeds the shipped rule
// file and verifies the is_latest flip across two computations.
func TestComputePersistsLatest(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	var userID int64
	require.NoError(t, st.Pool().QueryRow(ctx, `
		INSERT INTO users (name, email) VALUES ('test', $1) RETURNING id`,
		fmt.Sprintf("income-%d@test.local", time.Now().UnixNano())).Scan(&userID))

	rulePath := filepath.Join("..", "..", "..", "configs", "taxrules", "fy2024-25.yaml")
	require.NoError(t, taxrules.SeedFromFile(ctx, st.Pool(), rulePath))

	_, err := st.Pool().Exec(ctx, `
		INSERT INTO user_income_summary
			(user_id, financial_year, income_type, gross_amount, taxable_amount, tax_rate_type)
		VALUES ($1, '2024-25', 'salary', 1200000, 1200000, 'slab'),
		       ($1, '2024-25', 'capital_gains', 200000, 200000, 'ltcg_equity')`, userID)
	require.NoError(t, err)

	calc := NewCalculator(st, taxrules.NewService(st.Pool()), NewAggregator(st.Pool()))

	first, err := calc.Compute(ctx, userID, "2024-25", models.RegimeNew, ComputeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "81250", first.TotalLiability.String())

	second, err := calc.Compute(ctx, userID, "2024-25", models.RegimeNew,
		ComputeOptions{AdvanceTaxPaid: d("40000")})
	require.NoError(t, err)
	assert.Equal(t, "41250", second.BalancePayable.String())

	var latestCount int
	require.NoError(t, st.Pool().QueryRow(ctx, `
		SELECT COUNT(*) FROM advance_tax_computations
		WHERE user_id = $1 AND financial_year = '2024-25' AND is_latest`, userID).Scan(&latestCount))
	assert.Equal(t, 1, latestCount)

	latest, err := calc.Latest(ctx, userID, "2024-25")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
}
