package income

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"arthakosh/pkg/core/money"
	"arthakosh/pkg/core/store"
	"arthakosh/pkg/core/taxrules"
	"arthakosh/pkg/models"
)

// Calculator computes and persists advance-tax positions.
type Calculator struct {
	store *store.Store
	rules *taxrules.Service
	agg   *Aggregator
	log   *logrus.Entry
}

func NewCalculator(st *store.Store, rules *taxrules.Service, agg *Aggregator) *Calculator {
	return &Calculator{
		store: st,
		rules: rules,
		agg:   agg,
		log:   logrus.WithField("component", "advancetax"),
	}
}

// ComputeOptions tunes one computation. AdvanceTaxPaid is what the user has
// already remitted this FY; it is not derivable from statements.
type ComputeOptions struct {
	AdvanceTaxPaid decimal.Decimal
	Notes          string
}

// Installment is one due date of the advance-tax schedule.
type Installment struct {
	Due           time.Time       `json:"due"`
	CumulativePct decimal.Decimal `json:"cumulative_pct"`
	CumulativeDue decimal.Decimal `json:"cumulative_due"`
}

// Compute aggregates the FY's income, applies the rule set for the regime and
// stores the result. The previous computation for the (user, FY) is demoted
// in the same transaction, so exactly one row stays latest.
func (c *Calculator) Compute(ctx context.Context, userID int64, fy string, regime models.TaxRegime, opts ComputeOptions) (*models.AdvanceTaxComputation, error) {
	rules, err := c.rules.Rules(ctx, fy, regime)
	if err != nil {
		return nil, err
	}
	records, err := c.agg.Records(ctx, userID, fy)
	if err != nil {
		return nil, err
	}

	comp := Assess(rules, records, opts.AdvanceTaxPaid)
	comp.UserID = userID
	comp.ComputationNotes = opts.Notes

	err = c.store.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE advance_tax_computations SET is_latest = false
			WHERE user_id = $1 AND financial_year = $2 AND is_latest`,
			userID, fy); err != nil {
			return store.WrapError(err)
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO advance_tax_computations
				(user_id, financial_year, regime, gross_income, total_deductions, taxable_income,
				 slab_tax, special_rate_tax, rebate, surcharge, cess, total_liability,
				 tds_paid, advance_tax_paid, balance_payable, is_latest, computation_notes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, true, $16)
			RETURNING id, computed_at`,
			userID, fy, string(regime), comp.GrossIncome, comp.TotalDeductions, comp.TaxableIncome,
			comp.SlabTax, comp.SpecialRateTax, comp.Rebate, comp.Surcharge, comp.Cess,
			comp.TotalLiability, comp.TDSPaid, comp.AdvanceTaxPaid, comp.BalancePayable,
			comp.ComputationNotes).Scan(&comp.ID, &comp.ComputedAt)
		if err != nil {
			return store.WrapError(err)
		}
		return store.WriteAudit(ctx, tx, models.AuditLog{
			UserID:    userID,
			TableName: "advance_tax_computations",
			RecordID:  fmt.Sprintf("%d", comp.ID),
			Action:    "INSERT",
			NewValues: store.AuditValues(map[string]any{"fy": fy, "liability": comp.TotalLiability}),
			Source:    string(models.SourceManual),
		})
	})
	if err != nil {
		return nil, err
	}

	comp.IsLatest = true
	c.log.WithFields(logrus.Fields{
		"user": userID, "fy": fy, "regime": regime,
		"liability": comp.TotalLiability, "balance": comp.BalancePayable,
	}).Info("advance tax computed")
	return comp, nil
}

// Latest returns the current computation for a (user, FY).
func (c *Calculator) Latest(ctx context.Context, userID int64, fy string) (*models.AdvanceTaxComputation, error) {
	comp := &models.AdvanceTaxComputation{}
	var regime string
	err := c.store.Pool().QueryRow(ctx, `
		SELECT id, user_id, financial_year, regime, gross_income, total_deductions,
		       taxable_income, slab_tax, special_rate_tax, rebate, surcharge, cess,
		       total_liability, tds_paid, advance_tax_paid, balance_payable,
		       is_latest, computed_at, computation_notes
		FROM advance_tax_computations
		WHERE user_id = $1 AND financial_year = $2 AND is_latest`, userID, fy).Scan(
		&comp.ID, &comp.UserID, &comp.FinancialYear, &regime, &comp.GrossIncome,
		&comp.TotalDeductions, &comp.TaxableIncome, &comp.SlabTax, &comp.SpecialRateTax,
		&comp.Rebate, &comp.Surcharge, &comp.Cess, &comp.TotalLiability, &comp.TDSPaid,
		&comp.AdvanceTaxPaid, &comp.BalancePayable, &comp.IsLatest, &comp.ComputedAt,
		&comp.ComputationNotes)
	if err != nil {
		return nil, store.WrapError(err)
	}
	comp.Regime = models.TaxRegime(regime)
	return comp, nil
}

// Assess runs the pure arithmetic over a rule set and income records. Special
// capital-gains rates resolve at the FY's last day, so a mid-year rate change
// settles on the year-end regime.
func Assess(rules *taxrules.RuleSet, records []models.IncomeRecord, advancePaid decimal.Decimal) *models.AdvanceTaxComputation {
	comp := &models.AdvanceTaxComputation{
		FinancialYear: rules.FY,
		Regime:        rules.Regime,
	}

	asOf := time.Now().UTC()
	if fy, err := money.ParseFY(rules.FY); err == nil {
		asOf = fy.End()
	}

	gross := decimal.Zero
	deductions := decimal.Zero
	stcgEquity := decimal.Zero
	ltcgEquity := decimal.Zero
	hasSalary := false
	for _, r := range records {
		gross = gross.Add(r.GrossAmount)
		deductions = deductions.Add(r.Deductions)
		comp.TDSPaid = comp.TDSPaid.Add(r.TDSAmount)
		switch r.TaxRateType {
		case RateSTCGEquity:
			stcgEquity = stcgEquity.Add(r.TaxableAmount)
		case RateLTCGEquity:
			ltcgEquity = ltcgEquity.Add(r.TaxableAmount)
		}
		if r.IncomeType == "salary" {
			hasSalary = true
		}
	}
	if hasSalary {
		deductions = deductions.Add(rules.StandardDeduction)
	}

	taxable := gross.Sub(deductions)
	if taxable.IsNegative() {
		taxable = decimal.Zero
	}

	// Losses in a special bucket shelter nothing here; they set the bucket
	// to zero and stay in the slab base.
	if stcgEquity.IsNegative() {
		stcgEquity = decimal.Zero
	}
	if ltcgEquity.IsNegative() {
		ltcgEquity = decimal.Zero
	}

	slabIncome := taxable.Sub(stcgEquity).Sub(ltcgEquity)
	if slabIncome.IsNegative() {
		slabIncome = decimal.Zero
	}

	// A bucket with no rate row falls back into the slab base.
	specialTax := decimal.Zero
	if stcgEquity.IsPositive() {
		if rate, ok := rules.CGRateFor("equity", "short", asOf); ok {
			specialTax = specialTax.Add(stcgEquity.Mul(rate.Rate))
		} else {
			slabIncome = slabIncome.Add(stcgEquity)
		}
	}
	if ltcgEquity.IsPositive() {
		if rate, ok := rules.CGRateFor("equity", "long", asOf); ok {
			taxableLTCG := ltcgEquity.Sub(rate.ExemptionLimit)
			if taxableLTCG.IsPositive() {
				specialTax = specialTax.Add(taxableLTCG.Mul(rate.Rate))
			}
		} else {
			slabIncome = slabIncome.Add(ltcgEquity)
		}
	}
	slabTax := SlabTax(rules.Slabs, slabIncome)

	totalTax := slabTax.Add(specialTax)

	rebate := decimal.Zero
	if rules.Rebate.IncomeLimit.IsPositive() && taxable.Cmp(rules.Rebate.IncomeLimit) <= 0 {
		rebate = decimal.Min(totalTax, rules.Rebate.MaxRebate)
	}
	taxAfterRebate := totalTax.Sub(rebate)

	// Surcharge splits by bucket: equity capital-gains tax caps at the
	// equity_cg brackets, everything else uses the normal brackets.
	normalRate := rules.SurchargeRate(taxable, "normal")
	equityRate := rules.SurchargeRate(taxable, "equity_cg")
	slabShare := taxAfterRebate.Sub(specialTax)
	if slabShare.IsNegative() {
		slabShare = decimal.Zero
	}
	surcharge := slabShare.Mul(normalRate).Add(specialTax.Mul(equityRate))

	cess := taxAfterRebate.Add(surcharge).Mul(rules.CessRate)

	liability := taxAfterRebate.Add(surcharge).Add(cess)
	balance := liability.Sub(comp.TDSPaid).Sub(advancePaid)
	if balance.IsNegative() {
		balance = decimal.Zero
	}

	comp.GrossIncome = money.RoundAmount(gross)
	comp.TotalDeductions = money.RoundAmount(deductions)
	comp.TaxableIncome = money.RoundAmount(taxable)
	comp.SlabTax = money.RoundAmount(slabTax)
	comp.SpecialRateTax = money.RoundAmount(specialTax)
	comp.Rebate = money.RoundAmount(rebate)
	comp.Surcharge = money.RoundAmount(surcharge)
	comp.Cess = money.RoundAmount(cess)
	comp.TotalLiability = money.RoundAmount(liability)
	comp.TDSPaid = money.RoundAmount(comp.TDSPaid)
	comp.AdvanceTaxPaid = money.RoundAmount(advancePaid)
	comp.BalancePayable = money.RoundAmount(balance)
	return comp
}

// SlabTax applies progressive bands to an income.
func SlabTax(slabs []taxrules.Slab, income decimal.Decimal) decimal.Decimal {
	tax := decimal.Zero
	for _, sl := range slabs {
		if income.Cmp(sl.From) <= 0 {
			continue
		}
		upper := income
		if sl.To != nil && upper.Cmp(*sl.To) > 0 {
			upper = *sl.To
		}
		tax = tax.Add(upper.Sub(sl.From).Mul(sl.Rate))
	}
	return tax
}

// Schedule lays the statutory installment plan over a liability: 15% by
// 15-Jun, 45% by 15-Sep, 75% by 15-Dec and the full amount by 15-Mar.
func Schedule(fy string, liability decimal.Decimal) ([]Installment, error) {
	window, err := money.ParseFY(fy)
	if err != nil {
		return nil, err
	}
	steps := []struct {
		month time.Month
		year  int
		pct   int64
	}{
		{time.June, window.StartYear, 15},
		{time.September, window.StartYear, 45},
		{time.December, window.StartYear, 75},
		{time.March, window.StartYear + 1, 100},
	}
	out := make([]Installment, 0, len(steps))
	for _, s := range steps {
		pct := decimal.NewFromInt(s.pct)
		out = append(out, Installment{
			Due:           time.Date(s.year, s.month, 15, 0, 0, 0, 0, time.UTC),
			CumulativePct: pct,
			CumulativeDue: money.RoundAmount(liability.Mul(pct).Div(decimal.NewFromInt(100))),
		})
	}
	return out, nil
}
