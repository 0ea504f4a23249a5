// Package income buckets a user's income by taxability and computes the
// advance-tax position from the statutory rate tables.
package income

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"arthakosh/pkg/core/ledger"
	"arthakosh/pkg/core/money"
	"arthakosh/pkg/core/store"
	"arthakosh/pkg/models"
)

// Tax-rate buckets carried on IncomeRecord.TaxRateType.
const (
	RateSlab       = "slab"
	RateSTCGEquity = "stcg_equity"
	RateLTCGEquity = "ltcg_equity"
	RateSTCGOther  = "stcg_other"
	RateLTCGOther  = "ltcg_other"
)

// Section80TTALimit caps the savings-interest deduction.
var Section80TTALimit = decimal.NewFromInt(10000)

// Aggregator derives per-FY income records. A populated user_income_summary
// wins; otherwise the asset tables are scanned.
type Aggregator struct {
	db  store.DB
	log *logrus.Entry
}

func NewAggregator(db store.DB) *Aggregator {
	return &Aggregator{db: db, log: logrus.WithField("component", "income")}
}

// Records returns the income lines for a financial year.
func (a *Aggregator) Records(ctx context.Context, userID int64, fy string) ([]models.IncomeRecord, error) {
	records, err := a.fromSummary(ctx, userID, fy)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		return records, nil
	}
	a.log.WithFields(logrus.Fields{"user": userID, "fy": fy}).Debug("no income summary, scanning source tables")
	return a.fromSources(ctx, userID, fy)
}

func (a *Aggregator) fromSummary(ctx context.Context, userID int64, fy string) ([]models.IncomeRecord, error) {
	rows, err := a.db.Query(ctx, `
		SELECT income_type, sub_classification, sub_grouping,
		       gross_amount, deductions, taxable_amount, tds_amount, tax_rate_type
		FROM user_income_summary
		WHERE user_id = $1 AND financial_year = $2
		ORDER BY income_type, sub_classification`, userID, fy)
	if err != nil {
		return nil, store.WrapError(err)
	}
	defer rows.Close()

	var records []models.IncomeRecord
	for rows.Next() {
		r := models.IncomeRecord{UserID: userID, FinancialYear: fy}
		if err := rows.Scan(&r.IncomeType, &r.SubClassification, &r.SubGrouping,
			&r.GrossAmount, &r.Deductions, &r.TaxableAmount, &r.TDSAmount, &r.TaxRateType); err != nil {
			return nil, store.WrapError(err)
		}
		records = append(records, r)
	}
	return records, store.WrapError(rows.Err())
}

func (a *Aggregator) fromSources(ctx context.Context, userID int64, fy string) ([]models.IncomeRecord, error) {
	window, err := money.ParseFY(fy)
	if err != nil {
		return nil, err
	}
	from, to := window.Start(), window.End()

	var records []models.IncomeRecord
	add := func(r models.IncomeRecord) {
		if r.GrossAmount.IsZero() && r.TDSAmount.IsZero() {
			return
		}
		r.UserID = userID
		r.FinancialYear = fy
		r.TaxableAmount = r.GrossAmount.Sub(r.Deductions)
		if r.TaxableAmount.IsNegative() {
			r.TaxableAmount = decimal.Zero
		}
		records = append(records, r)
	}

	salary, err := a.accountCredits(ctx, userID, ledger.AcctSalaryIncome, from, to)
	if err != nil {
		return nil, err
	}
	tds, err := a.accountDebits(ctx, userID, ledger.AcctTDSReceivable, from, to)
	if err != nil {
		return nil, err
	}
	add(models.IncomeRecord{IncomeType: "salary", GrossAmount: salary, TDSAmount: tds, TaxRateType: RateSlab})

	rsu, err := a.rsuVestIncome(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	add(models.IncomeRecord{IncomeType: "salary", SubClassification: "rsu_vest", GrossAmount: rsu, TaxRateType: RateSlab})

	if err := a.mfGains(ctx, userID, from, to, add); err != nil {
		return nil, err
	}
	if err := a.stockGains(ctx, userID, from, to, add); err != nil {
		return nil, err
	}

	dividends, err := a.accountCredits(ctx, userID, ledger.AcctDividendIncome, from, to)
	if err != nil {
		return nil, err
	}
	add(models.IncomeRecord{IncomeType: "dividend", GrossAmount: dividends, TaxRateType: RateSlab})

	interest, err := a.bankInterest(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	deduction := decimal.Min(interest, Section80TTALimit)
	add(models.IncomeRecord{
		IncomeType:        "interest",
		SubClassification: "savings",
		SubGrouping:       "80TTA",
		GrossAmount:       interest,
		Deductions:        deduction,
		TaxRateType:       RateSlab,
	})

	return records, nil
}

// accountCredits sums journal credits to one ledger account over a window.
func (a *Aggregator) accountCredits(ctx context.Context, userID int64, code string, from, to time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := a.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(e.credit - e.debit), 0)
		FROM journal_entries e
		JOIN journals j ON j.id = e.journal_id
		JOIN accounts a ON a.id = e.account_id
		WHERE j.user_id = $1 AND a.code = $2 AND j.txn_date BETWEEN $3 AND $4`,
		userID, code, from, to).Scan(&total)
	return total, store.WrapError(err)
}

func (a *Aggregator) accountDebits(ctx context.Context, userID int64, code string, from, to time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := a.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(e.debit - e.credit), 0)
		FROM journal_entries e
		JOIN journals j ON j.id = e.journal_id
		JOIN accounts a ON a.id = e.account_id
		WHERE j.user_id = $1 AND a.code = $2 AND j.txn_date BETWEEN $3 AND $4`,
		userID, code, from, to).Scan(&total)
	return total, store.WrapError(err)
}

// rsuVestIncome values vests at FMV converted through the latest exchange
// rate on or before the vest date. Vest value is salary perquisite income.
func (a *Aggregator) rsuVestIncome(ctx context.Context, userID int64, from, to time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := a.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(v.units * v.fmv_per_unit * COALESCE((
			SELECT x.rate_inr FROM exchange_rates x
			WHERE x.currency = v.currency AND x.rate_date <= v.vest_date
			ORDER BY x.rate_date DESC LIMIT 1), 1)), 0)
		FROM rsu_vests v
		WHERE v.user_id = $1 AND v.vest_date BETWEEN $2 AND $3`,
		userID, from, to).Scan(&total)
	return money.RoundAmount(total), store.WrapError(err)
}

// mfGains splits broker-reported redemption gains by equity vs. debt. Debt
// fund gains are slab income; equity gains go to the special-rate buckets.
func (a *Aggregator) mfGains(ctx context.Context, userID int64, from, to time.Time, add func(models.IncomeRecord)) error {
	rows, err := a.db.Query(ctx, `
		SELECT asset_class,
		       COALESCE(SUM(broker_stcg), 0),
		       COALESCE(SUM(broker_ltcg), 0)
		FROM mf_transactions
		WHERE user_id = $1 AND txn_date BETWEEN $2 AND $3
		GROUP BY asset_class`, userID, from, to)
	if err != nil {
		return store.WrapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var class string
		var stcg, ltcg decimal.Decimal
		if err := rows.Scan(&class, &stcg, &ltcg); err != nil {
			return store.WrapError(err)
		}
		shortRate, longRate := RateSTCGEquity, RateLTCGEquity
		if class == string(models.AssetMutualFundDebt) {
			shortRate, longRate = RateSlab, RateSlab
		}
		add(models.IncomeRecord{IncomeType: "capital_gains", SubClassification: class,
			SubGrouping: "short", GrossAmount: stcg, TaxRateType: shortRate})
		add(models.IncomeRecord{IncomeType: "capital_gains", SubClassification: class,
			SubGrouping: "long", GrossAmount: ltcg, TaxRateType: longRate})
	}
	return store.WrapError(rows.Err())
}

func (a *Aggregator) stockGains(ctx context.Context, userID int64, from, to time.Time, add func(models.IncomeRecord)) error {
	rows, err := a.db.Query(ctx, `
		SELECT term, COALESCE(SUM(profit), 0)
		FROM stock_capital_gains
		WHERE user_id = $1 AND sale_date BETWEEN $2 AND $3
		GROUP BY term`, userID, from, to)
	if err != nil {
		return store.WrapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var term string
		var profit decimal.Decimal
		if err := rows.Scan(&term, &profit); err != nil {
			return store.WrapError(err)
		}
		rate := RateSTCGEquity
		if term == "long" {
			rate = RateLTCGEquity
		}
		add(models.IncomeRecord{IncomeType: "capital_gains", SubClassification: "stock",
			SubGrouping: term, GrossAmount: profit, TaxRateType: rate})
	}
	return store.WrapError(rows.Err())
}

func (a *Aggregator) bankInterest(ctx context.Context, userID int64, from, to time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := a.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM bank_transactions
		WHERE user_id = $1 AND category = 'Interest' AND amount > 0
		  AND txn_date BETWEEN $2 AND $3`, userID, from, to).Scan(&total)
	return total, store.WrapError(err)
}
