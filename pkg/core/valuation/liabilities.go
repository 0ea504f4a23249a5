package valuation

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"arthakosh/pkg/core/money"
	"arthakosh/pkg/core/store"
	"arthakosh/pkg/models"
)

// Liability transaction types.
const (
	LoanEMI          = "EMI"
	LoanPrepayment   = "PREPAYMENT"
	LoanDisbursement = "DISBURSEMENT"
)

// AmortizationRow is one month of the schedule.
type AmortizationRow struct {
	Month       int             `json:"month"`
	Date        time.Time       `json:"date"`
	EMI         decimal.Decimal `json:"emi"`
	Interest    decimal.Decimal `json:"interest"`
	Principal   decimal.Decimal `json:"principal"`
	Outstanding decimal.Decimal `json:"outstanding"`
}

// LiabilityService tracks loans and their amortization.
type LiabilityService struct {
	db  store.DB
	log *logrus.Entry
}

func NewLiabilityService(db store.DB) *LiabilityService {
	return &LiabilityService{db: db, log: logrus.WithField("component", "liabilities")}
}

var hundred = decimal.NewFromInt(100)

// EMI computes the level installment: P*r*(1+r)^n / ((1+r)^n - 1) with r the
// monthly rate. A zero rate degrades to straight division.
func EMI(principal, annualRatePct decimal.Decimal, months int) decimal.Decimal {
	if months <= 0 || !principal.IsPositive() {
		return decimal.Zero
	}
	r := annualRatePct.Div(hundred).Div(decimal.NewFromInt(12))
	if r.IsZero() {
		return money.RoundAmount(principal.Div(decimal.NewFromInt(int64(months))))
	}
	pow := decimal.NewFromInt(1).Add(r).Pow(decimal.NewFromInt(int64(months)))
	emi := principal.Mul(r).Mul(pow).Div(pow.Sub(decimal.NewFromInt(1)))
	return money.RoundAmount(emi)
}

// AmortizationSchedule lays out the month-by-month split. Interest accrues
// on the opening outstanding; the last row absorbs rounding drift.
func AmortizationSchedule(principal, annualRatePct decimal.Decimal, months int, start time.Time) []AmortizationRow {
	emi := EMI(principal, annualRatePct, months)
	if emi.IsZero() {
		return nil
	}
	r := annualRatePct.Div(hundred).Div(decimal.NewFromInt(12))

	rows := make([]AmortizationRow, 0, months)
	outstanding := principal
	for m := 1; m <= months; m++ {
		interest := money.RoundAmount(outstanding.Mul(r))
		repay := emi.Sub(interest)
		if m == months || repay.Cmp(outstanding) > 0 {
			repay = outstanding
		}
		outstanding = outstanding.Sub(repay)
		rows = append(rows, AmortizationRow{
			Month:       m,
			Date:        start.AddDate(0, m, 0),
			EMI:         money.RoundAmount(interest.Add(repay)),
			Interest:    interest,
			Principal:   money.RoundAmount(repay),
			Outstanding: money.RoundAmount(outstanding),
		})
		if !outstanding.IsPositive() {
			break
		}
	}
	return rows
}

// CreateLoan registers a liability and returns its id.
func (s *LiabilityService) CreateLoan(ctx context.Context, userID int64, name, loanType string, principal, annualRatePct decimal.Decimal, months int, start time.Time) (int64, error) {
	if !principal.IsPositive() || months <= 0 {
		return 0, fmt.Errorf("%w: loan %s needs positive principal and tenure", models.ErrInvalid, name)
	}
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO liabilities (user_id, name, loan_type, principal, annual_rate, tenure_months, started_on)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		userID, name, loanType, money.RoundAmount(principal), annualRatePct, months, start).Scan(&id)
	if err != nil {
		return 0, store.WrapError(err)
	}
	s.log.WithFields(logrus.Fields{"user": userID, "loan": name, "principal": principal}).Info("loan registered")
	return id, nil
}

type loanState struct {
	principal   decimal.Decimal
	annualRate  decimal.Decimal
	outstanding decimal.Decimal
}

func (s *LiabilityService) state(ctx context.Context, userID, liabilityID int64) (*loanState, error) {
	st := &loanState{}
	err := s.db.QueryRow(ctx, `
		SELECT l.principal, l.annual_rate,
		       COALESCE((SELECT t.outstanding_after FROM liability_transactions t
		                 WHERE t.liability_id = l.id
		                 ORDER BY t.txn_date DESC, t.id DESC LIMIT 1), l.principal)
		FROM liabilities l
		WHERE l.id = $1 AND l.user_id = $2`, liabilityID, userID).Scan(
		&st.principal, &st.annualRate, &st.outstanding)
	if err != nil {
		return nil, store.WrapError(err)
	}
	return st, nil
}

// RecordEMI posts one installment, splitting interest first and principal
// from the remainder.
func (s *LiabilityService) RecordEMI(ctx context.Context, userID, liabilityID int64, date time.Time, amount decimal.Decimal) (*AmortizationRow, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: EMI amount %s", models.ErrInvalid, amount)
	}
	st, err := s.state(ctx, userID, liabilityID)
	if err != nil {
		return nil, err
	}

	r := st.annualRate.Div(hundred).Div(decimal.NewFromInt(12))
	interest := money.RoundAmount(st.outstanding.Mul(r))
	principal := amount.Sub(interest)
	if principal.IsNegative() {
		principal = decimal.Zero
		interest = amount
	}
	if principal.Cmp(st.outstanding) > 0 {
		principal = st.outstanding
	}
	outstanding := money.RoundAmount(st.outstanding.Sub(principal))

	if err := s.insertTxn(ctx, userID, liabilityID, date, LoanEMI, amount, interest, principal, outstanding); err != nil {
		return nil, err
	}
	return &AmortizationRow{
		Date: date, EMI: amount,
		Interest: interest, Principal: money.RoundAmount(principal), Outstanding: outstanding,
	}, nil
}

// RecordPrepayment posts a lump sum that is entirely principal.
func (s *LiabilityService) RecordPrepayment(ctx context.Context, userID, liabilityID int64, date time.Time, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: prepayment amount %s", models.ErrInvalid, amount)
	}
	st, err := s.state(ctx, userID, liabilityID)
	if err != nil {
		return decimal.Zero, err
	}
	principal := decimal.Min(amount, st.outstanding)
	outstanding := money.RoundAmount(st.outstanding.Sub(principal))
	if err := s.insertTxn(ctx, userID, liabilityID, date, LoanPrepayment, amount, decimal.Zero, principal, outstanding); err != nil {
		return decimal.Zero, err
	}
	return outstanding, nil
}

// RecordDisbursement increases the outstanding, e.g. a construction-linked
// home loan tranche.
func (s *LiabilityService) RecordDisbursement(ctx context.Context, userID, liabilityID int64, date time.Time, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: disbursement amount %s", models.ErrInvalid, amount)
	}
	st, err := s.state(ctx, userID, liabilityID)
	if err != nil {
		return decimal.Zero, err
	}
	outstanding := money.RoundAmount(st.outstanding.Add(amount))
	if err := s.insertTxn(ctx, userID, liabilityID, date, LoanDisbursement, amount, decimal.Zero, decimal.Zero, outstanding); err != nil {
		return decimal.Zero, err
	}
	return outstanding, nil
}

func (s *LiabilityService) insertTxn(ctx context.Context, userID, liabilityID int64, date time.Time, txnType string, amount, interest, principal, outstanding decimal.Decimal) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO liability_transactions
			(user_id, liability_id, txn_date, txn_type, amount, interest_portion, principal_portion, outstanding_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, liability_id, txn_date, txn_type, amount) DO NOTHING`,
		userID, liabilityID, date, txnType, money.RoundAmount(amount),
		interest, principal, outstanding)
	return store.WrapError(err)
}
