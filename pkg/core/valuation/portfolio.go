package valuation

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"arthakosh/pkg/core/money"
	"arthakosh/pkg/core/store"
	"arthakosh/pkg/models"
)

// CashFlow is one dated flow for return computation. Purchases are negative,
// sales and the terminal value positive.
type CashFlow struct {
	Date   time.Time
	Amount float64
}

const (
	xirrInitialRate = 0.10
	xirrMaxIter     = 100
	xirrTolerance   = 0.001
	xirrMinRate     = -0.99
)

// XIRR solves the annualized internal rate of return by Newton-Raphson.
// Returns (0, false) on insufficient history or non-convergence.
func XIRR(flows []CashFlow) (float64, bool) {
	if len(flows) < 2 {
		return 0, false
	}
	hasNeg, hasPos := false, false
	for _, f := range flows {
		if f.Amount < 0 {
			hasNeg = true
		}
		if f.Amount > 0 {
			hasPos = true
		}
	}
	if !hasNeg || !hasPos {
		return 0, false
	}

	sorted := make([]CashFlow, len(flows))
	copy(sorted, flows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })
	t0 := sorted[0].Date

	years := func(t time.Time) float64 {
		return t.Sub(t0).Hours() / 24 / 365
	}

	rate := xirrInitialRate
	for i := 0; i < xirrMaxIter; i++ {
		npv := 0.0
		dnpv := 0.0
		for _, f := range sorted {
			y := years(f.Date)
			factor := math.Pow(1+rate, y)
			npv += f.Amount / factor
			dnpv -= y * f.Amount / (factor * (1 + rate))
		}
		if math.Abs(npv) < xirrTolerance {
			return rate, true
		}
		if dnpv == 0 || math.IsNaN(dnpv) || math.IsInf(dnpv, 0) {
			return 0, false
		}
		rate -= npv / dnpv
		if rate <= xirrMinRate {
			rate = xirrMinRate
		}
		if math.IsNaN(rate) || math.IsInf(rate, 0) {
			return 0, false
		}
	}
	return 0, false
}

// ClassReturn is one asset class's performance.
type ClassReturn struct {
	AssetType    models.AssetType `json:"asset_type"`
	Invested     decimal.Decimal  `json:"invested"`
	Redeemed     decimal.Decimal  `json:"redeemed"`
	CurrentValue decimal.Decimal  `json:"current_value"`
	XIRR         *float64         `json:"xirr,omitempty"`
}

// PortfolioService computes per-class XIRR from the transaction history and
// the balance-sheet valuation of what is still held.
type PortfolioService struct {
	db      store.DB
	balance *BalanceSheetService
	log     *logrus.Entry
}

func NewPortfolioService(db store.DB, balance *BalanceSheetService) *PortfolioService {
	return &PortfolioService{db: db, balance: balance, log: logrus.WithField("component", "portfolio")}
}

// Returns computes XIRR per asset class as of today.
func (s *PortfolioService) Returns(ctx context.Context, userID int64, today time.Time) ([]ClassReturn, error) {
	bs, err := s.balance.Compute(ctx, userID, today)
	if err != nil {
		return nil, err
	}
	current := make(map[models.AssetType]decimal.Decimal)
	for _, h := range bs.Holdings {
		current[h.AssetType] = current[h.AssetType].Add(h.Value)
	}

	mfFlows, err := s.mfFlows(ctx, userID, today)
	if err != nil {
		return nil, err
	}
	stockFlows, err := s.stockFlows(ctx, userID, today)
	if err != nil {
		return nil, err
	}

	var out []ClassReturn
	for _, class := range []struct {
		assetType models.AssetType
		flows     []CashFlow
	}{
		{models.AssetMutualFundEquity, mfFlows[models.AssetMutualFundEquity]},
		{models.AssetMutualFundDebt, mfFlows[models.AssetMutualFundDebt]},
		{models.AssetIndianStock, stockFlows},
	} {
		cr := ClassReturn{AssetType: class.assetType, CurrentValue: current[class.assetType]}
		for _, f := range class.flows {
			if f.Amount < 0 {
				cr.Invested = cr.Invested.Add(money.FromRupees(-f.Amount))
			} else {
				cr.Redeemed = cr.Redeemed.Add(money.FromRupees(f.Amount))
			}
		}
		if len(class.flows) > 0 {
			flows := class.flows
			if cr.CurrentValue.IsPositive() {
				value, _ := cr.CurrentValue.Float64()
				flows = append(flows, CashFlow{Date: today, Amount: value})
			}
			if rate, ok := XIRR(flows); ok {
				cr.XIRR = &rate
			} else {
				s.log.WithFields(logrus.Fields{"user": userID, "class": class.assetType}).
					Debug("xirr did not converge")
			}
		}
		if !cr.Invested.IsZero() || !cr.CurrentValue.IsZero() {
			out = append(out, cr)
		}
	}
	return out, nil
}

func (s *PortfolioService) mfFlows(ctx context.Context, userID int64, until time.Time) (map[models.AssetType][]CashFlow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT asset_class, txn_date, txn_type, amount FROM mf_transactions
		WHERE user_id = $1 AND txn_date <= $2 AND txn_type IN ('BUY', 'SELL', 'DIVIDEND_REINVEST')
		ORDER BY txn_date, id`, userID, until)
	if err != nil {
		return nil, store.WrapError(err)
	}
	defer rows.Close()

	out := make(map[models.AssetType][]CashFlow)
	for rows.Next() {
		var class, txnType string
		var date time.Time
		var amount decimal.Decimal
		if err := rows.Scan(&class, &date, &txnType, &amount); err != nil {
			return nil, store.WrapError(err)
		}
		assetType := models.AssetMutualFundEquity
		if class == string(models.AssetMutualFundDebt) {
			assetType = models.AssetMutualFundDebt
		}
		value, _ := amount.Abs().Float64()
		if models.TxnType(txnType) != models.TxnSell {
			value = -value
		}
		out[assetType] = append(out[assetType], CashFlow{Date: date, Amount: value})
	}
	return out, store.WrapError(rows.Err())
}

func (s *PortfolioService) stockFlows(ctx context.Context, userID int64, until time.Time) ([]CashFlow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT trade_date, trade_type, amount FROM stock_trades
		WHERE user_id = $1 AND trade_date <= $2
		ORDER BY trade_date, id`, userID, until)
	if err != nil {
		return nil, store.WrapError(err)
	}
	defer rows.Close()

	var out []CashFlow
	for rows.Next() {
		var date time.Time
		var tradeType string
		var amount decimal.Decimal
		if err := rows.Scan(&date, &tradeType, &amount); err != nil {
			return nil, store.WrapError(err)
		}
		value, _ := amount.Abs().Float64()
		if models.TxnType(tradeType) != models.TxnSell {
			value = -value
		}
		out = append(out, CashFlow{Date: date, Amount: value})
	}
	return out, store.WrapError(rows.Err())
}
