// Package costbasis maintains purchase lots per (user, asset type, symbol)
// and derives the cost basis of sells under FIFO or weighted-average
// matching, including the 31-Jan-2018 equity grandfathering rule.
//
// CalculateCostBasis never mutates; DepleteLots consumes the matched lots
// and must run only after the sell journal has been posted, on the same
// transaction handle, so a failed commit leaves the lots untouched.
package costbasis

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

// GrandfatherCutoff and GrandfatherSaleStart bound the equity
// grandfathering rule: purchases on or before the cutoff sold on or after
// the sale-start date substitute the 31-Jan-2018 fair market value as a
// floor for cost of acquisition.
var (
	GrandfatherCutoff    = time.Date(2018, time.January, 31, 0, 0, 0, 0, time.UTC)
	GrandfatherSaleStart = time.Date(2018, time.April, 1, 0, 0, 0, 0, time.UTC)
)

// FMVSource supplies the 31-Jan-2018 fair market value per unit for a
// symbol. The bool result reports whether the value is known.
type FMVSource interface {
	FMV(symbol string) (decimal.Decimal, bool)
}

// MapFMVSource is a fixed in-memory FMV table.
type MapFMVSource map[string]decimal.Decimal

func (m MapFMVSource) FMV(symbol string) (decimal.Decimal, bool) {
	v, ok := m[symbol]
	return v, ok
}

// NoFMV is an FMVSource with no data.
type NoFMV struct{}

func (NoFMV) FMV(string) (decimal.Decimal, bool) { return decimal.Zero, false }

// MatchedLot is one lot slice consumed by a sell.
type MatchedLot struct {
	LotID           int64           `json:"lot_id"`
	AcquisitionDate time.Time       `json:"acquisition_date"`
	Units           decimal.Decimal `json:"units"`
	CostPerUnit     decimal.Decimal `json:"cost_per_unit"`
	Cost            decimal.Decimal `json:"cost"`
}

// Result is the outcome of a cost-basis calculation.
type Result struct {
	UnitsSold      decimal.Decimal `json:"units_sold"`
	MatchedLots    []MatchedLot    `json:"matched_lots"`
	TotalCostBasis decimal.Decimal `json:"total_cost_basis"`
	CostPerUnit    decimal.Decimal `json:"cost_per_unit"`
	HoldingDays    int             `json:"holding_days"`
	IsLongTerm     bool            `json:"is_long_term"`
	Grandfathered  bool            `json:"grandfathered"`
}

type lotKey struct {
	userID    int64
	assetType models.AssetType
	symbol    string
}

// Tracker is the lot store facade. The lot cache is invalidated on every
// purchase or depletion for its key.
type Tracker struct {
	method models.CostBasisMethod
	fmv    FMVSource
	cache  map[lotKey][]models.Lot
	log    *logrus.Entry
}

// NewTracker builds a tracker with the given matching method. A nil fmv
// disables grandfathering lookups.
func NewTracker(method models.CostBasisMethod, fmv FMVSource) *Tracker {
	if fmv == nil {
		fmv = NoFMV{}
	}
	return &Tracker{
		method: method,
		fmv:    fmv,
		cache:  make(map[lotKey][]models.Lot),
		log:    logrus.WithField("component", "costbasis"),
	}
}

// RecordPurchase appends a lot and returns its id.
func (t *Tracker) RecordPurchase(ctx context.Context, db store.DB, userID int64, assetType models.AssetType, symbol string, date time.Time, units, totalCost decimal.Decimal, ref, currency string) (int64, error) {
	if !units.IsPositive() || totalCost.IsNegative() {
		return 0, fmt.Errorf("%w: purchase of %s units for %s", models.ErrInvalid, units, totalCost)
	}
	if currency == "" {
		currency = "INR"
	}
	costPerUnit := decimal.Zero
	if units.IsPositive() {
		costPerUnit = totalCost.Div(units).RoundBank(4)
	}

	var id int64
	err := db.QueryRow(ctx, `
		INSERT INTO cost_basis_lots
			(user_id, asset_type, symbol, acquisition_date, units_acquired, units_remaining,
			 cost_per_unit, total_cost, currency, reference)
		VALUES ($1, $2, $3, $4, $5, $5, $6, $7, $8, $9)
		RETURNING id`,
		userID, string(assetType), symbol, date,
		money.RoundUnits(units), costPerUnit, money.RoundAmount(totalCost), currency, ref,
	).Scan(&id)
	if err != nil {
		return 0, store.WrapError(err)
	}

	delete(t.cache, lotKey{userID, assetType, symbol})
	return id, nil
}

// CalculateCostBasis matches unitsToSell against open lots without mutating
// anything. proceeds, when non-nil, feeds the grandfathering sale-value cap.
func (t *Tracker) CalculateCostBasis(ctx context.Context, db store.DB, userID int64, assetType models.AssetType, symbol string, unitsToSell decimal.Decimal, sellDate time.Time, proceeds *decimal.Decimal) (*Result, error) {
	lots, err := t.openLots(ctx, db, userID, assetType, symbol)
	if err != nil {
		return nil, err
	}

	res, err := Compute(lots, t.method, assetType, symbol, unitsToSell, sellDate, proceeds, t.fmv)
	if err != nil {
		return nil, err
	}
	if assetType.Equity() && !res.Grandfathered {
		for _, m := range res.MatchedLots {
			if !m.AcquisitionDate.After(GrandfatherCutoff) {
				t.log.WithFields(logrus.Fields{"symbol": symbol, "lot": m.LotID}).
					Warn("31-Jan-2018 FMV unknown, using purchase cost")
				break
			}
		}
	}
	return res, nil
}

// DepleteLots consumes units_remaining according to a prior calculation.
// Call only after the sell journal insert succeeded, on the same handle.
func (t *Tracker) DepleteLots(ctx context.Context, db store.DB, userID int64, assetType models.AssetType, symbol string, res *Result) error {
	for _, m := range res.MatchedLots {
		tag, err := db.Exec(ctx, `
			UPDATE cost_basis_lots
			SET units_remaining = units_remaining - $1
			WHERE id = $2 AND user_id = $3 AND units_remaining >= $1 - $4`,
			m.Units, m.LotID, userID, money.UnitTolerance)
		if err != nil {
			return store.WrapError(err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("%w: lot %d cannot supply %s units", models.ErrInsufficientUnits, m.LotID, m.Units)
		}
	}
	delete(t.cache, lotKey{userID, assetType, symbol})
	return nil
}

// ValidateLedgerSync compares the lot view of holdings against an expected
// unit count and raises an accounting-balance error on drift.
func (t *Tracker) ValidateLedgerSync(ctx context.Context, db store.DB, userID int64, assetType models.AssetType, symbol string, expectedUnits, tolerance decimal.Decimal) error {
	if tolerance.IsZero() {
		tolerance = decimal.New(1, -2)
	}
	lots, err := t.openLots(ctx, db, userID, assetType, symbol)
	if err != nil {
		return err
	}
	held := decimal.Zero
	for _, l := range lots {
		held = held.Add(l.UnitsRemaining)
	}
	if held.Sub(expectedUnits).Abs().Cmp(tolerance) > 0 {
		return fmt.Errorf("%w: %s/%s lots hold %s, ledger expects %s",
			models.ErrAccountingBalance, assetType, symbol, held, expectedUnits)
	}
	return nil
}

// HeldUnits sums units_remaining for a key.
func (t *Tracker) HeldUnits(ctx context.Context, db store.DB, userID int64, assetType models.AssetType, symbol string) (decimal.Decimal, error) {
	lots, err := t.openLots(ctx, db, userID, assetType, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	held := decimal.Zero
	for _, l := range lots {
		held = held.Add(l.UnitsRemaining)
	}
	return held, nil
}

// Invalidate drops the cached lots for a key. The transaction service calls
// this when a batch rolls back after depletion.
func (t *Tracker) Invalidate(userID int64, assetType models.AssetType, symbol string) {
	delete(t.cache, lotKey{userID, assetType, symbol})
}

// Reset drops the whole lot cache. Called after a rolled-back batch, where
// cached reads may reflect uncommitted lots.
func (t *Tracker) Reset() {
	t.cache = make(map[lotKey][]models.Lot)
}

func (t *Tracker) openLots(ctx context.Context, db store.DB, userID int64, assetType models.AssetType, symbol string) ([]models.Lot, error) {
	key := lotKey{userID, assetType, symbol}
	if lots, ok := t.cache[key]; ok {
		return lots, nil
	}

	rows, err := db.Query(ctx, `
		SELECT id, user_id, asset_type, symbol, acquisition_date,
		       units_acquired, units_remaining, cost_per_unit, total_cost, currency, reference
		FROM cost_basis_lots
		WHERE user_id = $1 AND asset_type = $2 AND symbol = $3 AND units_remaining > 0
		ORDER BY acquisition_date, id`,
		userID, string(assetType), symbol)
	if err != nil {
		return nil, store.WrapError(err)
	}
	defer rows.Close()

	var lots []models.Lot
	for rows.Next() {
		var l models.Lot
		var at string
		if err := rows.Scan(&l.ID, &l.UserID, &at, &l.Symbol, &l.AcquisitionDate,
			&l.UnitsAcquired, &l.UnitsRemaining, &l.CostPerUnit, &l.TotalCost, &l.Currency, &l.Reference); err != nil {
			return nil, store.WrapError(err)
		}
		l.AssetType = models.AssetType(at)
		lots = append(lots, l)
	}
	if err := rows.Err(); err != nil {
		return nil, store.WrapError(err)
	}

	t.cache[key] = lots
	return lots, nil
}
