package costbasis

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"arthakosh/pkg/core/money"
	"arthakosh/pkg/models"
)

// Compute matches unitsToSell against the given open lots and derives cost
// basis, holding period and the long-term flag. Pure: lots are not mutated.
//
// FIFO consumes lots in acquisition-date order. Average computes the
// weighted mean cost over all held lots at sell time and depletes each
// proportionally. Holding days count from the earliest matched lot.
func Compute(lots []models.Lot, method models.CostBasisMethod, assetType models.AssetType, symbol string, unitsToSell decimal.Decimal, sellDate time.Time, proceeds *decimal.Decimal, fmv FMVSource) (*Result, error) {
	if !unitsToSell.IsPositive() {
		return nil, fmt.Errorf("%w: units to sell must be positive, got %s", models.ErrInvalid, unitsToSell)
	}

	held := decimal.Zero
	for _, l := range lots {
		held = held.Add(l.UnitsRemaining)
	}
	if held.Cmp(unitsToSell.Sub(money.UnitTolerance)) < 0 {
		return nil, fmt.Errorf("%w: %s/%s holds %s, sell of %s requested",
			models.ErrInsufficientUnits, assetType, symbol, held, unitsToSell)
	}

	var matched []MatchedLot
	switch method {
	case models.MethodAverage:
		matched = matchAverage(lots, unitsToSell, held)
	default:
		matched = matchFIFO(lots, unitsToSell)
	}

	res := &Result{
		UnitsSold:   money.RoundUnits(unitsToSell),
		MatchedLots: matched,
	}

	total := decimal.Zero
	earliest := time.Time{}
	for _, m := range matched {
		total = total.Add(m.Cost)
		if earliest.IsZero() || m.AcquisitionDate.Before(earliest) {
			earliest = m.AcquisitionDate
		}
	}

	if assetType.Equity() {
		adjusted, grandfathered := applyGrandfathering(matched, sellDate, unitsToSell, proceeds, symbol, fmv)
		total = adjusted
		res.Grandfathered = grandfathered
	}

	res.TotalCostBasis = money.RoundAmount(total)
	if unitsToSell.IsPositive() {
		res.CostPerUnit = total.Div(unitsToSell).RoundBank(4)
	}
	if !earliest.IsZero() {
		res.HoldingDays = int(sellDate.Sub(earliest).Hours() / 24)
	}
	res.IsLongTerm = res.HoldingDays > assetType.LongTermThresholdDays()
	return res, nil
}

func matchFIFO(lots []models.Lot, unitsToSell decimal.Decimal) []MatchedLot {
	var matched []MatchedLot
	remaining := unitsToSell
	for _, l := range lots {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(l.UnitsRemaining, remaining)
		if !take.IsPositive() {
			continue
		}
		matched = append(matched, MatchedLot{
			LotID:           l.ID,
			AcquisitionDate: l.AcquisitionDate,
			Units:           money.RoundUnits(take),
			CostPerUnit:     l.CostPerUnit,
			Cost:            money.RoundAmount(take.Mul(l.CostPerUnit)),
		})
		remaining = remaining.Sub(take)
	}
	return matched
}

func matchAverage(lots []models.Lot, unitsToSell, held decimal.Decimal) []MatchedLot {
	totalCost := decimal.Zero
	for _, l := range lots {
		totalCost = totalCost.Add(l.UnitsRemaining.Mul(l.CostPerUnit))
	}
	if held.IsZero() {
		return nil
	}
	avgCost := totalCost.Div(held)
	fraction := unitsToSell.Div(held)

	var matched []MatchedLot
	for _, l := range lots {
		take := money.RoundUnits(l.UnitsRemaining.Mul(fraction))
		if !take.IsPositive() {
			continue
		}
		matched = append(matched, MatchedLot{
			LotID:           l.ID,
			AcquisitionDate: l.AcquisitionDate,
			Units:           take,
			CostPerUnit:     avgCost.RoundBank(4),
			Cost:            money.RoundAmount(take.Mul(avgCost)),
		})
	}
	return matched
}

// applyGrandfathering substitutes the 31-Jan-2018 FMV as a cost floor for
// equity lots bought on or before the cutoff. For each such lot:
//
//	sale before 1-Apr-2018       -> COA = prorated sale value (no tax)
//	sale on/after 1-Apr-2018     -> COA = max(P, min(FMV*units, prorated S))
//
// When FMV is unknown the lot keeps its purchase cost and the result is
// marked non-grandfathered.
func applyGrandfathering(matched []MatchedLot, sellDate time.Time, unitsToSell decimal.Decimal, proceeds *decimal.Decimal, symbol string, fmv FMVSource) (decimal.Decimal, bool) {
	total := decimal.Zero
	applied := false

	for _, m := range matched {
		if m.AcquisitionDate.After(GrandfatherCutoff) {
			total = total.Add(m.Cost)
			continue
		}

		var lotProceeds *decimal.Decimal
		if proceeds != nil && unitsToSell.IsPositive() {
			p := proceeds.Mul(m.Units).Div(unitsToSell)
			lotProceeds = &p
		}

		if sellDate.Before(GrandfatherSaleStart) {
			if lotProceeds != nil {
				total = total.Add(*lotProceeds)
				applied = true
			} else {
				total = total.Add(m.Cost)
			}
			continue
		}

		fmvPerUnit, known := fmv.FMV(symbol)
		if !known {
			total = total.Add(m.Cost)
			continue
		}

		coa := fmvPerUnit.Mul(m.Units)
		if lotProceeds != nil {
			coa = decimal.Min(coa, *lotProceeds)
		}
		coa = decimal.Max(coa, m.Cost)
		total = total.Add(coa)
		applied = true
	}
	return total, applied
}
