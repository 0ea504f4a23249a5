package costbasis

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arthakosh/pkg/models"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(y int, m time.Month, dd int) time.Time {
	return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
}

func lot(id int64, acquired time.Time, units, costPerUnit string) models.Lot {
	u := d(units)
	c := d(costPerUnit)
	return models.Lot{
		ID:              id,
		AcquisitionDate: acquired,
		UnitsAcquired:   u,
		UnitsRemaining:  u,
		CostPerUnit:     c,
		TotalCost:       u.Mul(c),
	}
}

func TestFIFOSingleLotRoundTrip(t *testing.T) {
	lots := []models.Lot{lot(1, day(2023, 6, 1), "100", "50")}
	res, err := Compute(lots, models.MethodFIFO, models.AssetMutualFundEquity, "FUNDX",
		d("100"), day(2024, 7, 1), nil, NoFMV{})
	require.NoError(t, err)
	assert.Equal(t, "5000.00", res.TotalCostBasis.StringFixed(2))
}

func TestFIFOPartialSellAndHoldingPeriod(t *testing.T) {
	// Purchase 2023-06-01, sell 60 of 100 on 2024-07-01: 396 days, long term.
	lots := []models.Lot{lot(1, day(2023, 6, 1), "100", "50")}
	res, err := Compute(lots, models.MethodFIFO, models.AssetMutualFundEquity, "FUNDX",
		d("60"), day(2024, 7, 1), nil, NoFMV{})
	require.NoError(t, err)
	assert.Equal(t, "3000.00", res.TotalCostBasis.StringFixed(2))
	assert.Equal(t, 396, res.HoldingDays)
	assert.True(t, res.IsLongTerm)
	require.Len(t, res.MatchedLots, 1)
	assert.Equal(t, "60.0000", res.MatchedLots[0].Units.StringFixed(4))
}

func TestHoldingPeriodExactThresholdIsShortTerm(t *testing.T) {
	lots := []models.Lot{lot(1, day(2023, 1, 1), "10", "100")}
	// Exactly 365 days: short term (strictly greater-than rule).
	res, err := Compute(lots, models.MethodFIFO, models.AssetIndianStock, "TCS",
		d("10"), day(2024, 1, 1), nil, NoFMV{})
	require.NoError(t, err)
	assert.Equal(t, 365, res.HoldingDays)
	assert.False(t, res.IsLongTerm)

	res, err = Compute(lots, models.MethodFIFO, models.AssetIndianStock, "TCS",
		d("10"), day(2024, 1, 2), nil, NoFMV{})
	require.NoError(t, err)
	assert.Equal(t, 366, res.HoldingDays)
	assert.True(t, res.IsLongTerm)
}

func TestDebtFundUses730DayThreshold(t *testing.T) {
	lots := []models.Lot{lot(1, day(2022, 1, 1), "10", "100")}
	res, err := Compute(lots, models.MethodFIFO, models.AssetMutualFundDebt, "LIQUID",
		d("10"), day(2023, 6, 1), nil, NoFMV{})
	require.NoError(t, err)
	assert.False(t, res.IsLongTerm)
}

func TestFIFOConsumesOldestFirst(t *testing.T) {
	lots := []models.Lot{
		lot(1, day(2022, 1, 1), "100", "10"),
		lot(2, day(2023, 1, 1), "100", "20"),
	}
	res, err := Compute(lots, models.MethodFIFO, models.AssetIndianStock, "INFY",
		d("100"), day(2024, 1, 1), nil, NoFMV{})
	require.NoError(t, err)
	assert.Equal(t, "1000.00", res.TotalCostBasis.StringFixed(2))
	require.Len(t, res.MatchedLots, 1)
	assert.Equal(t, int64(1), res.MatchedLots[0].LotID)
}

func TestAverageSpreadsAcrossLots(t *testing.T) {
	lots := []models.Lot{
		lot(1, day(2022, 1, 1), "100", "10"),
		lot(2, day(2023, 1, 1), "100", "20"),
	}
	res, err := Compute(lots, models.MethodAverage, models.AssetIndianStock, "INFY",
		d("100"), day(2024, 1, 1), nil, NoFMV{})
	require.NoError(t, err)
	// Weighted mean cost = 15/unit.
	assert.Equal(t, "1500.00", res.TotalCostBasis.StringFixed(2))
	require.Len(t, res.MatchedLots, 2)
	assert.Equal(t, "50.0000", res.MatchedLots[0].Units.StringFixed(4))
	assert.Equal(t, "50.0000", res.MatchedLots[1].Units.StringFixed(4))
}

func TestFIFOVersusAverageGainDifference(t *testing.T) {
	lots := []models.Lot{
		lot(1, day(2022, 1, 1), "100", "10"),
		lot(2, day(2023, 1, 1), "100", "20"),
	}
	proceeds := d("2000")

	fifo, err := Compute(lots, models.MethodFIFO, models.AssetIndianStock, "INFY",
		d("100"), day(2024, 1, 1), &proceeds, NoFMV{})
	require.NoError(t, err)
	avg, err := Compute(lots, models.MethodAverage, models.AssetIndianStock, "INFY",
		d("100"), day(2024, 1, 1), &proceeds, NoFMV{})
	require.NoError(t, err)

	fifoGain := proceeds.Sub(fifo.TotalCostBasis)
	avgGain := proceeds.Sub(avg.TotalCostBasis)
	assert.Equal(t, "500.00", fifoGain.Sub(avgGain).StringFixed(2))
}

func TestInsufficientUnits(t *testing.T) {
	lots := []models.Lot{lot(1, day(2023, 1, 1), "40", "50")}
	_, err := Compute(lots, models.MethodFIFO, models.AssetMutualFundEquity, "FUNDX",
		d("60"), day(2024, 1, 1), nil, NoFMV{})
	assert.ErrorIs(t, err, models.ErrInsufficientUnits)
}

func TestSellWithinUnitTolerance(t *testing.T) {
	lots := []models.Lot{lot(1, day(2023, 1, 1), "59.9999", "50")}
	_, err := Compute(lots, models.MethodFIFO, models.AssetMutualFundEquity, "FUNDX",
		d("60"), day(2024, 1, 1), nil, NoFMV{})
	assert.NoError(t, err)
}

func TestGrandfatheringFMVBetween(t *testing.T) {
	// P=1000, FMV=1500, S=2000 -> COA = max(1000, min(1500, 2000)) = 1500.
	lots := []models.Lot{lot(1, day(2015, 1, 1), "1", "1000")}
	fmv := MapFMVSource{"RELIANCE": d("1500")}
	proceeds := d("2000")
	res, err := Compute(lots, models.MethodFIFO, models.AssetIndianStock, "RELIANCE",
		d("1"), day(2020, 1, 1), &proceeds, fmv)
	require.NoError(t, err)
	assert.Equal(t, "1500.00", res.TotalCostBasis.StringFixed(2))
	assert.True(t, res.Grandfathered)
}

func TestGrandfatheringSaleValueCapsFMV(t *testing.T) {
	// S=1200 < FMV -> COA = 1200.
	lots := []models.Lot{lot(1, day(2015, 1, 1), "1", "1000")}
	fmv := MapFMVSource{"RELIANCE": d("1500")}
	proceeds := d("1200")
	res, err := Compute(lots, models.MethodFIFO, models.AssetIndianStock, "RELIANCE",
		d("1"), day(2020, 1, 1), &proceeds, fmv)
	require.NoError(t, err)
	assert.Equal(t, "1200.00", res.TotalCostBasis.StringFixed(2))
}

func TestGrandfatheringPurchaseCostFloor(t *testing.T) {
	// S=900 -> COA = max(1000, min(1500, 900)) = 1000.
	lots := []models.Lot{lot(1, day(2015, 1, 1), "1", "1000")}
	fmv := MapFMVSource{"RELIANCE": d("1500")}
	proceeds := d("900")
	res, err := Compute(lots, models.MethodFIFO, models.AssetIndianStock, "RELIANCE",
		d("1"), day(2020, 1, 1), &proceeds, fmv)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", res.TotalCostBasis.StringFixed(2))
}

func TestGrandfatheringUnknownFMVFallsBack(t *testing.T) {
	lots := []models.Lot{lot(1, day(2015, 1, 1), "1", "1000")}
	proceeds := d("2000")
	res, err := Compute(lots, models.MethodFIFO, models.AssetIndianStock, "RELIANCE",
		d("1"), day(2020, 1, 1), &proceeds, NoFMV{})
	require.NoError(t, err)
	assert.Equal(t, "1000.00", res.TotalCostBasis.StringFixed(2))
	assert.False(t, res.Grandfathered)
}

func TestGrandfatheringPostCutoffPurchaseUnaffected(t *testing.T) {
	lots := []models.Lot{lot(1, day(2019, 1, 1), "1", "1000")}
	fmv := MapFMVSource{"RELIANCE": d("1500")}
	proceeds := d("2000")
	res, err := Compute(lots, models.MethodFIFO, models.AssetIndianStock, "RELIANCE",
		d("1"), day(2021, 1, 1), &proceeds, fmv)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", res.TotalCostBasis.StringFixed(2))
	assert.False(t, res.Grandfathered)
}

func TestGrandfatheringNotAppliedToDebt(t *testing.T) {
	lots := []models.Lot{lot(1, day(2015, 1, 1), "1", "1000")}
	fmv := MapFMVSource{"LIQUID": d("1500")}
	proceeds := d("2000")
	res, err := Compute(lots, models.MethodFIFO, models.AssetMutualFundDebt, "LIQUID",
		d("1"), day(2020, 1, 1), &proceeds, fmv)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", res.TotalCostBasis.StringFixed(2))
}
