package golden

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
	"arthakosh/pkg/models"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func goldenHolding(isin, folio, name, units string) models.GoldenHolding {
	return models.GoldenHolding{
		AssetType:   models.AssetMutualFundEquity,
		ISIN:        isin,
		FolioNumber: folio,
		Name:        name,
		Units:       d(units),
	}
}

func systemHolding(isin, units string) SystemHolding {
	return SystemHolding{
		AssetType: models.AssetMutualFundEquity,
		ISIN:      isin,
		Name:      isin,
		Units:     d(units),
	}
}

func TestCompareClassification(t *testing.T) {
	tol := DefaultTolerances()
	goldens := []models.GoldenHolding{
		goldenHolding("INF846K01EW2", "F1", "Axis Bluechip", "100"),
		goldenHolding("INF109K01BL4", "F2", "ICICI Value", "245.678"),
		goldenHolding("INF204K01XI3", "F3", "Nippon Liquid", "50.005"),
		goldenHolding("INF966L01AG5", "F4", "Quant Small Cap", "300"),
	}
	system := []SystemHolding{
		systemHolding("INF846K01EW2", "100"),
		systemHolding("INF109K01BL4", "240.000"),
		systemHolding("INF204K01XI3", "50"),
		systemHolding("INE009A01021", "25"),
	}

	byKey := map[string]Comparison{}
	for _, c := range Compare(goldens, system, tol) {
		byKey[c.MatchKey] = c
	}
	require.Len(t, byKey, 5)

	assert.Equal(t, models.MatchExact, byKey["INF846K01EW2"].Result)

	// 5.678 units off: a mismatch, but modest in unit terms.
	mismatch := byKey["INF109K01BL4"]
	assert.Equal(t, models.MatchMismatch, mismatch.Result)
	assert.Equal(t, "-5.678", mismatch.Difference.String())
	assert.Equal(t, models.SeverityWarning, mismatch.Severity)

	// 0.005 is inside the absolute tolerance.
	assert.Equal(t, models.MatchWithinTolerance, byKey["INF204K01XI3"].Result)
	assert.Equal(t, models.SeverityInfo, byKey["INF204K01XI3"].Severity)

	missing := byKey["INF966L01AG5"]
	assert.Equal(t, models.MatchMissingSystem, missing.Result)
	assert.Equal(t, "-300", missing.Difference.String())
	assert.Equal(t, models.SeverityCritical, missing.Severity)

	assert.Equal(t, models.MatchMissingGolden, byKey["INE009A01021"].Result)
}

func TestComparePercentTolerance(t *testing.T) {
	tol := DefaultTolerances()

	// 0.08% off on a large position: over absolute, under percentage.
	cs := Compare(
		[]models.GoldenHolding{goldenHolding("INF846K01EW2", "F1", "Fund", "10000")},
		[]SystemHolding{systemHolding("INF846K01EW2", "9992")},
		tol)
	require.Len(t, cs, 1)
	assert.Equal(t, models.MatchWithinTolerance, cs[0].Result)
}

func TestCompareKeyFallback(t *testing.T) {
	// No ISIN anywhere: folio, then name, carry the match.
	goldens := []models.GoldenHolding{
		goldenHolding("", "FOLIO9", "Some Fund", "10"),
		goldenHolding("", "", "Only Name", "5"),
	}
	system := []SystemHolding{
		{AssetType: models.AssetMutualFundEquity, Folio: "FOLIO9", Units: d("10")},
		{AssetType: models.AssetMutualFundEquity, Name: "Only Name", Units: d("5")},
	}
	for _, c := range Compare(goldens, system, DefaultTolerances()) {
		assert.Equal(t, models.MatchExact, c.Result, c.MatchKey)
	}
}

func TestGradeSeverity(t *testing.T) {
	tol := DefaultTolerances()
	assert.Equal(t, models.SeverityInfo, gradeSeverity(d("0.001"), tol))
	assert.Equal(t, models.SeverityWarning, gradeSeverity(d("0.5"), tol))
	assert.Equal(t, models.SeverityWarning, gradeSeverity(d("5.678"), tol))
	assert.Equal(t, models.SeverityError, gradeSeverity(d("10"), tol))
	assert.Equal(t, models.SeverityCritical, gradeSeverity(d("100"), tol))
}

func TestTransitionAllowed(t *testing.T) {
	assert.True(t, transitionAllowed(models.SuspenseOpen, models.SuspenseInProgress))
	assert.True(t, transitionAllowed(models.SuspenseOpen, models.SuspenseResolved))
	assert.True(t, transitionAllowed(models.SuspenseInProgress, models.SuspenseWrittenOff))
	assert.False(t, transitionAllowed(models.SuspenseResolved, models.SuspenseOpen))
	assert.False(t, transitionAllowed(models.SuspenseWrittenOff, models.SuspenseResolved))
}

func TestResolverOverrideLayers(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(nil)

	// Built-in defaults.
	sources, err := r.Sources(ctx, 1, MetricHoldingUnits, "mf_equity")
	require.NoError(t, err)
	assert.Equal(t, models.SourceNSDLCAS, sources[0])

	// Wildcard default.
	sources, err = r.Sources(ctx, 1, MetricMarketValue, "stock_in")
	require.NoError(t, err)
	assert.Equal(t, []models.Source{models.SourceNSDLCAS}, sources)

	_, err = r.Sources(ctx, 1, "unknown_metric", "mf_equity")
	assert.ErrorIs(t, err, models.ErrNotFound)

	// HJSON file overrides win over everything.
	path := filepath.Join(t.TempDir(), "resolver.hjson")
	require.NoError(t, os.WriteFile(path, []byte(`
{
  // prefer the RTA over the depository for unit counts
  holding_units: {
    mf_equity: [cams, nsdl_cas]
  }
}
`), 0o644))
	require.NoError(t, r.LoadOverrides(path))

	sources, err = r.Sources(ctx, 1, MetricHoldingUnits, "mf_equity")
	require.NoError(t, err)
	assert.Equal(t, []models.Source{models.SourceCAMS, models.SourceNSDLCAS}, sources)

	// Missing file is fine.
	require.NoError(t, r.LoadOverrides(filepath.Join(t.TempDir(), "absent.hjson")))
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

func seedGolden(t *testing.T, st *store.Store, userID int64, refID, isin, units string) {
	t.Helper()
	ctx := context.Background()
	_, err := st.Pool().Exec(ctx, `
		INSERT INTO golden_references (user_id, reference_id, source, statement_date, file_hash)
		VALUES ($1, $2, 'nsdl_cas', '2024-03-31', $2)
		ON CONFLICT (reference_id) DO NOTHING`, userID, refID)
	require.NoError(t, err)
	_, err = st.Pool().Exec(ctx, `
		INSERT INTO golden_holdings (golden_ref_id, user_id, asset_type, isin, name, units)
		VALUES ($1, $2, 'mf_equity', $3, 'Fund', $4)
		ON CONFLICT (golden_ref_id, isin, folio_number) DO UPDATE SET units = EXCLUDED.units`,
		refID, userID, isin, units)
	require.NoError(t, err)
}

func seedLot(t *testing.T, st *store.Store, userID int64, isin, units string) {
	t.Helper()
	_, err := st.Pool().Exec(context.Background(), `
		INSERT INTO cost_basis_lots
			(user_id, asset_type, symbol, acquisition_date, units_acquired, units_remaining,
			 cost_per_unit, total_cost)
		VALUES ($1, 'mf_equity', $2, '2023-06-01', $3, $3, 100, 10000)`,
		userID, isin, units)
	require.NoError(t, err)
}

// TestReconcileMismatchThenResolution walks the statement through a 5.678
// unit drift, a suspense item, the data fix and the clean re-run.
func TestReconcileMismatchThenResolution(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	var userID int64
	require.NoError(t, st.Pool().QueryRow(ctx, `
		INSERT INTO users (name, email) VALUES ('test', $1) RETURNING id`,
		fmt.Sprintf("golden-%d@test.local", time.Now().UnixNano())).Scan(&userID))

	refID := fmt.Sprintf("nsdl:%d", userID)
	seedGolden(t, st, userID, refID, "INF109K01BL4", "245.678")
	seedLot(t, st, userID, "INF109K01BL4", "240.000")

	correlator := NewCorrelator(st, DefaultTolerances())
	report, err := correlator.Reconcile(ctx, userID, refID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Mismatches)
	assert.Equal(t, 1, report.SuspenseOpened)

	mgr := NewSuspenseManager(st)
	open, err := mgr.Open(ctx, userID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "INF109K01BL4", open[0].MatchKey)
	assert.Equal(t, "-5.678", open[0].Amount.String())

	require.NoError(t, mgr.Transition(ctx, userID, open[0].ID, models.SuspenseInProgress, "missing switch-in"))

	// The fix: the missing units get a lot, the next run reconciles and
	// auto-resolves the item.
	seedLot(t, st, userID, "INF109K01BL4", "5.678")
	report, err = correlator.Reconcile(ctx, userID, refID)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Mismatches)
	assert.Equal(t, 1, report.SuspenseClosed)

	open, err = mgr.Open(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, open)
}

// TestReconcileSchemeNamedLots crosses statement sources: the lots came from
// a CAMS file and carry the scheme name, the golden statement is an NSDL CAS
// keyed by ISIN. The asset rows bridge the two, so the drift surfaces as one
// mismatch on the ISIN rather than a missing pair.
func TestReconcileSchemeNamedLots(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	var userID int64
	require.NoError(t, st.Pool().QueryRow(ctx, `
		INSERT INTO users (name, email) VALUES ('test', $1) RETURNING id`,
		fmt.Sprintf("crosssource-%d@test.local", time.Now().UnixNano())).Scan(&userID))

	_, err := st.Pool().Exec(ctx, `
		INSERT INTO mf_transactions
			(user_id, folio, scheme, isin, asset_class, txn_date, txn_type, amount, units, nav, source)
		VALUES ($1, '123/45', 'Axis Bluechip Fund Growth', 'INF846K01EW2', 'mf_equity',
		        '2023-06-01', 'BUY', 50000, 500, 100, 'cams')`, userID)
	require.NoError(t, err)
	seedLot(t, st, userID, "Axis Bluechip Fund Growth", "500")

	refID := fmt.Sprintf("nsdl:x:%d", userID)
	seedGolden(t, st, userID, refID, "INF846K01EW2", "520")

	report, err := NewCorrelator(st, DefaultTolerances()).Reconcile(ctx, userID, refID)
	require.NoError(t, err)
	require.Len(t, report.Comparisons, 1)
	cmp := report.Comparisons[0]
	assert.Equal(t, "INF846K01EW2", cmp.MatchKey)
	assert.Equal(t, models.MatchMismatch, cmp.Result)
	assert.Equal(t, "-20", cmp.Difference.String())
	assert.Equal(t, 1, report.Mismatches)
}

func TestSuspenseManualLifecycle(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	var userID int64
	require.NoError(t, st.Pool().QueryRow(ctx, `
		INSERT INTO users (name, email) VALUES ('test', $1) RETURNING id`,
		fmt.Sprintf("suspense-%d@test.local", time.Now().UnixNano())).Scan(&userID))

	refID := fmt.Sprintf("nsdl:s:%d", userID)
	seedGolden(t, st, userID, refID, "INF846K01EW2", "100")
	seedLot(t, st, userID, "INF846K01EW2", "90")

	correlator := NewCorrelator(st, DefaultTolerances())
	_, err := correlator.Reconcile(ctx, userID, refID)
	require.NoError(t, err)

	mgr := NewSuspenseManager(st)
	open, err := mgr.Open(ctx, userID)
	require.NoError(t, err)
	require.Len(t, open, 1)

	// A second run with the same drift refreshes, not duplicates.
	_, err = correlator.Reconcile(ctx, userID, refID)
	require.NoError(t, err)
	open, err = mgr.Open(ctx, userID)
	require.NoError(t, err)
	require.Len(t, open, 1)

	id := open[0].ID
	assert.ErrorIs(t, mgr.Transition(ctx, userID, id, models.SuspenseOpen, ""), models.ErrInvalid)

	require.NoError(t, mgr.Transition(ctx, userID, id, models.SuspenseWrittenOff, "units gifted, never ours"))
	item, err := mgr.Get(ctx, userID, id)
	require.NoError(t, err)
	assert.Equal(t, models.SuspenseWrittenOff, item.Status)
	require.NotNil(t, item.ResolvedAt)

	// Terminal states reject further movement.
	assert.ErrorIs(t, mgr.Transition(ctx, userID, id, models.SuspenseResolved, ""), models.ErrInvalid)
}
