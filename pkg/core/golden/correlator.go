package golden

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"arthakosh/pkg/core/store"
	"arthakosh/pkg/models"
)

// Tolerances tune match classification and severity grading. Unit counts,
// not rupees: a holding off by 100 units is critical whatever its price.
type Tolerances struct {
	Absolute        decimal.Decimal `json:"absolute"`
	Percent         decimal.Decimal `json:"percent"`
	WarningUnits    decimal.Decimal `json:"warning_units"`
	ErrorUnits      decimal.Decimal `json:"error_units"`
	CriticalUnits   decimal.Decimal `json:"critical_units"`
	SuspenseEnabled bool            `json:"suspense_enabled"`
}

// DefaultTolerances matches to the fourth decimal place of units and opens
// suspense items on mismatch.
func DefaultTolerances() Tolerances {
	return Tolerances{
		Absolute:        decimal.New(1, -2),  // 0.01
		Percent:         decimal.New(1, -3),  // 0.1%
		WarningUnits:    decimal.New(1, -2),  // 0.01
		ErrorUnits:      decimal.NewFromInt(10),
		CriticalUnits:   decimal.NewFromInt(100),
		SuspenseEnabled: true,
	}
}

// SystemHolding is the system-side view of one position, derived from lots.
type SystemHolding struct {
	AssetType models.AssetType
	ISIN      string
	Folio     string
	Symbol    string
	Name      string
	Units     decimal.Decimal
}

// Comparison is one matched (or unmatched) key.
type Comparison struct {
	MatchKey    string             `json:"match_key"`
	AssetType   models.AssetType   `json:"asset_type"`
	GoldenUnits decimal.Decimal    `json:"golden_units"`
	SystemUnits decimal.Decimal    `json:"system_units"`
	Difference  decimal.Decimal    `json:"difference"`
	Result      models.MatchResult `json:"result"`
	Severity    models.Severity    `json:"severity"`
}

// ReconcileReport summarizes one reconciliation run.
type ReconcileReport struct {
	GoldenRefID    string       `json:"golden_ref_id"`
	Comparisons    []Comparison `json:"comparisons"`
	Mismatches     int          `json:"mismatches"`
	SuspenseOpened int          `json:"suspense_opened"`
	SuspenseClosed int          `json:"suspense_closed"`
}

// matchKey prefers the most specific identifier available.
func matchKey(isin, folio, symbol, name string) string {
	switch {
	case isin != "":
		return isin
	case folio != "":
		return folio
	case symbol != "":
		return symbol
	default:
		return name
	}
}

// Compare runs the pure matching pass over both sides.
func Compare(goldens []models.GoldenHolding, system []SystemHolding, tol Tolerances) []Comparison {
	type side struct {
		units     decimal.Decimal
		assetType models.AssetType
		present   bool
	}
	goldenByKey := make(map[string]side)
	var order []string
	for _, g := range goldens {
		key := matchKey(g.ISIN, g.FolioNumber, g.Symbol, g.Name)
		if _, seen := goldenByKey[key]; !seen {
			order = append(order, key)
		}
		prev := goldenByKey[key]
		goldenByKey[key] = side{units: prev.units.Add(g.Units), assetType: g.AssetType, present: true}
	}
	systemByKey := make(map[string]side)
	for _, s := range system {
		key := matchKey(s.ISIN, s.Folio, s.Symbol, s.Name)
		if _, seen := systemByKey[key]; !seen {
			if _, inGolden := goldenByKey[key]; !inGolden {
				order = append(order, key)
			}
		}
		prev := systemByKey[key]
		systemByKey[key] = side{units: prev.units.Add(s.Units), assetType: s.AssetType, present: true}
	}

	out := make([]Comparison, 0, len(order))
	for _, key := range order {
		g := goldenByKey[key]
		s := systemByKey[key]
		c := Comparison{
			MatchKey:    key,
			GoldenUnits: g.units,
			SystemUnits: s.units,
		}
		if g.present {
			c.AssetType = g.assetType
		} else {
			c.AssetType = s.assetType
		}

		switch {
		case !s.present:
			c.Result = models.MatchMissingSystem
			c.Difference = g.units.Neg()
		case !g.present:
			c.Result = models.MatchMissingGolden
			c.Difference = s.units
		default:
			c.Difference = s.units.Sub(g.units)
			abs := c.Difference.Abs()
			switch {
			case abs.IsZero():
				c.Result = models.MatchExact
			case abs.Cmp(tol.Absolute) <= 0:
				c.Result = models.MatchWithinTolerance
			case !g.units.IsZero() && abs.Div(g.units.Abs()).Cmp(tol.Percent) <= 0:
				c.Result = models.MatchWithinTolerance
			default:
				c.Result = models.MatchMismatch
			}
		}
		c.Severity = gradeSeverity(c.Difference.Abs(), tol)
		out = append(out, c)
	}
	return out
}

func gradeSeverity(abs decimal.Decimal, tol Tolerances) models.Severity {
	switch {
	case abs.Cmp(tol.CriticalUnits) >= 0:
		return models.SeverityCritical
	case abs.Cmp(tol.ErrorUnits) >= 0:
		return models.SeverityError
	case abs.Cmp(tol.WarningUnits) >= 0:
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}

// Correlator loads both sides, compares them and persists the outcome.
type Correlator struct {
	store *store.Store
	tol   Tolerances
	log   *logrus.Entry
}

func NewCorrelator(st *store.Store, tol Tolerances) *Correlator {
	return &Correlator{store: st, tol: tol, log: logrus.WithField("component", "correlator")}
}

// Reconcile compares one golden statement against the system's lots. Events
// for every comparison, suspense items for mismatches and auto-resolution of
// previously open items that now match, all in one transaction.
func (c *Correlator) Reconcile(ctx context.Context, userID int64, goldenRefID string) (*ReconcileReport, error) {
	goldens, err := c.goldenHoldings(ctx, userID, goldenRefID)
	if err != nil {
		return nil, err
	}
	if len(goldens) == 0 {
		return nil, fmt.Errorf("%w: golden reference %s has no holdings", models.ErrNotFound, goldenRefID)
	}
	system, err := c.systemHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{GoldenRefID: goldenRefID}
	report.Comparisons = Compare(goldens, system, c.tol)

	err = c.store.WithTx(ctx, func(tx pgx.Tx) error {
		for _, cmp := range report.Comparisons {
			var eventID int64
			err := tx.QueryRow(ctx, `
				INSERT INTO reconciliation_events
					(user_id, golden_ref_id, event_type, asset_type, match_key,
					 golden_value, system_value, difference, result, severity)
				VALUES ($1, $2, 'HOLDING_UNITS', $3, $4, $5, $6, $7, $8, $9)
				RETURNING id`,
				userID, goldenRefID, string(cmp.AssetType), cmp.MatchKey,
				cmp.GoldenUnits, cmp.SystemUnits, cmp.Difference,
				string(cmp.Result), string(cmp.Severity)).Scan(&eventID)
			if err != nil {
				return store.WrapError(err)
			}

			switch cmp.Result {
			case models.MatchMismatch:
				report.Mismatches++
				if c.tol.SuspenseEnabled {
					opened, err := c.openSuspense(ctx, tx, userID, eventID, cmp)
					if err != nil {
						return err
					}
					if opened {
						report.SuspenseOpened++
					}
				}
			case models.MatchExact, models.MatchWithinTolerance:
				closed, err := c.autoResolve(ctx, tx, userID, cmp.MatchKey)
				if err != nil {
					return err
				}
				report.SuspenseClosed += closed
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"user": userID, "golden_ref": goldenRefID,
		"comparisons": len(report.Comparisons), "mismatches": report.Mismatches,
	}).Info("reconciliation complete")
	return report, nil
}

// openSuspense creates one OPEN item per (user, key) with a live mismatch;
// an existing open item is refreshed, not duplicated.
func (c *Correlator) openSuspense(ctx context.Context, tx pgx.Tx, userID, eventID int64, cmp Comparison) (bool, error) {
	var existing int64
	err := tx.QueryRow(ctx, `
		SELECT id FROM suspense_items
		WHERE user_id = $1 AND match_key = $2 AND status IN ($3, $4)
		ORDER BY opened_at DESC LIMIT 1`,
		userID, cmp.MatchKey, string(models.SuspenseOpen), string(models.SuspenseInProgress)).Scan(&existing)
	if err == nil {
		_, err = tx.Exec(ctx, `
			UPDATE suspense_items SET amount = $1, event_id = $2 WHERE id = $3`,
			cmp.Difference, eventID, existing)
		return false, store.WrapError(err)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, store.WrapError(err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO suspense_items (user_id, event_id, asset_type, match_key, amount, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, eventID, string(cmp.AssetType), cmp.MatchKey, cmp.Difference,
		string(models.SuspenseOpen))
	if err != nil {
		return false, store.WrapError(err)
	}
	return true, nil
}

// autoResolve closes open items whose key now reconciles cleanly.
func (c *Correlator) autoResolve(ctx context.Context, tx pgx.Tx, userID int64, key string) (int, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE suspense_items
		SET status = $1, resolved_at = now(), notes = CASE WHEN notes = '' THEN 'reconciled on re-run' ELSE notes END
		WHERE user_id = $2 AND match_key = $3 AND status IN ($4, $5)`,
		string(models.SuspenseResolved), userID, key,
		string(models.SuspenseOpen), string(models.SuspenseInProgress))
	if err != nil {
		return 0, store.WrapError(err)
	}
	return int(tag.RowsAffected()), nil
}

func (c *Correlator) goldenHoldings(ctx context.Context, userID int64, goldenRefID string) ([]models.GoldenHolding, error) {
	rows, err := c.store.Pool().Query(ctx, `
		SELECT id, golden_ref_id, user_id, asset_type, isin, folio_number, symbol, name,
		       units, market_value, nav
		FROM golden_holdings
		WHERE user_id = $1 AND golden_ref_id = $2
		ORDER BY isin, folio_number`, userID, goldenRefID)
	if err != nil {
		return nil, store.WrapError(err)
	}
	defer rows.Close()

	var out []models.GoldenHolding
	for rows.Next() {
		var h models.GoldenHolding
		var at string
		if err := rows.Scan(&h.ID, &h.GoldenRefID, &h.UserID, &at, &h.ISIN, &h.FolioNumber,
			&h.Symbol, &h.Name, &h.Units, &h.MarketValue, &h.NAV); err != nil {
			return nil, store.WrapError(err)
		}
		h.AssetType = models.AssetType(at)
		out = append(out, h)
	}
	return out, store.WrapError(rows.Err())
}

// systemHoldings sums the open lots. A lot carries whatever label its
// statement printed, the scheme name for CAMS, the ticker for Zerodha, so
// the label is mapped back to an ISIN through the asset rows; a golden
// statement keyed by ISIN then lands on the same position instead of a
// MISSING pair.
func (c *Correlator) systemHoldings(ctx context.Context, userID int64) ([]SystemHolding, error) {
	rows, err := c.store.Pool().Query(ctx, `
		SELECT l.asset_type, l.symbol, SUM(l.units_remaining), COALESCE(MAX(ids.isin), '')
		FROM cost_basis_lots l
		LEFT JOIN (
			SELECT user_id, scheme AS label, isin FROM mf_transactions WHERE isin <> ''
			UNION
			SELECT user_id, symbol AS label, isin FROM stock_trades WHERE isin <> ''
		) ids ON ids.user_id = l.user_id AND (ids.label = l.symbol OR ids.isin = l.symbol)
		WHERE l.user_id = $1 AND l.units_remaining > 0
		GROUP BY l.asset_type, l.symbol
		ORDER BY l.symbol`, userID)
	if err != nil {
		return nil, store.WrapError(err)
	}
	defer rows.Close()

	var out []SystemHolding
	for rows.Next() {
		var at, symbol, isin string
		var units decimal.Decimal
		if err := rows.Scan(&at, &symbol, &units, &isin); err != nil {
			return nil, store.WrapError(err)
		}
		out = append(out, SystemHolding{
			AssetType: models.AssetType(at),
			ISIN:      isin,
			Symbol:    symbol,
			Name:      symbol,
			Units:     units,
		})
	}
	return out, store.WrapError(rows.Err())
}
