// Package golden reconciles authoritative statements (depository CAS, RTA
// exports) against the system's own view of holdings, and tracks the
// discrepancies it finds through a suspense workflow.
package golden

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hjson/hjson-go/v4"
	"github.com/sirupsen/logrus"

	"arthakosh/pkg/core/store"
	"arthakosh/pkg/models"
)

// Metrics a truth source can be authoritative for.
const (
	MetricHoldingUnits = "holding_units"
	MetricCostBasis    = "cost_basis"
	MetricMarketValue  = "market_value"
	MetricBalance      = "balance"
)

type resolverKey struct {
	metric     string
	assetClass string
}

// defaultSourceOrder is the built-in authority ranking. The depository view
// wins for what is held; the RTA wins for transaction-derived metrics.
var defaultSourceOrder = map[resolverKey][]models.Source{
	{MetricHoldingUnits, "mf_equity"}: {models.SourceNSDLCAS, models.SourceCAMS, models.SourceKarvy},
	{MetricHoldingUnits, "mf_debt"}:   {models.SourceNSDLCAS, models.SourceCAMS, models.SourceKarvy},
	{MetricHoldingUnits, "stock_in"}:  {models.SourceNSDLCAS, models.SourceZerodha},
	{MetricHoldingUnits, "sgb"}:       {models.SourceNSDLCAS},
	{MetricCostBasis, "mf_equity"}:    {models.SourceCAMS, models.SourceKarvy},
	{MetricCostBasis, "mf_debt"}:      {models.SourceCAMS, models.SourceKarvy},
	{MetricCostBasis, "stock_in"}:     {models.SourceZerodha, models.SourceICICI},
	{MetricMarketValue, "*"}:          {models.SourceNSDLCAS},
	{MetricBalance, "bank"}:           {models.SourceBank},
	{MetricBalance, "ppf"}:            {models.SourcePPF},
}

// Resolver answers "which sources are authoritative, in order" for a metric
// and asset class. Config-file overrides beat DB overrides beat defaults.
type Resolver struct {
	db        store.DB
	overrides map[resolverKey][]models.Source
	log       *logrus.Entry
}

func NewResolver(db store.DB) *Resolver {
	return &Resolver{
		db:        db,
		overrides: make(map[resolverKey][]models.Source),
		log:       logrus.WithField("component", "truthresolver"),
	}
}

// LoadOverrides reads an HJSON file shaped {metric: {asset_class: [sources]}}
// and installs its entries as the highest-priority layer. A missing file is
// not an error.
func (r *Resolver) LoadOverrides(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", models.ErrInvalid, err)
	}

	var doc map[string]map[string][]string
	if err := hjson.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %s: %v", models.ErrInvalid, path, err)
	}

	for metric, byClass := range doc {
		for class, names := range byClass {
			sources := make([]models.Source, 0, len(names))
			for _, n := range names {
				sources = append(sources, models.Source(strings.TrimSpace(n)))
			}
			r.overrides[resolverKey{metric, class}] = sources
		}
	}
	r.log.WithField("path", path).Info("resolver overrides loaded")
	return nil
}

// Sources returns the authority order for (metric, assetClass). Lookup
// order: config override, per-user DB override, exact default, wildcard
// default.
func (r *Resolver) Sources(ctx context.Context, userID int64, metric, assetClass string) ([]models.Source, error) {
	if s, ok := r.overrides[resolverKey{metric, assetClass}]; ok {
		return s, nil
	}
	if s, ok := r.overrides[resolverKey{metric, "*"}]; ok {
		return s, nil
	}

	if r.db != nil {
		var csv string
		err := r.db.QueryRow(ctx, `
			SELECT sources FROM truth_resolver_overrides
			WHERE user_id = $1 AND metric = $2 AND asset_class = $3`,
			userID, metric, assetClass).Scan(&csv)
		if err == nil {
			return parseSourceList(csv), nil
		}
		if wrapped := store.WrapError(err); !errors.Is(wrapped, models.ErrNotFound) {
			return nil, wrapped
		}
	}

	if s, ok := defaultSourceOrder[resolverKey{metric, assetClass}]; ok {
		return s, nil
	}
	if s, ok := defaultSourceOrder[resolverKey{metric, "*"}]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: no truth source for %s/%s", models.ErrNotFound, metric, assetClass)
}

// SetOverride stores a per-user authority order.
func (r *Resolver) SetOverride(ctx context.Context, userID int64, metric, assetClass string, sources []models.Source) error {
	names := make([]string, 0, len(sources))
	for _, s := range sources {
		names = append(names, string(s))
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO truth_resolver_overrides (user_id, metric, asset_class, sources)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, metric, asset_class) DO UPDATE SET sources = EXCLUDED.sources`,
		userID, metric, assetClass, strings.Join(names, ","))
	return store.WrapError(err)
}

func parseSourceList(csv string) []models.Source {
	parts := strings.Split(csv, ",")
	out := make([]models.Source, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, models.Source(p))
		}
	}
	return out
}
