// Package taxrules reads the statutory rate tables: slabs, capital-gains
// rates, deductions, surcharge, cess, rebate, Chapter VI-A and DTAA. It does
// no tax arithmetic; callers apply the rates it returns.
package taxrules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"arthakosh/pkg/core/store"
	"arthakosh/pkg/models"
)

// Slab is one progressive-rate band. A nil To means open-ended.
type Slab struct {
	From decimal.Decimal  `json:"from"`
	To   *decimal.Decimal `json:"to,omitempty"`
	Rate decimal.Decimal  `json:"rate"`
}

// CGRate is a capital-gains rate for an asset class and term, effective over
// a date window.
type CGRate struct {
	AssetClass     string          `json:"asset_class"`
	Term           string          `json:"term"` // short / long
	Rate           decimal.Decimal `json:"rate"`
	ExemptionLimit decimal.Decimal `json:"exemption_limit"`
	EffectiveFrom  time.Time       `json:"effective_from"`
	EffectiveTo    *time.Time      `json:"effective_to,omitempty"`
}

// SurchargeBracket maps a total-income band to a surcharge rate.
// IncomeType "normal" applies generally; "equity_cg" carries the capped
// rates for incomes dominated by listed-equity gains.
type SurchargeBracket struct {
	IncomeType string           `json:"income_type"`
	From       decimal.Decimal  `json:"from"`
	To         *decimal.Decimal `json:"to,omitempty"`
	Rate       decimal.Decimal  `json:"rate"`
}

// RebateLimit is the §87A rebate rule.
type RebateLimit struct {
	IncomeLimit decimal.Decimal `json:"income_limit"`
	MaxRebate   decimal.Decimal `json:"max_rebate"`
}

// RuleSet is everything the calculator needs for one (FY, regime).
type RuleSet struct {
	FY                string                     `json:"financial_year"`
	Regime            models.TaxRegime           `json:"regime"`
	Slabs             []Slab                     `json:"slabs"`
	CGRates           []CGRate                   `json:"cg_rates"`
	StandardDeduction decimal.Decimal            `json:"standard_deduction"`
	Surcharges        []SurchargeBracket         `json:"surcharges"`
	CessRate          decimal.Decimal            `json:"cess_rate"`
	Rebate            RebateLimit                `json:"rebate"`
	SectionLimits     map[string]decimal.Decimal `json:"section_limits"`
}

// CGRateFor picks the capital-gains rate for an asset class and term at a
// sale date. Windowed rates (the 2024 mid-year change) resolve by date.
func (r *RuleSet) CGRateFor(assetClass, term string, saleDate time.Time) (CGRate, bool) {
	var best CGRate
	found := false
	for _, cg := range r.CGRates {
		if cg.AssetClass != assetClass || cg.Term != term {
			continue
		}
		if saleDate.Before(cg.EffectiveFrom) {
			continue
		}
		if cg.EffectiveTo != nil && saleDate.After(*cg.EffectiveTo) {
			continue
		}
		if !found || cg.EffectiveFrom.After(best.EffectiveFrom) {
			best = cg
			found = true
		}
	}
	return best, found
}

// SurchargeRate returns the surcharge rate for a total income. Unknown
// income types fall back to the normal brackets.
func (r *RuleSet) SurchargeRate(totalIncome decimal.Decimal, incomeType string) decimal.Decimal {
	rate := r.surchargeFor(totalIncome, incomeType)
	if rate == nil && incomeType != "normal" {
		rate = r.surchargeFor(totalIncome, "normal")
	}
	if rate == nil {
		return decimal.Zero
	}
	return *rate
}

func (r *RuleSet) surchargeFor(income decimal.Decimal, incomeType string) *decimal.Decimal {
	var best *decimal.Decimal
	bestFrom := decimal.Zero
	for i, b := range r.Surcharges {
		if b.IncomeType != incomeType {
			continue
		}
		if income.Cmp(b.From) < 0 {
			continue
		}
		if b.To != nil && income.Cmp(*b.To) > 0 {
			continue
		}
		if best == nil || b.From.Cmp(bestFrom) >= 0 {
			best = &r.Surcharges[i].Rate
			bestFrom = b.From
		}
	}
	return best
}

// SectionLimit returns the Chapter VI-A cap for a section, zero when the
// regime does not allow it.
func (r *RuleSet) SectionLimit(section string) decimal.Decimal {
	return r.SectionLimits[section]
}

type cacheKey struct {
	fy     string
	regime models.TaxRegime
}

// Service loads rule sets from the store with a write-once in-memory cache.
type Service struct {
	db store.DB

	mu    sync.RWMutex
	cache map[cacheKey]*RuleSet

	log *logrus.Entry
}

func NewService(db store.DB) *Service {
	return &Service{
		db:    db,
		cache: make(map[cacheKey]*RuleSet),
		log:   logrus.WithField("component", "taxrules"),
	}
}

// NewServiceWithRules builds a service preloaded with fixed rule sets and no
// database. Intended for the calculator's tests.
func NewServiceWithRules(rules ...*RuleSet) *Service {
	s := &Service{cache: make(map[cacheKey]*RuleSet), log: logrus.WithField("component", "taxrules")}
	for _, r := range rules {
		s.cache[cacheKey{r.FY, r.Regime}] = r
	}
	return s
}

// Rules returns the rule set for a financial year and regime, loading it
// once per process.
func (s *Service) Rules(ctx context.Context, fy string, regime models.TaxRegime) (*RuleSet, error) {
	key := cacheKey{fy, regime}
	s.mu.RLock()
	if r, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return r, nil
	}
	s.mu.RUnlock()

	if s.db == nil {
		return nil, fmt.Errorf("%w: no tax rules for %s/%s", models.ErrNotFound, fy, regime)
	}

	r, err := s.load(ctx, fy, regime)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[key] = r
	s.mu.Unlock()
	s.log.WithFields(logrus.Fields{"fy": fy, "regime": regime}).Debug("rule set loaded")
	return r, nil
}

// DTAARate returns the treaty withholding rate for a country and income type
// at a given date.
func (s *Service) DTAARate(ctx context.Context, country, incomeType string, at time.Time) (decimal.Decimal, string, error) {
	if s.db == nil {
		return decimal.Zero, "", models.ErrNotFound
	}
	var rate decimal.Decimal
	var article string
	err := s.db.QueryRow(ctx, `
		SELECT treaty_rate, article FROM dtaa_articles
		WHERE country = $1 AND income_type = $2
		  AND effective_from <= $3 AND (effective_to IS NULL OR effective_to >= $3)
		ORDER BY effective_from DESC LIMIT 1`,
		country, incomeType, at).Scan(&rate, &article)
	if err != nil {
		return decimal.Zero, "", store.WrapError(err)
	}
	return rate, article, nil
}

func (s *Service) load(ctx context.Context, fy string, regime models.TaxRegime) (*RuleSet, error) {
	r := &RuleSet{FY: fy, Regime: regime, SectionLimits: make(map[string]decimal.Decimal)}

	rows, err := s.db.Query(ctx, `
		SELECT slab_from, slab_to, rate FROM income_tax_slabs
		WHERE financial_year = $1 AND regime = $2
		ORDER BY slab_from`, fy, string(regime))
	if err != nil {
		return nil, store.WrapError(err)
	}
	defer rows.Close()
	for rows.Next() {
		var sl Slab
		if err := rows.Scan(&sl.From, &sl.To, &sl.Rate); err != nil {
			return nil, store.WrapError(err)
		}
		r.Slabs = append(r.Slabs, sl)
	}
	if err := rows.Err(); err != nil {
		return nil, store.WrapError(err)
	}
	if len(r.Slabs) == 0 {
		return nil, fmt.Errorf("%w: no tax slabs for %s/%s", models.ErrNotFound, fy, regime)
	}

	cgRows, err := s.db.Query(ctx, `
		SELECT asset_class, term, rate, exemption_limit, effective_from, effective_to
		FROM capital_gains_rates WHERE financial_year = $1
		ORDER BY asset_class, term, effective_from`, fy)
	if err != nil {
		return nil, store.WrapError(err)
	}
	defer cgRows.Close()
	for cgRows.Next() {
		var cg CGRate
		if err := cgRows.Scan(&cg.AssetClass, &cg.Term, &cg.Rate, &cg.ExemptionLimit, &cg.EffectiveFrom, &cg.EffectiveTo); err != nil {
			return nil, store.WrapError(err)
		}
		r.CGRates = append(r.CGRates, cg)
	}
	if err := cgRows.Err(); err != nil {
		return nil, store.WrapError(err)
	}

	err = s.db.QueryRow(ctx, `
		SELECT amount FROM standard_deductions
		WHERE financial_year = $1 AND regime = $2 AND income_type = 'salary'`,
		fy, string(regime)).Scan(&r.StandardDeduction)
	if err != nil {
		wrapped := store.WrapError(err)
		if !errors.Is(wrapped, models.ErrNotFound) {
			return nil, wrapped
		}
	}

	surRows, err := s.db.Query(ctx, `
		SELECT income_type, income_from, income_to, rate FROM surcharge_rates
		WHERE financial_year = $1 AND regime = $2
		ORDER BY income_type, income_from`, fy, string(regime))
	if err != nil {
		return nil, store.WrapError(err)
	}
	defer surRows.Close()
	for surRows.Next() {
		var b SurchargeBracket
		if err := surRows.Scan(&b.IncomeType, &b.From, &b.To, &b.Rate); err != nil {
			return nil, store.WrapError(err)
		}
		r.Surcharges = append(r.Surcharges, b)
	}
	if err := surRows.Err(); err != nil {
		return nil, store.WrapError(err)
	}

	if err := s.db.QueryRow(ctx, `
		SELECT rate FROM cess_rates WHERE financial_year = $1`, fy).Scan(&r.CessRate); err != nil {
		wrapped := store.WrapError(err)
		if !errors.Is(wrapped, models.ErrNotFound) {
			return nil, wrapped
		}
	}

	err = s.db.QueryRow(ctx, `
		SELECT income_limit, max_rebate FROM rebate_limits
		WHERE financial_year = $1 AND regime = $2`,
		fy, string(regime)).Scan(&r.Rebate.IncomeLimit, &r.Rebate.MaxRebate)
	if err != nil {
		wrapped := store.WrapError(err)
		if !errors.Is(wrapped, models.ErrNotFound) {
			return nil, wrapped
		}
	}

	viaRows, err := s.db.Query(ctx, `
		SELECT section, max_amount FROM chapter_via_limits
		WHERE financial_year = $1 AND regime = $2`, fy, string(regime))
	if err != nil {
		return nil, store.WrapError(err)
	}
	defer viaRows.Close()
	for viaRows.Next() {
		var section string
		var max decimal.Decimal
		if err := viaRows.Scan(&section, &max); err != nil {
			return nil, store.WrapError(err)
		}
		r.SectionLimits[section] = max
	}
	if err := viaRows.Err(); err != nil {
		return nil, store.WrapError(err)
	}

	return r, nil
}
