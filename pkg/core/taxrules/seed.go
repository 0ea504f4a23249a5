package taxrules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"

	"arthakosh/pkg/core/store"
	"arthakosh/pkg/models"
)

// ruleFile is the YAML shape of one financial year's statutory rates.
// Amounts are plain numbers in rupees; rates are fractions (0.05 = 5%).
type ruleFile struct {
	FinancialYear string  `yaml:"financial_year"`
	Cess          float64 `yaml:"cess"`

	Regimes map[string]regimeRules `yaml:"regimes"`

	CapitalGains []cgRule `yaml:"capital_gains"`

	DTAA []dtaaRule `yaml:"dtaa"`
}

type regimeRules struct {
	Slabs             []slabRule `yaml:"slabs"`
	StandardDeduction float64    `yaml:"standard_deduction"`
	Rebate            struct {
		IncomeLimit float64 `yaml:"income_limit"`
		MaxRebate   float64 `yaml:"max_rebate"`
	} `yaml:"rebate"`
	Surcharges []surchargeRule       `yaml:"surcharges"`
	ChapterVIA map[string]float64    `yaml:"chapter_via"`
}

type slabRule struct {
	From float64  `yaml:"from"`
	To   *float64 `yaml:"to"`
	Rate float64  `yaml:"rate"`
}

type surchargeRule struct {
	IncomeType string   `yaml:"income_type"`
	From       float64  `yaml:"from"`
	To         *float64 `yaml:"to"`
	Rate       float64  `yaml:"rate"`
}

type cgRule struct {
	AssetClass     string  `yaml:"asset_class"`
	Term           string  `yaml:"term"`
	Rate           float64 `yaml:"rate"`
	ExemptionLimit float64 `yaml:"exemption_limit"`
	EffectiveFrom  string  `yaml:"effective_from"`
	EffectiveTo    string  `yaml:"effective_to"`
}

type dtaaRule struct {
	Country       string  `yaml:"country"`
	IncomeType    string  `yaml:"income_type"`
	Article       string  `yaml:"article"`
	TreatyRate    float64 `yaml:"treaty_rate"`
	EffectiveFrom string  `yaml:"effective_from"`
	EffectiveTo   string  `yaml:"effective_to"`
}

// SeedFromDir loads every *.yaml rule file in dir into the rate tables.
// Existing rows for the same keys are replaced, so re-seeding after a rate
// change is safe.
func SeedFromDir(ctx context.Context, db store.DB, dir string) error {
	entries, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalid, err)
	}
	sort.Strings(entries)
	if len(entries) == 0 {
		return fmt.Errorf("%w: no rule files in %s", models.ErrNotFound, dir)
	}
	for _, path := range entries {
		if err := SeedFromFile(ctx, db, path); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

// SeedFromFile loads one YAML rule file.
func SeedFromFile(ctx context.Context, db store.DB, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalid, err)
	}
	var rf ruleFile
	if err := yaml.Unmarshal(raw, &rf); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalid, err)
	}
	if rf.FinancialYear == "" {
		return fmt.Errorf("%w: rule file without financial_year", models.ErrInvalid)
	}
	return seedRules(ctx, db, rf)
}

func seedRules(ctx context.Context, db store.DB, rf ruleFile) error {
	fy := rf.FinancialYear

	if rf.Cess > 0 {
		if _, err := db.Exec(ctx, `
			INSERT INTO cess_rates (financial_year, rate) VALUES ($1, $2)
			ON CONFLICT (financial_year) DO UPDATE SET rate = EXCLUDED.rate`,
			fy, rate(rf.Cess)); err != nil {
			return store.WrapError(err)
		}
	}

	for regime, rr := range rf.Regimes {
		for _, sl := range rr.Slabs {
			if _, err := db.Exec(ctx, `
				INSERT INTO income_tax_slabs (financial_year, regime, slab_from, slab_to, rate)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (financial_year, regime, slab_from) DO UPDATE
				SET slab_to = EXCLUDED.slab_to, rate = EXCLUDED.rate`,
				fy, regime, amount(sl.From), optAmount(sl.To), rate(sl.Rate)); err != nil {
				return store.WrapError(err)
			}
		}

		if rr.StandardDeduction > 0 {
			if _, err := db.Exec(ctx, `
				INSERT INTO standard_deductions (financial_year, regime, income_type, amount)
				VALUES ($1, $2, 'salary', $3)
				ON CONFLICT (financial_year, regime, income_type) DO UPDATE
				SET amount = EXCLUDED.amount`,
				fy, regime, amount(rr.StandardDeduction)); err != nil {
				return store.WrapError(err)
			}
		}

		if rr.Rebate.IncomeLimit > 0 {
			if _, err := db.Exec(ctx, `
				INSERT INTO rebate_limits (financial_year, regime, income_limit, max_rebate)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (financial_year, regime) DO UPDATE
				SET income_limit = EXCLUDED.income_limit, max_rebate = EXCLUDED.max_rebate`,
				fy, regime, amount(rr.Rebate.IncomeLimit), amount(rr.Rebate.MaxRebate)); err != nil {
				return store.WrapError(err)
			}
		}

		for _, sr := range rr.Surcharges {
			incomeType := sr.IncomeType
			if incomeType == "" {
				incomeType = "normal"
			}
			if _, err := db.Exec(ctx, `
				INSERT INTO surcharge_rates (financial_year, regime, income_type, income_from, income_to, rate)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (financial_year, regime, income_type, income_from) DO UPDATE
				SET income_to = EXCLUDED.income_to, rate = EXCLUDED.rate`,
				fy, regime, incomeType, amount(sr.From), optAmount(sr.To), rate(sr.Rate)); err != nil {
				return store.WrapError(err)
			}
		}

		for section, max := range rr.ChapterVIA {
			if _, err := db.Exec(ctx, `
				INSERT INTO chapter_via_limits (financial_year, regime, section, max_amount)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (financial_year, regime, section) DO UPDATE
				SET max_amount = EXCLUDED.max_amount`,
				fy, regime, section, amount(max)); err != nil {
				return store.WrapError(err)
			}
		}
	}

	for _, cg := range rf.CapitalGains {
		from, err := ruleDate(cg.EffectiveFrom)
		if err != nil {
			return err
		}
		to, err := optRuleDate(cg.EffectiveTo)
		if err != nil {
			return err
		}
		if _, err := db.Exec(ctx, `
			INSERT INTO capital_gains_rates
				(financial_year, asset_class, term, rate, exemption_limit, effective_from, effective_to)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (financial_year, asset_class, term, effective_from) DO UPDATE
			SET rate = EXCLUDED.rate, exemption_limit = EXCLUDED.exemption_limit,
			    effective_to = EXCLUDED.effective_to`,
			fy, cg.AssetClass, cg.Term, rate(cg.Rate), amount(cg.ExemptionLimit), from, to); err != nil {
			return store.WrapError(err)
		}
	}

	for _, d := range rf.DTAA {
		from, err := ruleDate(d.EffectiveFrom)
		if err != nil {
			return err
		}
		to, err := optRuleDate(d.EffectiveTo)
		if err != nil {
			return err
		}
		if _, err := db.Exec(ctx, `
			INSERT INTO dtaa_articles (country, income_type, article, treaty_rate, effective_from, effective_to)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (country, income_type, effective_from) DO UPDATE
			SET article = EXCLUDED.article, treaty_rate = EXCLUDED.treaty_rate,
			    effective_to = EXCLUDED.effective_to`,
			d.Country, d.IncomeType, d.Article, rate(d.TreatyRate), from, to); err != nil {
			return store.WrapError(err)
		}
	}

	return nil
}

func amount(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).RoundBank(2)
}

func optAmount(f *float64) *decimal.Decimal {
	if f == nil {
		return nil
	}
	d := amount(*f)
	return &d
}

func rate(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).RoundBank(4)
}

func ruleDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: effective date %q", models.ErrInvalid, s)
	}
	return t, nil
}

func optRuleDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := ruleDate(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
