// Command report renders the engine's outputs: the reconciliation workbook,
// the capital-gains CSV, the advance-tax computation and the valuation
// statements.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"arthakosh/pkg/core/config"
	"arthakosh/pkg/core/golden"
	"arthakosh/pkg/core/income"
	"arthakosh/pkg/core/money"
	"arthakosh/pkg/core/reports"
	"arthakosh/pkg/core/store"
	"arthakosh/pkg/core/taxrules"
	"arthakosh/pkg/core/valuation"
	"arthakosh/pkg/models"
)

func main() {
	var (
		userID      = flag.Int64("user", 0, "user id")
		kind        = flag.String("kind", "", "report kind: recon | gains | advance-tax | balance-sheet | cash-flow | returns")
		fy          = flag.String("fy", money.FYOf(time.Now()).String(), "financial year, e.g. 2024-25")
		out         = flag.String("out", "", "output path (default stdout; required for recon)")
		goldenRef   = flag.String("golden", "", "golden reference id (recon)")
		configDir   = flag.String("config", "", "per-user config directory")
		regime      = flag.String("regime", "new", "tax regime: old or new (advance-tax)")
		advancePaid = flag.String("advance-paid", "0", "advance tax already paid (advance-tax)")
	)
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		logrus.Debug(".env not found, using process environment")
	}
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logrus.SetLevel(level)
	}

	if *userID == 0 || *kind == "" {
		fmt.Fprintln(os.Stderr, "usage: report -user <id> -kind <kind> [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if err := run(*userID, *kind, *fy, *out, *goldenRef, *configDir, *regime, *advancePaid); err != nil {
		logrus.WithError(err).Fatal("report failed")
	}
}

func run(userID int64, kind, fy, out, goldenRef, configDir, regime, advancePaid string) error {
	ctx := context.Background()

	st, err := store.Open(ctx, "")
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	switch kind {
	case "recon":
		return reconReport(ctx, st, userID, goldenRef, configDir, out)
	case "gains":
		return gainsReport(ctx, st, userID, fy, out)
	case "advance-tax":
		return advanceTaxReport(ctx, st, userID, fy, regime, advancePaid)
	case "balance-sheet":
		return balanceSheetReport(ctx, st, userID)
	case "cash-flow":
		svc := valuation.NewCashFlowService(st.Pool(), valuation.NewBalanceSheetService(st.Pool()))
		stmt, err := svc.Compute(ctx, userID, fy)
		if err != nil {
			return err
		}
		return printJSON(stmt)
	case "returns":
		svc := valuation.NewPortfolioService(st.Pool(), valuation.NewBalanceSheetService(st.Pool()))
		returns, err := svc.Returns(ctx, userID, time.Now())
		if err != nil {
			return err
		}
		return printJSON(returns)
	default:
		return fmt.Errorf("%w: report kind %q", models.ErrInvalid, kind)
	}
}

func reconReport(ctx context.Context, st *store.Store, userID int64, goldenRef, configDir, out string) error {
	if goldenRef == "" || out == "" {
		return fmt.Errorf("%w: recon needs -golden and -out", models.ErrInvalid)
	}

	tol := golden.DefaultTolerances()
	if configDir != "" {
		cfg, err := config.LoadReconciliation(filepath.Join(configDir, "reconciliation.json"))
		if err != nil {
			return err
		}
		tol = cfg.Tolerances

		resolver := golden.NewResolver(st.Pool())
		if err := resolver.LoadOverrides(filepath.Join(configDir, "overrides.hjson")); err != nil {
			return err
		}
		if sources, err := resolver.Sources(ctx, userID, golden.MetricHoldingUnits, "mf_equity"); err == nil {
			logrus.WithField("sources", sources).Debug("holding-units authority order")
		}
	}

	report, err := golden.NewCorrelator(st, tol).Reconcile(ctx, userID, goldenRef)
	if err != nil {
		return err
	}
	suspense, err := golden.NewSuspenseManager(st).Open(ctx, userID)
	if err != nil {
		return err
	}
	return reports.WriteReconciliationWorkbook(out, report, suspense)
}

func gainsReport(ctx context.Context, st *store.Store, userID int64, fy, out string) error {
	rows, err := reports.CapitalGainRows(ctx, st.Pool(), userID, fy)
	if err != nil {
		return err
	}
	w := os.Stdout
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return reports.WriteCapitalGainsCSV(w, rows)
}

func advanceTaxReport(ctx context.Context, st *store.Store, userID int64, fy, regime, advancePaid string) error {
	paid, err := decimal.NewFromString(advancePaid)
	if err != nil {
		return fmt.Errorf("%w: advance-paid %q", models.ErrInvalid, advancePaid)
	}

	calc := income.NewCalculator(st, taxrules.NewService(st.Pool()), income.NewAggregator(st.Pool()))
	comp, err := calc.Compute(ctx, userID, fy, models.TaxRegime(regime), income.ComputeOptions{
		AdvanceTaxPaid: paid,
	})
	if err != nil {
		return err
	}
	if err := printJSON(comp); err != nil {
		return err
	}

	schedule, err := income.Schedule(fy, comp.TotalLiability)
	if err != nil {
		return err
	}
	for _, inst := range schedule {
		fmt.Printf("%s  %3s%%  %s\n",
			inst.Due.Format("2006-01-02"), inst.CumulativePct, inst.CumulativeDue.StringFixed(2))
	}
	return nil
}

func balanceSheetReport(ctx context.Context, st *store.Store, userID int64) error {
	svc := valuation.NewBalanceSheetService(st.Pool())
	bs, err := svc.Compute(ctx, userID, time.Now())
	if err != nil {
		return err
	}
	if err := svc.Snapshot(ctx, bs); err != nil {
		return err
	}
	return printJSON(bs)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
