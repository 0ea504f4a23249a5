// Command ingest runs one batch of statement files through the parser
// registry and posts the results. Exit status is non-zero when the batch
// fails or partially fails.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"arthakosh/pkg/core/config"
	"arthakosh/pkg/core/costbasis"
	"arthakosh/pkg/core/golden"
	"arthakosh/pkg/core/ingest"
	"arthakosh/pkg/core/ledger"
	"arthakosh/pkg/core/parser"
	"arthakosh/pkg/core/reports"
	"arthakosh/pkg/core/store"
	"arthakosh/pkg/core/taxrules"
	"arthakosh/pkg/core/txservice"
	"arthakosh/pkg/core/valuation"
	"arthakosh/pkg/models"
)

func main() {
	var (
		userID      = flag.Int64("user", 0, "user id")
		configDir   = flag.String("config", "", "per-user config directory")
		rulesDir    = flag.String("rules", "configs/taxrules", "tax rule YAML directory")
		fmvFile     = flag.String("fmv", "", "JSON file of symbol -> 31-Jan-2018 fair market value")
		method      = flag.String("method", "fifo", "cost basis method: fifo or average")
		goldenRef   = flag.String("golden", "", "golden reference id to reconcile against after the batch")
		stopOnError = flag.Bool("stop-on-error", false, "roll back the whole batch on the first file failure")
		dryRun      = flag.Bool("dry-run", false, "parse and post, then roll back")
		htmlOut     = flag.String("html", "", "write the batch summary as HTML to this path")
	)
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		logrus.Debug(".env not found, using process environment")
	}
	setupLogging()

	if *userID == 0 || flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: ingest -user <id> [flags] <files...>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if err := run(*userID, *configDir, *rulesDir, *fmvFile, *method, *goldenRef,
		*stopOnError, *dryRun, *htmlOut, flag.Args()); err != nil {
		logrus.WithError(err).Fatal("ingest failed")
	}
}

func setupLogging() {
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logrus.SetLevel(level)
	}
	if os.Getenv("LOG_FORMAT") == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}

func run(userID int64, configDir, rulesDir, fmvFile, method, goldenRef string,
	stopOnError, dryRun bool, htmlOut string, files []string) error {
	ctx := context.Background()

	st, err := store.Open(ctx, "")
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return err
	}
	if err := ledger.SeedAccounts(ctx, st.Pool()); err != nil {
		return err
	}
	if err := valuation.SeedFlowRules(ctx, st.Pool()); err != nil {
		return err
	}
	if err := taxrules.SeedFromDir(ctx, st.Pool(), rulesDir); err != nil {
		logrus.WithError(err).WithField("dir", rulesDir).Warn("tax rules not seeded")
	}

	userCfg := config.UserConfig{
		Reconciliation: config.DefaultReconciliation(),
		Passwords:      config.Passwords{},
	}
	if configDir != "" {
		if userCfg, err = config.LoadDir(configDir); err != nil {
			return err
		}
	}

	fmv, err := loadFMV(fmvFile)
	if err != nil {
		return err
	}

	basisMethod := models.CostBasisMethod(method)
	switch basisMethod {
	case models.MethodFIFO, models.MethodAverage:
	default:
		return fmt.Errorf("%w: cost basis method %q", models.ErrInvalid, method)
	}

	ing := ingest.NewIngester(
		st,
		parser.DefaultRegistry(parser.DefaultOpener(), nil),
		txservice.NewService(st),
		costbasis.NewTracker(basisMethod, fmv),
		ledger.NewDBAccountResolver(st.Pool()),
		userCfg.Passwords.Func(),
	)

	report, err := ing.Run(ctx, ingest.Options{
		UserID:      userID,
		Files:       files,
		StopOnError: stopOnError,
		DryRun:      dryRun,
	})
	if err != nil {
		return err
	}

	fmt.Print(reports.BatchSummaryMarkdown(report))
	if htmlOut != "" {
		html, err := reports.BatchSummaryHTML(report)
		if err != nil {
			return err
		}
		if err := os.WriteFile(htmlOut, []byte(html), 0o644); err != nil {
			return err
		}
	}

	if goldenRef != "" && userCfg.Reconciliation.Mode == config.ModeOnIngest &&
		report.Status == models.BatchSuccess && !dryRun {
		correlator := golden.NewCorrelator(st, userCfg.Reconciliation.Tolerances)
		recon, err := correlator.Reconcile(ctx, userID, goldenRef)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"golden_ref":      goldenRef,
			"comparisons":     len(recon.Comparisons),
			"mismatches":      recon.Mismatches,
			"suspense_opened": recon.SuspenseOpened,
			"suspense_closed": recon.SuspenseClosed,
		}).Info("post-ingest reconciliation done")
	}

	if report.Status != models.BatchSuccess {
		return fmt.Errorf("%w: batch %s finished %s", models.ErrBatchIngestion, report.BatchID, report.Status)
	}
	return nil
}

// loadFMV reads an optional symbol -> price table for the 31-Jan-2018
// grandfathering rule. Without it, grandfathering falls back to actual cost.
func loadFMV(path string) (costbasis.FMVSource, error) {
	if path == "" {
		return costbasis.NoFMV{}, nil
	}
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var table map[string]decimal.Decimal
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrInvalid, path, err)
	}
	return costbasis.MapFMVSource(table), nil
}
