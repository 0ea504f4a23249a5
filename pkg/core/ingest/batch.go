// Package ingest runs file batches end to end: hash, skip, dispatch, parse,
// post. One batch is one unit of atomicity when stop_on_error is set; files
// commit independently otherwise. Re-running a batch over the same files is
// a no-op at every layer (file hash, journal key, asset natural key).
package ingest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"arthakosh/pkg/core/costbasis"
	"arthakosh/pkg/core/ledger"
	"arthakosh/pkg/core/parser"
	"arthakosh/pkg/core/store"
	"arthakosh/pkg/core/txservice"
	"arthakosh/pkg/models"
)

// PasswordFunc supplies the password for a protected file, empty when none.
type PasswordFunc func(file string) string

// Options configures one batch run.
type Options struct {
	UserID      int64
	Files       []string
	StopOnError bool
	DryRun      bool
}

// FileOutcome reports what happened to one file.
type FileOutcome struct {
	File     string            `json:"file"`
	Status   models.FileStatus `json:"status"`
	Parser   models.Source     `json:"parser,omitempty"`
	Records  int               `json:"records"`
	Error    string            `json:"error,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
}

// BatchReport is the full outcome of a Run.
type BatchReport struct {
	BatchID      string             `json:"batch_id"`
	Status       models.BatchStatus `json:"status"`
	Files        []FileOutcome      `json:"files"`
	RecordsCount int                `json:"records_count"`
	StartedAt    time.Time          `json:"started_at"`
	CompletedAt  time.Time          `json:"completed_at"`
	DryRun       bool               `json:"dry_run,omitempty"`
}

// Ingester orchestrates parsing and posting. It owns no file state between
// runs; everything durable lives in the store.
type Ingester struct {
	store     *store.Store
	registry  *parser.Registry
	tx        *txservice.Service
	tracker   *costbasis.Tracker
	resolver  ledger.AccountResolver
	passwords PasswordFunc
	log       *logrus.Entry

	// set for the duration of one file's posting; the batch loop is
	// single-threaded through the store's write lock
	currentSource models.Source
}

func NewIngester(st *store.Store, registry *parser.Registry, tx *txservice.Service, tracker *costbasis.Tracker, resolver ledger.AccountResolver, passwords PasswordFunc) *Ingester {
	if passwords == nil {
		passwords = func(string) string { return "" }
	}
	return &Ingester{
		store:     st,
		registry:  registry,
		tx:        tx,
		tracker:   tracker,
		resolver:  resolver,
		passwords: passwords,
		log:       logrus.WithField("component", "ingest"),
	}
}

// errDryRun forces the enclosing transaction to roll back after a clean
// dry-run pass.
var errDryRun = errors.New("dry run rollback")

// errFileAborted marks a file failure that aborts a stop-on-error batch.
var errFileAborted = errors.New("file failed")

// Run processes the files in order. With StopOnError (or DryRun) the whole
// batch is one transaction; the first failure rolls everything back.
// Otherwise each file commits on its own and failures are recorded without
// undoing earlier files.
func (ing *Ingester) Run(ctx context.Context, opts Options) (report *BatchReport, err error) {
	report = &BatchReport{
		BatchID:   uuid.New().String(),
		Status:    models.BatchRunning,
		StartedAt: time.Now().UTC(),
		DryRun:    opts.DryRun,
	}
	log := ing.log.WithFields(logrus.Fields{"batch_id": report.BatchID, "files": len(opts.Files)})
	log.Info("batch started")

	defer func() {
		if p := recover(); p != nil {
			report.Status = models.BatchFailed
			report.CompletedAt = time.Now().UTC()
			msg := fmt.Sprintf("panic: %v", p)
			log.WithField("panic", p).Error("batch panicked")
			if !opts.DryRun {
				ing.writeBatchRun(ctx, opts.UserID, report, msg)
			}
			err = fmt.Errorf("%w: %s", models.ErrBatchIngestion, msg)
		}
	}()

	if opts.StopOnError || opts.DryRun {
		err = ing.store.WithTx(ctx, func(tx pgx.Tx) error {
			if err := ing.runFiles(ctx, tx, opts, report, true); err != nil {
				return err
			}
			if opts.DryRun {
				return errDryRun
			}
			return nil
		})
		if errors.Is(err, errDryRun) {
			err = nil
			ing.tracker.Reset()
		}
		if err != nil {
			ing.tracker.Reset()
		}
	} else {
		for _, file := range opts.Files {
			var outcome FileOutcome
			fileErr := ing.store.WithTx(ctx, func(tx pgx.Tx) error {
				outcome = ing.processFile(ctx, tx, opts.UserID, report.BatchID, file)
				if outcome.Status == models.FileFailed {
					// Roll back this file's partial writes; the batch continues.
					return fmt.Errorf("%w: %s", errFileAborted, outcome.Error)
				}
				return nil
			})
			if fileErr != nil {
				ing.tracker.Reset()
				if outcome.Status != models.FileFailed {
					outcome = FileOutcome{File: filepath.Base(file), Status: models.FileFailed, Error: fileErr.Error()}
				}
			}
			if outcome.Status == models.FileFailed {
				ing.writeFailedFile(ctx, opts.UserID, report.BatchID, file, outcome)
			}
			report.Files = append(report.Files, outcome)
			report.RecordsCount += outcome.Records
		}
	}

	report.CompletedAt = time.Now().UTC()
	report.Status = models.BatchSuccess
	errMsg := ""
	if err != nil {
		report.Status = models.BatchFailed
		errMsg = err.Error()
	} else {
		for _, f := range report.Files {
			if f.Status == models.FileFailed {
				report.Status = models.BatchFailed
				break
			}
		}
	}

	if !opts.DryRun {
		ing.writeBatchRun(ctx, opts.UserID, report, errMsg)
	}
	log.WithFields(logrus.Fields{"status": report.Status, "records": report.RecordsCount}).Info("batch finished")

	if err != nil {
		return report, fmt.Errorf("%w: %v", models.ErrBatchIngestion, err)
	}
	return report, nil
}

// runFiles executes the per-file pipeline on an open transaction. abortOnFail
// turns a file failure into an error, rolling back the whole batch.
func (ing *Ingester) runFiles(ctx context.Context, tx pgx.Tx, opts Options, report *BatchReport, abortOnFail bool) error {
	for _, file := range opts.Files {
		outcome := ing.processFile(ctx, tx, opts.UserID, report.BatchID, file)
		report.Files = append(report.Files, outcome)
		report.RecordsCount += outcome.Records
		if outcome.Status == models.FileFailed && abortOnFail {
			return fmt.Errorf("%w: %s: %s", errFileAborted, outcome.File, outcome.Error)
		}
	}
	return nil
}

func (ing *Ingester) processFile(ctx context.Context, tx pgx.Tx, userID int64, batchID, file string) FileOutcome {
	outcome := FileOutcome{File: filepath.Base(file)}
	log := ing.log.WithField("file", outcome.File)

	hash, err := fileMD5(file)
	if err != nil {
		outcome.Status = models.FileFailed
		outcome.Error = err.Error()
		return outcome
	}

	var done bool
	err = tx.QueryRow(ctx, `
		SELECT true FROM processed_files
		WHERE user_id = $1 AND file_hash = $2 AND status = $3`,
		userID, hash, string(models.FileSuccess)).Scan(&done)
	if err == nil && done {
		log.Info("file already processed, skipping")
		outcome.Status = models.FileSkipped
		return outcome
	}
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		outcome.Status = models.FileFailed
		outcome.Error = store.WrapError(err).Error()
		return outcome
	}

	p, err := ing.registry.Dispatch(ctx, file)
	if err != nil {
		outcome.Status = models.FileFailed
		outcome.Error = err.Error()
		return outcome
	}
	outcome.Parser = p.Source()

	res, err := p.Parse(ctx, file, ing.passwords(file))
	if err != nil {
		outcome.Status = models.FileFailed
		outcome.Error = err.Error()
		return outcome
	}
	outcome.Warnings = res.Warnings
	if !res.Success {
		outcome.Status = models.FileFailed
		outcome.Error = strings.Join(res.Errors, "; ")
		return outcome
	}

	ing.currentSource = p.Source()
	defer func() { ing.currentSource = "" }()

	recorded := 0
	for _, txn := range res.Transactions {
		out, err := ing.postTransaction(ctx, tx, userID, hash, txn)
		if err != nil {
			outcome.Status = models.FileFailed
			outcome.Error = fmt.Sprintf("row %d: %v", txn.RowIdx, err)
			return outcome
		}
		recorded += out.recorded
	}
	for _, pe := range res.Events {
		out, err := ing.postEventRecord(ctx, tx, userID, hash, p.Source(), pe)
		if err != nil {
			outcome.Status = models.FileFailed
			outcome.Error = fmt.Sprintf("event row %d: %v", pe.RowIdx, err)
			return outcome
		}
		recorded += out.recorded
	}
	if len(res.Holdings) > 0 {
		n, err := ing.postHoldings(ctx, tx, userID, hash, res)
		if err != nil {
			outcome.Status = models.FileFailed
			outcome.Error = err.Error()
			return outcome
		}
		recorded += n
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO processed_files (user_id, batch_id, file_hash, file_name, parser, records_count, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, file_hash) DO UPDATE
		SET batch_id = EXCLUDED.batch_id, records_count = EXCLUDED.records_count,
		    status = EXCLUDED.status, processed_at = now()`,
		userID, batchID, hash, outcome.File, string(p.Source()), recorded, string(models.FileSuccess)); err != nil {
		outcome.Status = models.FileFailed
		outcome.Error = store.WrapError(err).Error()
		return outcome
	}

	if err := store.WriteAudit(ctx, tx, models.AuditLog{
		UserID:    userID,
		TableName: "processed_files",
		RecordID:  hash,
		Action:    "INGEST",
		NewValues: store.AuditValues(map[string]any{"file": outcome.File, "records": recorded}),
		Source:    string(p.Source()),
	}); err != nil {
		outcome.Status = models.FileFailed
		outcome.Error = err.Error()
		return outcome
	}

	log.WithField("records", recorded).Info("file ingested")
	outcome.Status = models.FileSuccess
	outcome.Records = recorded
	return outcome
}

// writeBatchRun persists the batch outcome in its own transaction so a
// rolled-back batch still leaves a FAILED row behind.
func (ing *Ingester) writeBatchRun(ctx context.Context, userID int64, report *BatchReport, errMsg string) {
	records := report.RecordsCount
	if report.Status == models.BatchFailed {
		records = 0
	}
	err := ing.store.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO batch_runs
				(batch_id, user_id, files_count, records_count, status, error_message, started_at, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (batch_id) DO NOTHING`,
			report.BatchID, userID, len(report.Files), records,
			string(report.Status), errMsg, report.StartedAt, report.CompletedAt)
		return store.WrapError(err)
	})
	if err != nil {
		ing.log.WithField("batch_id", report.BatchID).WithError(err).Error("cannot record batch run")
	}
}

// writeFailedFile records a FAILED processed_files row in its own
// transaction, after the file's data transaction rolled back. A later
// re-ingest retries the file because the skip check matches on SUCCESS only.
func (ing *Ingester) writeFailedFile(ctx context.Context, userID int64, batchID, file string, outcome FileOutcome) {
	hash, err := fileMD5(file)
	if err != nil {
		hash = "unreadable:" + filepath.Base(file)
	}
	err = ing.store.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO processed_files (user_id, batch_id, file_hash, file_name, parser, records_count, status)
			VALUES ($1, $2, $3, $4, $5, 0, $6)
			ON CONFLICT (user_id, file_hash) DO UPDATE
			SET batch_id = EXCLUDED.batch_id, status = EXCLUDED.status, processed_at = now()`,
			userID, batchID, hash, outcome.File, string(outcome.Parser), string(models.FileFailed))
		return store.WrapError(err)
	})
	if err != nil {
		ing.log.WithField("file", outcome.File).WithError(err).Error("cannot record failed file")
	}
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrParse, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrParse, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
