// Package txservice is the single write path into the ledger. Every parsed
// record becomes a journal plus denormalized asset rows through Record, in
// one transaction, deduplicated by idempotency key. Parsers never write
// tables directly.
package txservice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"arthakosh/pkg/core/ledger"
	"arthakosh/pkg/core/store"
	"arthakosh/pkg/models"
)

// Status is the tri-state outcome of a Record call. Duplicates are a normal
// success path, never an error.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusDuplicate Status = "duplicate"
	StatusFailed    Status = "failed"
)

// Result reports what one Record call did.
type Result struct {
	Status      Status  `json:"status"`
	JournalID   int64   `json:"journal_id"`
	AssetIDs    []int64 `json:"asset_ids"`
	IsDuplicate bool    `json:"is_duplicate"`
}

// RecordRequest carries everything needed to post one business transaction.
type RecordRequest struct {
	UserID         int64
	Entries        []models.JournalEntry
	Description    string
	Source         models.Source
	IdempotencyKey string
	TxnDate        time.Time
	ReferenceType  string
	AssetRecords   []AssetRecord
}

// Service posts journals and asset rows atomically. It holds no state beyond
// the store; all mutations flow through WithTx.
type Service struct {
	store *store.Store
	log   *logrus.Entry
}

func NewService(st *store.Store) *Service {
	return &Service{
		store: st,
		log:   logrus.WithField("component", "txservice"),
	}
}

// Record posts in its own transaction. Use RecordTx when composing inside a
// batch transaction.
func (s *Service) Record(ctx context.Context, req RecordRequest) (*Result, error) {
	var res *Result
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		res, err = s.RecordTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RecordTx executes the write path on an open transaction:
//
//  1. An existing (user, idempotency_key) short-circuits to the recorded
//     journal id with is_duplicate=true; nothing is written.
//  2. The journal is validated and inserted with its entries.
//  3. Each asset record is upserted per its conflict policy, with user_id
//     and journal_id injected.
//  4. One audit-log entry is appended per insert/update.
func (s *Service) RecordTx(ctx context.Context, tx store.DB, req RecordRequest) (*Result, error) {
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: idempotency key required", models.ErrInvalid)
	}

	existingID, err := ledger.FindByIdempotencyKey(ctx, tx, req.UserID, req.IdempotencyKey)
	if err == nil {
		return &Result{Status: StatusDuplicate, JournalID: existingID, IsDuplicate: true}, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	journalID, err := ledger.Post(ctx, tx, models.Journal{
		UserID:         req.UserID,
		TxnDate:        req.TxnDate,
		Description:    req.Description,
		Source:         req.Source,
		IdempotencyKey: req.IdempotencyKey,
		ReferenceType:  req.ReferenceType,
	}, req.Entries)
	if err != nil {
		return nil, err
	}

	if err := store.WriteAudit(ctx, tx, models.AuditLog{
		UserID:    req.UserID,
		TableName: "journals",
		RecordID:  fmt.Sprintf("%d", journalID),
		Action:    "INSERT",
		NewValues: store.AuditValues(req.Entries),
		Source:    string(req.Source),
	}); err != nil {
		return nil, err
	}

	assetIDs, err := s.upsertAssetRecords(ctx, tx, req.UserID, journalID, req.Source, req.AssetRecords)
	if err != nil {
		return nil, err
	}

	return &Result{Status: StatusSuccess, JournalID: journalID, AssetIDs: assetIDs}, nil
}

// RecordAssetOnly writes asset rows with the same idempotency and audit
// guarantees but no journal. Used for reference rows such as holdings
// snapshots and golden statements.
func (s *Service) RecordAssetOnly(ctx context.Context, req RecordRequest) (*Result, error) {
	var res *Result
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		res, err = s.RecordAssetOnlyTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RecordAssetOnlyTx is RecordAssetOnly on an open transaction.
func (s *Service) RecordAssetOnlyTx(ctx context.Context, tx store.DB, req RecordRequest) (*Result, error) {
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: idempotency key required", models.ErrInvalid)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO asset_idempotency (user_id, idempotency_key)
		VALUES ($1, $2) ON CONFLICT (user_id, idempotency_key) DO NOTHING`,
		req.UserID, req.IdempotencyKey)
	if err != nil {
		return nil, store.WrapError(err)
	}
	if tag.RowsAffected() == 0 {
		return &Result{Status: StatusDuplicate, IsDuplicate: true}, nil
	}

	assetIDs, err := s.upsertAssetRecords(ctx, tx, req.UserID, 0, req.Source, req.AssetRecords)
	if err != nil {
		return nil, err
	}
	return &Result{Status: StatusSuccess, AssetIDs: assetIDs}, nil
}

func (s *Service) upsertAssetRecords(ctx context.Context, tx store.DB, userID, journalID int64, source models.Source, records []AssetRecord) ([]int64, error) {
	var assetIDs []int64
	for i, rec := range records {
		if rec.Data == nil {
			return nil, fmt.Errorf("%w: asset record %d has no data", models.ErrInvalid, i)
		}
		rec.Data["user_id"] = userID
		if journalID != 0 {
			if _, hasJournal := rec.Data["journal_id"]; !hasJournal {
				// golden_holdings and friends have no journal_id column.
				if rec.Table != "golden_holdings" && rec.Table != "foreign_holdings" && rec.Table != "liability_transactions" {
					rec.Data["journal_id"] = journalID
				}
			}
		}

		sql, args, err := BuildUpsertSQL(rec)
		if err != nil {
			return nil, err
		}

		var id int64
		err = tx.QueryRow(ctx, sql, args...).Scan(&id)
		if err != nil {
			wrapped := store.WrapError(err)
			if errors.Is(wrapped, models.ErrNotFound) {
				// ON CONFLICT DO NOTHING swallowed the row: already present.
				s.log.WithFields(logrus.Fields{"table": rec.Table, "user_id": userID}).
					Debug("asset row already present, skipped")
				continue
			}
			return nil, fmt.Errorf("upsert into %s: %w", rec.Table, wrapped)
		}

		assetIDs = append(assetIDs, id)
		if err := store.WriteAudit(ctx, tx, models.AuditLog{
			UserID:    userID,
			TableName: rec.Table,
			RecordID:  fmt.Sprintf("%d", id),
			Action:    "INSERT",
			NewValues: store.AuditValues(rec.Data),
			Source:    string(source),
		}); err != nil {
			return nil, err
		}
	}
	return assetIDs, nil
}
