package golden

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"arthakosh/pkg/core/store"
	"arthakosh/pkg/models"
)

// SuspenseItem is one open discrepancy being worked.
type SuspenseItem struct {
	ID         int64                 `json:"id"`
	UserID     int64                 `json:"user_id"`
	EventID    int64                 `json:"event_id"`
	AssetType  models.AssetType      `json:"asset_type"`
	MatchKey   string                `json:"match_key"`
	Amount     decimal.Decimal       `json:"amount"`
	Status     models.SuspenseStatus `json:"status"`
	Notes      string                `json:"notes"`
	OpenedAt   time.Time             `json:"opened_at"`
	ResolvedAt *time.Time            `json:"resolved_at,omitempty"`
}

// allowedTransitions encodes OPEN -> IN_PROGRESS -> RESOLVED | WRITTEN_OFF.
// OPEN may jump straight to a terminal state.
var allowedTransitions = map[models.SuspenseStatus][]models.SuspenseStatus{
	models.SuspenseOpen:       {models.SuspenseInProgress, models.SuspenseResolved, models.SuspenseWrittenOff},
	models.SuspenseInProgress: {models.SuspenseResolved, models.SuspenseWrittenOff},
}

// SuspenseManager drives the discrepancy lifecycle.
type SuspenseManager struct {
	store *store.Store
	log   *logrus.Entry
}

func NewSuspenseManager(st *store.Store) *SuspenseManager {
	return &SuspenseManager{store: st, log: logrus.WithField("component", "suspense")}
}

// Open lists the user's unresolved items, oldest first.
func (m *SuspenseManager) Open(ctx context.Context, userID int64) ([]SuspenseItem, error) {
	rows, err := m.store.Pool().Query(ctx, `
		SELECT id, user_id, event_id, asset_type, match_key, amount, status, notes, opened_at, resolved_at
		FROM suspense_items
		WHERE user_id = $1 AND status IN ($2, $3)
		ORDER BY opened_at, id`,
		userID, string(models.SuspenseOpen), string(models.SuspenseInProgress))
	if err != nil {
		return nil, store.WrapError(err)
	}
	defer rows.Close()

	var out []SuspenseItem
	for rows.Next() {
		item, err := scanSuspense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, store.WrapError(rows.Err())
}

// Get fetches one item.
func (m *SuspenseManager) Get(ctx context.Context, userID, id int64) (*SuspenseItem, error) {
	row := m.store.Pool().QueryRow(ctx, `
		SELECT id, user_id, event_id, asset_type, match_key, amount, status, notes, opened_at, resolved_at
		FROM suspense_items WHERE id = $1 AND user_id = $2`, id, userID)
	item, err := scanSuspense(row)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Transition moves an item to the next state. Resolving or writing off also
// downgrades the source reconciliation event so dashboards stop flagging it.
func (m *SuspenseManager) Transition(ctx context.Context, userID, id int64, next models.SuspenseStatus, notes string) error {
	item, err := m.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if !transitionAllowed(item.Status, next) {
		return fmt.Errorf("%w: suspense %d cannot move %s -> %s", models.ErrInvalid, id, item.Status, next)
	}

	terminal := next == models.SuspenseResolved || next == models.SuspenseWrittenOff
	err = m.store.WithTx(ctx, func(tx pgx.Tx) error {
		var resolvedAt any
		if terminal {
			resolvedAt = time.Now().UTC()
		}
		if _, err := tx.Exec(ctx, `
			UPDATE suspense_items
			SET status = $1, notes = $2, resolved_at = $3
			WHERE id = $4 AND user_id = $5`,
			string(next), notes, resolvedAt, id, userID); err != nil {
			return store.WrapError(err)
		}
		if terminal {
			if _, err := tx.Exec(ctx, `
				UPDATE reconciliation_events SET severity = $1
				WHERE id = $2 AND user_id = $3`,
				string(models.SeverityInfo), item.EventID, userID); err != nil {
				return store.WrapError(err)
			}
		}
		return store.WriteAudit(ctx, tx, models.AuditLog{
			UserID:    userID,
			TableName: "suspense_items",
			RecordID:  fmt.Sprintf("%d", id),
			Action:    "UPDATE",
			OldValues: store.AuditValues(map[string]any{"status": item.Status}),
			NewValues: store.AuditValues(map[string]any{"status": next, "notes": notes}),
			Source:    string(models.SourceManual),
		})
	})
	if err != nil {
		return err
	}

	m.log.WithFields(logrus.Fields{"id": id, "from": item.Status, "to": next}).Info("suspense transition")
	return nil
}

func transitionAllowed(from, to models.SuspenseStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSuspense(row rowScanner) (SuspenseItem, error) {
	var item SuspenseItem
	var at, status string
	if err := row.Scan(&item.ID, &item.UserID, &item.EventID, &at, &item.MatchKey,
		&item.Amount, &status, &item.Notes, &item.OpenedAt, &item.ResolvedAt); err != nil {
		return SuspenseItem{}, store.WrapError(err)
	}
	item.AssetType = models.AssetType(at)
	item.Status = models.SuspenseStatus(status)
	return item, nil
}
