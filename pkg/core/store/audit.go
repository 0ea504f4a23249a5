package store

import (
	"context"
	"encoding/json"
	"fmt"

	"arthakosh/pkg/models"
)

// WriteAudit appends one audit-log row. Callers pass the open transaction so
// the entry commits or rolls back with the mutation it describes.
func WriteAudit(ctx context.Context, db DB, entry models.AuditLog) error {
	_, err := db.Exec(ctx, `
		INSERT INTO audit_log (user_id, table_name, record_id, action, old_values, new_values, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.UserID, entry.TableName, entry.RecordID, entry.Action,
		entry.OldValues, entry.NewValues, entry.Source)
	if err != nil {
		return fmt.Errorf("audit log write: %w", WrapError(err))
	}
	return nil
}

// AuditValues marshals a row snapshot for the old_values/new_values columns.
func AuditValues(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}
