// Package audit appends immutable task history rows. Entries are written
// in the same transaction as the state change they record.
package audit

import (
	"context"
	"database/sql"
	"time"

	"peopledesk/internal/domain"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Append writes one audit entry inside the caller's transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, taskID string, action domain.AuditAction, to, performedBy, reason string) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT INTO task_audit(task_id,action,to_employee,performed_by,ts,reason) VALUES (?,?,?,?,?,?)`,
		taskID, action, nullable(to), performedBy, ts, nullable(reason))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
