package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"harborvisa.org/internal/audit"
)

// AuditStore appends to audit_log. It never updates or deletes rows.
type AuditStore struct {
	db *sql.DB
}

var _ audit.Store = (*AuditStore)(nil)

func (s *AuditStore) AppendAudit(ctx context.Context, e audit.Entry) error {
	if s.db == nil {
		return errNoDB
	}
	detail := []byte("{}")
	if len(e.Detail) > 0 {
		raw, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshal audit detail: %w", err)
		}
		detail = raw
	}
	var actor sql.NullInt64
	if e.ActorID != nil {
		actor = sql.NullInt64{Int64: *e.ActorID, Valid: true}
	}
	var resourceID sql.NullString
	if e.ResourceID != nil {
		resourceID = sql.NullString{String: *e.ResourceID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log (id, actor_id, action, resource_type, resource_id, detail, origin, request_id, occurred_at)
		values ($1, $2, $3, $4, $5, $6, nullif($7, ''), nullif($8, ''), $9)
		on conflict (id) do nothing
	`, e.ID, actor, e.Action, e.ResourceType, resourceID, detail, e.Origin, e.RequestID, e.OccurredAt)
	return err
}
