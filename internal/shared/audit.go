package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidAudit rejects an audit entry without action, entity or id.
var ErrInvalidAudit = errors.New("shared: invalid audit entry")

// maxAuditTrail caps a single Trail read.
const maxAuditTrail = 200

// AuditLog is one row of audit_logs.
type AuditLog struct {
	ID       int64          `json:"id"`
	ActorID  int64          `json:"actor_id,omitempty"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
	At       time.Time      `json:"at"`
}

// AuditLogger writes and reads audit_logs.
type AuditLogger struct {
	db Querier
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(db Querier) *AuditLogger {
	return &AuditLogger{db: db}
}

// Record persists the entry. Meta is stored as JSONB.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return fmt.Errorf("%w: action, entity and entity_id required", ErrInvalidAudit)
	}
	meta := log.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("shared: encode audit meta: %w", err)
	}
	var at any
	if !log.At.IsZero() {
		at = log.At
	}
	_, err = l.db.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, nullActor(log.ActorID), log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}

// Trail lists the most recent entries for one entity, newest first.
func (l *AuditLogger) Trail(ctx context.Context, entity, entityID string, limit int) ([]AuditLog, error) {
	if limit <= 0 || limit > maxAuditTrail {
		limit = maxAuditTrail
	}
	rows, err := l.db.Query(ctx, `SELECT id, COALESCE(actor_id, 0), action, entity, entity_id, meta, occurred_at
FROM audit_logs WHERE entity=$1 AND entity_id=$2 ORDER BY occurred_at DESC, id DESC LIMIT $3`, entity, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]AuditLog, 0)
	for rows.Next() {
		var entry AuditLog
		var raw []byte
		if err := rows.Scan(&entry.ID, &entry.ActorID, &entry.Action, &entry.Entity, &entry.EntityID, &raw, &entry.At); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &entry.Meta); err != nil {
				return nil, fmt.Errorf("shared: decode audit meta: %w", err)
			}
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func nullActor(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
