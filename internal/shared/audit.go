package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ActorSystem marks audit rows written by the engine itself rather than an
// operator.
const ActorSystem int64 = 0

// AuditLog represents a record stored in audit_logs. Action uses the
// "<area>:<verb>" form, e.g. "inventory:unit_status_repair".
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// Execer is the subset of pgxpool.Pool and pgx.Tx the audit logger needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	db Execer
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(db Execer) *AuditLogger {
	return &AuditLogger{db: db}
}

// Validate checks the fields every audit row needs.
func (log AuditLog) Validate() error {
	var missing []string
	if log.Action == "" {
		missing = append(missing, "action")
	}
	if log.Entity == "" {
		missing = append(missing, "entity")
	}
	if log.EntityID == "" {
		missing = append(missing, "entity_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("audit log missing %s", strings.Join(missing, ", "))
	}
	if !strings.Contains(log.Action, ":") {
		return fmt.Errorf("audit action %q must be namespaced", log.Action)
	}
	return nil
}

// Record persists the log entry. A zero At is stamped by the database.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if err := log.Validate(); err != nil {
		return err
	}
	meta := log.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode audit meta: %w", err)
	}
	var at *time.Time
	if !log.At.IsZero() {
		utc := log.At.UTC()
		at = &utc
	}
	if _, err := l.db.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`,
		log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, at); err != nil {
		return fmt.Errorf("insert audit log %s: %w", log.Action, err)
	}
	return nil
}
