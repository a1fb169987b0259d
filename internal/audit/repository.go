// Package audit records who changed what through the API: cubes
// provisioned, updated and deleted, catalog types added and removed, and
// tokens issued and revoked.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Actions recorded in the trail.
const (
	ActionCreate     = "create"
	ActionUpdate     = "update"
	ActionDelete     = "delete"
	ActionDeactivate = "deactivate"
)

// Entity types recorded in the trail.
const (
	EntityCube         = "cube"
	EntitySensorType   = "sensor_type"
	EntityActuatorType = "actuator_type"
	EntityToken        = "token"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// timestampLayout is fixed width so created_at sorts as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one audit trail record.
type Entry struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId,omitempty"`
	Actor      string         `json:"actor"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Action     string
	EntityType string
	EntityID   string
	Limit      int // default 50, max 200
	Offset     int
}

// Page is one page of entries, newest first.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores and lists audit entries.
type Repository interface {
	Record(ctx context.Context, e *Entry) error
	List(ctx context.Context, f Filter) (*Page, error)
}

// SQLiteRepository keeps the trail in the audit_entries table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository on db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Record inserts e, filling in ID and CreatedAt when empty.
func (r *SQLiteRepository) Record(ctx context.Context, e *Entry) error {
	if e.Action == "" || e.EntityType == "" {
		return fmt.Errorf("audit entry needs an action and an entity type")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}

	var details *string
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		s := string(b)
		details = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_entries (id, action, entity_type, entity_id, actor, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, e.EntityType, nullable(e.EntityID), e.Actor, details,
		e.CreatedAt.Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns the entries matching f, newest first.
func (r *SQLiteRepository) List(ctx context.Context, f Filter) (*Page, error) {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	var conds []string
	var args []any
	for _, c := range []struct{ col, val string }{
		{"action", f.Action},
		{"entity_type", f.EntityType},
		{"entity_id", f.EntityID},
	} {
		if c.val != "" {
			conds = append(conds, c.col+" = ?")
			args = append(args, c.val)
		}
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	//nolint:gosec // WHERE is built from fixed column names with placeholders
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_entries "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	//nolint:gosec // WHERE is built from fixed column names with placeholders
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, action, entity_type, entity_id, actor, details, created_at
		 FROM audit_entries `+where+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var entityID, details sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &entityID, &e.Actor, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.EntityID = entityID.String
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("decoding audit details of %s: %w", e.ID, err)
			}
		}
		if e.CreatedAt, err = time.Parse(timestampLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return &Page{Entries: entries, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}
