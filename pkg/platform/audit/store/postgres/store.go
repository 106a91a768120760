package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	id "orgdesk/pkg/domain"
	audit "orgdesk/pkg/platform/audit"
	txcontext "orgdesk/pkg/platform/tx"
)

// Store persists audit events in the audit_events table. Writes join any
// transaction carried in the context so provisioning emits its trail
// atomically with the records it creates.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	query := `
		INSERT INTO audit_events (
			id, category, occurred_at, user_id, tenant_id,
			subject, action, decision, reason, email, request_id, actor_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	var userID, tenantID any
	if !event.UserID.IsNil() {
		userID = uuid.UUID(event.UserID)
	}
	if !event.TenantID.IsNil() {
		tenantID = uuid.UUID(event.TenantID)
	}

	_, err := txcontext.Q(ctx, s.db).ExecContext(ctx, query,
		uuid.New(),
		string(event.Category),
		event.Timestamp,
		userID,
		tenantID,
		event.Subject,
		event.Action,
		event.Decision,
		event.Reason,
		event.Email,
		event.RequestID,
		event.ActorID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *Store) ListByUser(ctx context.Context, userID id.UserID) ([]audit.Event, error) {
	query := `
		SELECT category, occurred_at, user_id, tenant_id,
		       subject, action, decision, reason, email, request_id, actor_id
		FROM audit_events
		WHERE user_id = $1
		ORDER BY occurred_at ASC
	`
	rows, err := txcontext.Q(ctx, s.db).QueryContext(ctx, query, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	query := `
		SELECT category, occurred_at, user_id, tenant_id,
		       subject, action, decision, reason, email, request_id, actor_id
		FROM audit_events
		ORDER BY occurred_at DESC
		LIMIT $1
	`
	rows, err := txcontext.Q(ctx, s.db).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			event    audit.Event
			category string
			userID   uuid.NullUUID
			tenantID uuid.NullUUID
		)
		if err := rows.Scan(
			&category,
			&event.Timestamp,
			&userID,
			&tenantID,
			&event.Subject,
			&event.Action,
			&event.Decision,
			&event.Reason,
			&event.Email,
			&event.RequestID,
			&event.ActorID,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = audit.EventCategory(category)
		if userID.Valid {
			event.UserID = id.UserID(userID.UUID)
		}
		if tenantID.Valid {
			event.TenantID = id.TenantID(tenantID.UUID)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
