package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"orgdesk/internal/invitation/models"
	id "orgdesk/pkg/domain"
	"orgdesk/pkg/platform/sentinel"
	txcontext "orgdesk/pkg/platform/tx"
)

// Store persists invitations in PostgreSQL. The validation snapshot is stored
// as JSONB so it stays a single immutable blob. Status transitions use
// conditional updates; the WHERE status = 'pending' clause is the
// serialization point for concurrent acceptance.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const invitationColumns = `
	id, token, email, full_name, tenant_id, invitation_type, role_to_assign,
	status, invited_by, expires_at, accepted_at, created_at, validation_elements
`

func (s *Store) Create(ctx context.Context, inv *models.Invitation) error {
	elements, err := json.Marshal(inv.Elements)
	if err != nil {
		return fmt.Errorf("marshal validation elements: %w", err)
	}

	query := `
		INSERT INTO invitations (` + invitationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = txcontext.Q(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(inv.ID),
		inv.Token,
		inv.Email,
		inv.FullName,
		uuid.UUID(inv.TenantID),
		string(inv.InvitationType),
		nullString(string(inv.RoleToAssign)),
		string(inv.Status),
		uuid.UUID(inv.InvitedBy),
		inv.ExpiresAt,
		inv.AcceptedAt,
		inv.CreatedAt,
		elements,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, invitationID id.InvitationID) (*models.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE id = $1`
	return scanInvitation(txcontext.Q(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(invitationID)))
}

func (s *Store) FindPendingByEmail(ctx context.Context, email string, tenantID id.TenantID) (*models.Invitation, error) {
	query := `
		SELECT ` + invitationColumns + `
		FROM invitations
		WHERE email = $1 AND tenant_id = $2 AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanInvitation(txcontext.Q(ctx, s.db).QueryRowContext(ctx, query, email, uuid.UUID(tenantID)))
}

func (s *Store) MarkAccepted(ctx context.Context, invitationID id.InvitationID, at time.Time) error {
	query := `
		UPDATE invitations
		SET status = 'accepted', accepted_at = $2
		WHERE id = $1 AND status = 'pending'
	`
	result, err := txcontext.Q(ctx, s.db).ExecContext(ctx, query, uuid.UUID(invitationID), at)
	if err != nil {
		return fmt.Errorf("mark invitation accepted: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark invitation accepted rows: %w", err)
	}
	if affected == 0 {
		// Either absent or already in a terminal state; distinguish for callers.
		if _, findErr := s.FindByID(ctx, invitationID); errors.Is(findErr, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrAlreadyUsed
	}
	return nil
}

func (s *Store) Cancel(ctx context.Context, invitationID id.InvitationID) error {
	query := `
		UPDATE invitations
		SET status = 'cancelled'
		WHERE id = $1 AND status = 'pending'
	`
	result, err := txcontext.Q(ctx, s.db).ExecContext(ctx, query, uuid.UUID(invitationID))
	if err != nil {
		return fmt.Errorf("cancel invitation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("cancel invitation rows: %w", err)
	}
	if affected == 0 {
		if _, findErr := s.FindByID(ctx, invitationID); errors.Is(findErr, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	query := `
		UPDATE invitations
		SET status = 'expired'
		WHERE status = 'pending' AND expires_at <= $1
	`
	result, err := txcontext.Q(ctx, s.db).ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("sweep expired invitations: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep expired invitations rows: %w", err)
	}
	return int(affected), nil
}

func (s *Store) CountByStatus(ctx context.Context) (map[models.Status]int, error) {
	rows, err := txcontext.Q(ctx, s.db).QueryContext(ctx,
		`SELECT status, COUNT(*) FROM invitations GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count invitations by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Status]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan invitation count: %w", err)
		}
		counts[models.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invitation counts: %w", err)
	}
	return counts, nil
}

func (s *Store) CountStalePending(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := txcontext.Q(ctx, s.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invitations WHERE status = 'pending' AND expires_at <= $1`, now,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count stale pending invitations: %w", err)
	}
	return count, nil
}

func scanInvitation(row *sql.Row) (*models.Invitation, error) {
	var (
		inv          models.Invitation
		invID        uuid.UUID
		tenantID     uuid.UUID
		invitedBy    uuid.UUID
		invType      string
		roleToAssign sql.NullString
		status       string
		acceptedAt   sql.NullTime
		elements     []byte
	)
	err := row.Scan(
		&invID,
		&inv.Token,
		&inv.Email,
		&inv.FullName,
		&tenantID,
		&invType,
		&roleToAssign,
		&status,
		&invitedBy,
		&inv.ExpiresAt,
		&acceptedAt,
		&inv.CreatedAt,
		&elements,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan invitation: %w", err)
	}

	inv.ID = id.InvitationID(invID)
	inv.TenantID = id.TenantID(tenantID)
	inv.InvitedBy = id.UserID(invitedBy)
	inv.InvitationType = id.InvitationType(invType)
	inv.Status = models.Status(status)
	if roleToAssign.Valid {
		inv.RoleToAssign = id.RoleName(roleToAssign.String)
	}
	if acceptedAt.Valid {
		at := acceptedAt.Time
		inv.AcceptedAt = &at
	}
	if err := json.Unmarshal(elements, &inv.Elements); err != nil {
		return nil, fmt.Errorf("unmarshal validation elements: %w", err)
	}
	return &inv, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
