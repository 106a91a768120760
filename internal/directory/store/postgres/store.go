package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"orgdesk/internal/directory/models"
	id "orgdesk/pkg/domain"
	"orgdesk/pkg/platform/sentinel"
	txcontext "orgdesk/pkg/platform/tx"
)

// Store persists directory records in PostgreSQL. Statements route through
// tx.Q so a caller-supplied transaction covers them when one is on the
// context; otherwise each statement runs on its own.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// ---------------------------------------------------------------------------
// Tenants
// ---------------------------------------------------------------------------

// CreateTenantIfAbsent inserts the tenant unless one with the same id exists.
// ON CONFLICT DO NOTHING keeps retried provisioning runs idempotent.
func (s *Store) CreateTenantIfAbsent(ctx context.Context, tenant *models.Tenant) (bool, error) {
	query := `
		INSERT INTO tenants (id, name, status, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`
	result, err := txcontext.Q(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(tenant.ID),
		tenant.Name,
		string(tenant.Status),
		tenant.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert tenant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert tenant rows: %w", err)
	}
	return affected > 0, nil
}

func (s *Store) FindTenant(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	var (
		tenant models.Tenant
		rawID  uuid.UUID
		status string
	)
	err := txcontext.Q(ctx, s.db).QueryRowContext(ctx,
		`SELECT id, name, status, created_at FROM tenants WHERE id = $1`,
		uuid.UUID(tenantID),
	).Scan(&rawID, &tenant.Name, &status, &tenant.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find tenant: %w", err)
	}
	tenant.ID = id.TenantID(rawID)
	tenant.Status = models.TenantStatus(status)
	return &tenant, nil
}

func (s *Store) CountTenants(ctx context.Context) (int, error) {
	var count int
	err := txcontext.Q(ctx, s.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM tenants`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count tenants: %w", err)
	}
	return count, nil
}

// ---------------------------------------------------------------------------
// Profiles
// ---------------------------------------------------------------------------

func (s *Store) UpsertProfile(ctx context.Context, profile *models.Profile) error {
	query := `
		INSERT INTO profiles (user_id, tenant_id, email, full_name, role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, tenant_id) DO UPDATE SET
			email = EXCLUDED.email,
			full_name = EXCLUDED.full_name,
			role = EXCLUDED.role,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`
	_, err := txcontext.Q(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(profile.UserID),
		uuid.UUID(profile.TenantID),
		profile.Email,
		profile.FullName,
		string(profile.Role),
		string(profile.Status),
		profile.CreatedAt,
		profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (s *Store) FindProfile(ctx context.Context, userID id.UserID, tenantID id.TenantID) (*models.Profile, error) {
	var (
		profile   models.Profile
		rawUser   uuid.UUID
		rawTenant uuid.UUID
		role      string
		status    string
	)
	err := txcontext.Q(ctx, s.db).QueryRowContext(ctx, `
		SELECT user_id, tenant_id, email, full_name, role, status, created_at, updated_at
		FROM profiles
		WHERE user_id = $1 AND tenant_id = $2
	`, uuid.UUID(userID), uuid.UUID(tenantID)).Scan(
		&rawUser, &rawTenant, &profile.Email, &profile.FullName,
		&role, &status, &profile.CreatedAt, &profile.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find profile: %w", err)
	}
	profile.UserID = id.UserID(rawUser)
	profile.TenantID = id.TenantID(rawTenant)
	profile.Role = id.RoleName(role)
	profile.Status = models.ProfileStatus(status)
	return &profile, nil
}

func (s *Store) HasActiveProfileByEmail(ctx context.Context, email string, tenantID id.TenantID) (bool, error) {
	var exists bool
	err := txcontext.Q(ctx, s.db).QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM profiles
			WHERE tenant_id = $1 AND lower(email) = lower($2) AND status = 'active'
		)
	`, uuid.UUID(tenantID), email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active profile: %w", err)
	}
	return exists, nil
}

// ---------------------------------------------------------------------------
// Employees
// ---------------------------------------------------------------------------

func (s *Store) FindEmployee(ctx context.Context, userID id.UserID, tenantID id.TenantID) (*models.Employee, error) {
	var (
		employee  models.Employee
		rawUser   uuid.UUID
		rawTenant uuid.UUID
		status    string
	)
	err := txcontext.Q(ctx, s.db).QueryRowContext(ctx, `
		SELECT user_id, tenant_id, employee_id, sequence, email, full_name, status, created_at
		FROM employees
		WHERE user_id = $1 AND tenant_id = $2
	`, uuid.UUID(userID), uuid.UUID(tenantID)).Scan(
		&rawUser, &rawTenant, &employee.EmployeeID, &employee.Sequence,
		&employee.Email, &employee.FullName, &status, &employee.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find employee: %w", err)
	}
	employee.UserID = id.UserID(rawUser)
	employee.TenantID = id.TenantID(rawTenant)
	employee.Status = models.ProfileStatus(status)
	return &employee, nil
}

func (s *Store) MaxEmployeeSequence(ctx context.Context, tenantID id.TenantID) (int, error) {
	var max int
	err := txcontext.Q(ctx, s.db).QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM employees WHERE tenant_id = $1`,
		uuid.UUID(tenantID),
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max employee sequence: %w", err)
	}
	return max, nil
}

// CreateEmployee inserts the employee. The unique constraint on
// (tenant_id, sequence) turns concurrent sequence races into ErrConflict,
// which the service resolves with a recompute-and-retry loop.
func (s *Store) CreateEmployee(ctx context.Context, employee *models.Employee) error {
	query := `
		INSERT INTO employees (user_id, tenant_id, employee_id, sequence, email, full_name, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := txcontext.Q(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(employee.UserID),
		uuid.UUID(employee.TenantID),
		employee.EmployeeID,
		employee.Sequence,
		employee.Email,
		employee.FullName,
		string(employee.Status),
		employee.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert employee: %w", err)
	}
	return nil
}
