// Package service exposes the directory operations provisioning relies on:
// idempotent tenant materialization, profile upserts, and concurrency-safe
// employee id assignment.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"orgdesk/internal/directory/metrics"
	"orgdesk/internal/directory/models"
	id "orgdesk/pkg/domain"
	dErrors "orgdesk/pkg/domain-errors"
	"orgdesk/pkg/platform/audit"
	"orgdesk/pkg/platform/sentinel"
	"orgdesk/pkg/requestcontext"
)

type TenantStore interface {
	CreateTenantIfAbsent(ctx context.Context, tenant *models.Tenant) (bool, error)
	FindTenant(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error)
	CountTenants(ctx context.Context) (int, error)
}

type ProfileStore interface {
	UpsertProfile(ctx context.Context, profile *models.Profile) error
	FindProfile(ctx context.Context, userID id.UserID, tenantID id.TenantID) (*models.Profile, error)
	HasActiveProfileByEmail(ctx context.Context, email string, tenantID id.TenantID) (bool, error)
}

type EmployeeStore interface {
	FindEmployee(ctx context.Context, userID id.UserID, tenantID id.TenantID) (*models.Employee, error)
	MaxEmployeeSequence(ctx context.Context, tenantID id.TenantID) (int, error)
	CreateEmployee(ctx context.Context, employee *models.Employee) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service owns directory reads and the idempotent writes provisioning makes.
type Service struct {
	tenants   TenantStore
	profiles  ProfileStore
	employees EmployeeStore

	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs a Service.
func New(tenants TenantStore, profiles ProfileStore, employees EmployeeStore, opts ...Option) *Service {
	s := &Service{
		tenants:   tenants,
		profiles:  profiles,
		employees: employees,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// EnsureTenant materializes the tenant with the pre-allocated id if it does
// not exist yet. An existing tenant is success, not a conflict, so retried
// provisioning runs converge.
func (s *Service) EnsureTenant(ctx context.Context, tenantID id.TenantID, name string) (*models.Tenant, bool, error) {
	tenant, err := models.NewTenant(tenantID, name, requestcontext.Now(ctx))
	if err != nil {
		return nil, false, dErrors.New(dErrors.CodeValidation, err.Error())
	}

	created, err := s.tenants.CreateTenantIfAbsent(ctx, tenant)
	if err != nil {
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to materialize tenant")
	}
	if !created {
		existing, err := s.tenants.FindTenant(ctx, tenantID)
		if err != nil {
			return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load existing tenant")
		}
		return existing, false, nil
	}

	if s.metrics != nil {
		s.metrics.IncrementTenantsCreated()
	}
	s.logAudit(ctx, audit.Event{
		TenantID: tenantID,
		Subject:  tenant.Name,
		Action:   string(audit.EventTenantProvisioned),
		Decision: "created",
	})
	s.logger.InfoContext(ctx, "tenant materialized", "tenant_id", tenantID, "name", tenant.Name)
	return tenant, true, nil
}

// GetTenant loads a tenant.
func (s *Service) GetTenant(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	tenant, err := s.tenants.FindTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "tenant not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load tenant")
	}
	return tenant, nil
}

// ProfileParams carries an upsert request for a member profile.
type ProfileParams struct {
	UserID   id.UserID
	TenantID id.TenantID
	Email    string
	FullName string
	Role     id.RoleName
}

// UpsertProfile inserts or refreshes the profile keyed by (user_id, tenant_id).
// Upsert, not insert, so a retry after a prior partial provisioning run does
// not duplicate rows.
func (s *Service) UpsertProfile(ctx context.Context, params ProfileParams) (*models.Profile, error) {
	if params.UserID.IsNil() || params.TenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "user id and tenant id are required")
	}

	now := requestcontext.Now(ctx)
	profile := &models.Profile{
		UserID:    params.UserID,
		TenantID:  params.TenantID,
		Email:     strings.ToLower(strings.TrimSpace(params.Email)),
		FullName:  strings.TrimSpace(params.FullName),
		Role:      params.Role,
		Status:    models.ProfileActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.profiles.UpsertProfile(ctx, profile); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to upsert profile")
	}
	return profile, nil
}

// GetProfile loads a member profile.
func (s *Service) GetProfile(ctx context.Context, userID id.UserID, tenantID id.TenantID) (*models.Profile, error) {
	profile, err := s.profiles.FindProfile(ctx, userID, tenantID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "profile not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load profile")
	}
	return profile, nil
}

// IsActiveMember reports whether the email belongs to an active member of
// the tenant. Used by invitation creation as its conflict guard.
func (s *Service) IsActiveMember(ctx context.Context, email string, tenantID id.TenantID) (bool, error) {
	return s.profiles.HasActiveProfileByEmail(ctx, email, tenantID)
}

// maxSequenceAttempts bounds the employee id retry loop. Each retry implies
// another run claimed the candidate sequence first, so exhausting the bound
// means sustained write pressure no sane tenant produces.
const maxSequenceAttempts = 10

// EmployeeParams carries an employee materialization request.
type EmployeeParams struct {
	UserID   id.UserID
	TenantID id.TenantID
	Email    string
	FullName string
}

// EnsureEmployee returns the existing employee record for (user_id,
// tenant_id) or creates one with the next free sequence number. Two
// provisioning runs racing in the same tenant never collide on an id: the
// loser of the (tenant_id, sequence) uniqueness race recomputes and retries.
func (s *Service) EnsureEmployee(ctx context.Context, params EmployeeParams) (*models.Employee, error) {
	if params.UserID.IsNil() || params.TenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "user id and tenant id are required")
	}

	existing, err := s.employees.FindEmployee(ctx, params.UserID, params.TenantID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load employee")
	}

	now := requestcontext.Now(ctx)
	for attempt := 0; attempt < maxSequenceAttempts; attempt++ {
		max, err := s.employees.MaxEmployeeSequence(ctx, params.TenantID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to compute employee sequence")
		}

		sequence := max + 1
		employee := &models.Employee{
			UserID:     params.UserID,
			TenantID:   params.TenantID,
			EmployeeID: models.FormatEmployeeID(sequence),
			Sequence:   sequence,
			Email:      strings.ToLower(strings.TrimSpace(params.Email)),
			FullName:   strings.TrimSpace(params.FullName),
			Status:     models.ProfileActive,
			CreatedAt:  now,
		}

		err = s.employees.CreateEmployee(ctx, employee)
		if err == nil {
			if s.metrics != nil {
				s.metrics.IncrementEmployeesCreated()
			}
			s.logAudit(ctx, audit.Event{
				UserID:   params.UserID,
				TenantID: params.TenantID,
				Subject:  employee.EmployeeID,
				Action:   string(audit.EventEmployeeCreated),
				Decision: "created",
			})
			s.logger.InfoContext(ctx, "employee record created",
				"tenant_id", params.TenantID,
				"user_id", params.UserID,
				"employee_id", employee.EmployeeID,
			)
			return employee, nil
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create employee")
		}

		// Either our sequence number was taken or another run created this
		// employee; re-check before recomputing.
		if s.metrics != nil {
			s.metrics.SequenceConflicts.Inc()
		}
		if existing, findErr := s.employees.FindEmployee(ctx, params.UserID, params.TenantID); findErr == nil {
			return existing, nil
		}
	}

	return nil, dErrors.New(dErrors.CodeConflict, "could not assign employee id after repeated conflicts")
}

// GetEmployee loads an employee record.
func (s *Service) GetEmployee(ctx context.Context, userID id.UserID, tenantID id.TenantID) (*models.Employee, error) {
	employee, err := s.employees.FindEmployee(ctx, userID, tenantID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "employee not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load employee")
	}
	return employee, nil
}

// CountTenants reports the tenant count for diagnostics.
func (s *Service) CountTenants(ctx context.Context) (int, error) {
	return s.tenants.CountTenants(ctx)
}

func (s *Service) logAudit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "action", event.Action, "error", err)
	}
}
