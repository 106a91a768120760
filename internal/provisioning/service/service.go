// Package service implements the provisioning orchestrator: the idempotent
// pipeline that turns a confirmed identity plus a pending invitation into
// tenant, profile, employee and role records exactly once under retries.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	dirmodels "orgdesk/internal/directory/models"
	dirservice "orgdesk/internal/directory/service"
	invmodels "orgdesk/internal/invitation/models"
	"orgdesk/internal/invitation/token"
	"orgdesk/internal/provisioning/metrics"
	rbacmodels "orgdesk/internal/rbac/models"
	id "orgdesk/pkg/domain"
	dErrors "orgdesk/pkg/domain-errors"
	emailutil "orgdesk/pkg/email"
	"orgdesk/pkg/platform/audit"
	"orgdesk/pkg/platform/sentinel"
	"orgdesk/pkg/requestcontext"
)

// IdentityConfirmedEvent is the external event consumed by the orchestrator.
// RawMetadata is the identity provider's own copy of the validation snapshot;
// it is never trusted directly, only cross-checked against the stored one.
type IdentityConfirmedEvent struct {
	IdentityID       string                        `json:"identity_id"`
	Email            string                        `json:"email"`
	EmailConfirmedAt time.Time                     `json:"email_confirmed_at"`
	RawMetadata      invmodels.ValidationElements  `json:"raw_metadata"`
}

// Result is the structured outcome of a provisioning run. Validation and
// conflict failures surface here with Success=false rather than as errors;
// only infrastructure faults are returned as errors, so the event source can
// retry them.
type Result struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	TenantID   string `json:"tenant_id,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	RoleID     string `json:"role_id,omitempty"`
	EmployeeID string `json:"employee_id,omitempty"`
}

type Invitations interface {
	FindByID(ctx context.Context, invitationID id.InvitationID) (*invmodels.Invitation, error)
	MarkAccepted(ctx context.Context, invitationID id.InvitationID) error
}

type Directory interface {
	EnsureTenant(ctx context.Context, tenantID id.TenantID, name string) (*dirmodels.Tenant, bool, error)
	UpsertProfile(ctx context.Context, params dirservice.ProfileParams) (*dirmodels.Profile, error)
	EnsureEmployee(ctx context.Context, params dirservice.EmployeeParams) (*dirmodels.Employee, error)
}

type Roles interface {
	ResolveRole(ctx context.Context, name id.RoleName) (*rbacmodels.Role, error)
	Grant(ctx context.Context, params rbacmodels.NewUserRoleParams) (*rbacmodels.UserRole, bool, error)
	InvalidateSubject(ctx context.Context, userID id.UserID)
}

type CodeParser interface {
	Parse(code string) (id.InvitationID, *token.Claims, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service is the orchestrator. Every step is idempotent, so a retried run
// converges to the same end state; the invitation's conditional status
// transition is the single serialization point.
type Service struct {
	invitations Invitations
	directory   Directory
	roles       Roles
	codes       CodeParser

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

func New(invitations Invitations, directory Directory, roles Roles, codes CodeParser, opts ...Option) *Service {
	s := &Service{
		invitations: invitations,
		directory:   directory,
		roles:       roles,
		codes:       codes,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// HandleIdentityConfirmed runs the provisioning pipeline for an
// identity-confirmed event. Delivery is at least once; the short-circuit on
// a non-pending invitation makes redelivery a no-op.
func (s *Service) HandleIdentityConfirmed(ctx context.Context, event IdentityConfirmedEvent) (Result, error) {
	start := time.Now()
	defer s.observe(start)

	userID, err := id.ParseUserID(event.IdentityID)
	if err != nil {
		return s.rejected(ctx, "identity id is not a valid user id"), nil
	}

	invitationID, err := id.ParseInvitationID(event.RawMetadata.InvitationID)
	if err != nil {
		return s.rejected(ctx, "event metadata carries no usable invitation id"), nil
	}

	inv, err := s.invitations.FindByID(ctx, invitationID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return s.rejected(ctx, "invitation not found"), nil
		}
		return Result{}, err
	}

	// Primary idempotency guard: a non-pending invitation was already
	// handled, by this process or another.
	if inv.Status != invmodels.StatusPending {
		s.count("noop")
		return Result{
			Success:  true,
			Message:  "invitation already processed",
			TenantID: inv.TenantID.String(),
			UserID:   userID.String(),
		}, nil
	}

	if ok, reason := inv.Redeemable(requestcontext.Now(ctx)); !ok {
		return s.rejected(ctx, reason), nil
	}

	if err := inv.Elements.VerifyCritical(event.RawMetadata); err != nil {
		s.logAudit(ctx, audit.Event{
			UserID:   userID,
			TenantID: inv.TenantID,
			Subject:  inv.ID.String(),
			Action:   string(audit.EventInvitationRejected),
			Decision: "rejected",
			Reason:   err.Error(),
			Email:    event.Email,
		})
		return s.rejected(ctx, err.Error()), nil
	}

	return s.provision(ctx, inv, userID, event.Email)
}

// OnboardTenantOwner is the administrative re-run entry point. It applies
// the same idempotency guard as the event path; the signed invite code
// stands in for the cross-validated metadata.
func (s *Service) OnboardTenantOwner(ctx context.Context, userID id.UserID, email, slug, tenantName, inviteCode string) (Result, error) {
	start := time.Now()
	defer s.observe(start)

	invitationID, _, err := s.codes.Parse(inviteCode)
	if err != nil {
		if errors.Is(err, sentinel.ErrExpired) {
			return s.rejected(ctx, "invite code has expired"), nil
		}
		return s.rejected(ctx, "invite code is invalid"), nil
	}

	inv, err := s.invitations.FindByID(ctx, invitationID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return s.rejected(ctx, "invitation not found"), nil
		}
		return Result{}, err
	}

	if inv.Status != invmodels.StatusPending {
		s.count("noop")
		return Result{
			Success:  true,
			Message:  "invitation already processed",
			TenantID: inv.TenantID.String(),
			UserID:   userID.String(),
		}, nil
	}

	s.logAudit(ctx, audit.Event{
		UserID:   userID,
		TenantID: inv.TenantID,
		Subject:  slug,
		Action:   string(audit.EventProvisioningRerun),
		Email:    email,
	})

	if tenantName == "" {
		tenantName = inv.Elements.CompanyName
	}
	return s.provisionNamed(ctx, inv, userID, email, tenantName)
}

func (s *Service) provision(ctx context.Context, inv *invmodels.Invitation, userID id.UserID, email string) (Result, error) {
	return s.provisionNamed(ctx, inv, userID, email, inv.Elements.CompanyName)
}

// provisionNamed runs steps 3 through 8. Every write is an upsert or a
// create-if-absent, so a rerun after a partial failure converges instead of
// duplicating rows.
func (s *Service) provisionNamed(ctx context.Context, inv *invmodels.Invitation, userID id.UserID, email, tenantName string) (Result, error) {
	if email == "" {
		email = inv.Email
	}
	fullName := inv.FullName
	if fullName == "" {
		first, last := emailutil.DeriveNameFromEmail(email)
		fullName = first + " " + last
	}
	if tenantName == "" {
		tenantName = fullName + "'s organization"
	}

	tenant, _, err := s.directory.EnsureTenant(ctx, inv.TenantID, tenantName)
	if err != nil {
		return Result{}, err
	}

	roleName := id.RoleTenantAdmin
	if inv.InvitationType == id.InvitationTypeCollaborator {
		roleName = inv.RoleToAssign
	}
	role, err := s.roles.ResolveRole(ctx, roleName)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			// A misconfigured catalog must surface; substituting another
			// role here would grant privileges nobody asked for.
			return s.rejected(ctx, "role "+roleName.String()+" is not configured"), nil
		}
		return Result{}, err
	}

	if _, err := s.directory.UpsertProfile(ctx, dirservice.ProfileParams{
		UserID:   userID,
		TenantID: tenant.ID,
		Email:    email,
		FullName: fullName,
		Role:     role.Name,
	}); err != nil {
		return Result{}, err
	}

	employee, err := s.directory.EnsureEmployee(ctx, dirservice.EmployeeParams{
		UserID:   userID,
		TenantID: tenant.ID,
		Email:    email,
		FullName: fullName,
	})
	if err != nil {
		return Result{}, err
	}

	if _, _, err := s.roles.Grant(ctx, rbacmodels.NewUserRoleParams{
		UserID:      userID,
		RoleID:      role.ID,
		RoleName:    role.Name,
		TenantID:    tenant.ID,
		ContextType: rbacmodels.ContextTenant,
	}); err != nil {
		return Result{}, err
	}

	err = s.invitations.MarkAccepted(ctx, inv.ID)
	switch {
	case err == nil:
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		// A concurrent run won the conditional update; everything it wrote
		// is what this run would have written.
		s.logger.InfoContext(ctx, "invitation accepted by concurrent run", "invitation_id", inv.ID)
	case errors.Is(err, sentinel.ErrNotFound):
		return s.rejected(ctx, "invitation disappeared during provisioning"), nil
	default:
		return Result{}, err
	}

	s.roles.InvalidateSubject(ctx, userID)

	s.count("provisioned")
	s.logger.InfoContext(ctx, "provisioning complete",
		"invitation_id", inv.ID,
		"tenant_id", tenant.ID,
		"user_id", userID,
		"employee_id", employee.EmployeeID,
	)

	return Result{
		Success:    true,
		Message:    "provisioning complete",
		TenantID:   tenant.ID.String(),
		UserID:     userID.String(),
		RoleID:     role.ID.String(),
		EmployeeID: employee.EmployeeID,
	}, nil
}

func (s *Service) rejected(ctx context.Context, message string) Result {
	s.count("rejected")
	s.logger.WarnContext(ctx, "provisioning rejected", "reason", message)
	return Result{Success: false, Message: message}
}

func (s *Service) count(outcome string) {
	if s.metrics != nil {
		s.metrics.IncrementRun(outcome)
	}
}

func (s *Service) observe(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveRun(time.Since(start).Seconds())
	}
}

func (s *Service) logAudit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "action", event.Action, "error", err)
	}
}
