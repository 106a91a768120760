// Package service implements the invitation lifecycle: creation with a
// pre-allocated tenant id and immutable validation snapshot, redemption
// guards, the conditional accept transition, and the expiry sweep.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"orgdesk/internal/invitation/metrics"
	"orgdesk/internal/invitation/models"
	"orgdesk/internal/invitation/token"
	id "orgdesk/pkg/domain"
	dErrors "orgdesk/pkg/domain-errors"
	"orgdesk/pkg/platform/audit"
	"orgdesk/pkg/platform/sentinel"
	"orgdesk/pkg/requestcontext"
	"orgdesk/pkg/secrets"
)

type Store interface {
	Create(ctx context.Context, inv *models.Invitation) error
	FindByID(ctx context.Context, invitationID id.InvitationID) (*models.Invitation, error)
	FindPendingByEmail(ctx context.Context, email string, tenantID id.TenantID) (*models.Invitation, error)
	MarkAccepted(ctx context.Context, invitationID id.InvitationID, at time.Time) error
	Cancel(ctx context.Context, invitationID id.InvitationID) error
	SweepExpired(ctx context.Context, now time.Time) (int, error)
	CountByStatus(ctx context.Context) (map[models.Status]int, error)
	CountStalePending(ctx context.Context, now time.Time) (int, error)
}

// MemberDirectory answers whether an email already belongs to an active
// member of a tenant. Implemented by the directory module.
type MemberDirectory interface {
	IsActiveMember(ctx context.Context, email string, tenantID id.TenantID) (bool, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service orchestrates the invitation lifecycle.
type Service struct {
	store   Store
	members MemberDirectory
	tokens  *token.Issuer
	ttl     time.Duration

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

// WithTTL overrides how long new invitations stay redeemable.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

const defaultTTL = 72 * time.Hour

// New constructs a Service.
func New(store Store, members MemberDirectory, tokens *token.Issuer, opts ...Option) *Service {
	s := &Service{
		store:   store,
		members: members,
		tokens:  tokens,
		ttl:     defaultTTL,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// CreateParams carries the inviter's request.
type CreateParams struct {
	Email          string
	FullName       string
	CompanyName    string
	InvitationType id.InvitationType
	RoleToAssign   id.RoleName
	InvitedBy      id.UserID
	InvitedByType  string
	// TenantID is required for collaborator invitations (the inviter's
	// tenant); ignored for tenant_owner invitations, which pre-allocate one.
	TenantID id.TenantID
}

// CreateResult pairs the stored invitation with the secrets the inviter must
// forward out of band. The plaintext temp password is never stored.
type CreateResult struct {
	Invitation   *models.Invitation
	InviteCode   string
	TempPassword string
}

// Create validates the request, pre-allocates the tenant id for owner
// invitations, and persists the invitation with its immutable snapshot.
// An email already belonging to an active member of the tenant is a conflict.
func (s *Service) Create(ctx context.Context, params CreateParams) (*CreateResult, error) {
	start := time.Now()
	now := requestcontext.Now(ctx)

	tenantID := params.TenantID
	if params.InvitationType == id.InvitationTypeTenantOwner {
		// Pre-allocate so every downstream provisioning step is idempotent
		// against a known id.
		tenantID = id.NewTenantID()
	} else if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "tenant_id is required for collaborator invitations")
	}

	if params.InvitationType == id.InvitationTypeCollaborator {
		member, err := s.members.IsActiveMember(ctx, params.Email, tenantID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check tenant membership")
		}
		if member {
			return nil, dErrors.New(dErrors.CodeConflict, "email already belongs to an active member of this tenant")
		}
	}

	tempPassword, err := secrets.Generate()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate temp password")
	}
	tempPasswordHash, err := secrets.Hash(tempPassword)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash temp password")
	}
	validationCode, err := secrets.Generate()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate validation code")
	}

	inv, err := models.NewInvitation(models.NewInvitationParams{
		Email:            params.Email,
		FullName:         params.FullName,
		CompanyName:      params.CompanyName,
		InvitationType:   params.InvitationType,
		RoleToAssign:     params.RoleToAssign,
		InvitedBy:        params.InvitedBy,
		InvitedByType:    params.InvitedByType,
		TenantID:         tenantID,
		TempPasswordHash: tempPasswordHash,
		ValidationCode:   validationCode,
		Now:              now,
		TTL:              s.ttl,
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}

	code, err := s.tokens.Issue(inv)
	if err != nil {
		return nil, err
	}
	inv.Token = code

	if err := s.store.Create(ctx, inv); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "invitation already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create invitation")
	}

	s.logAudit(ctx, audit.Event{
		UserID:   params.InvitedBy,
		TenantID: tenantID,
		Subject:  inv.Email,
		Action:   string(audit.EventInvitationCreated),
		Decision: string(inv.InvitationType),
	})
	if s.metrics != nil {
		s.metrics.IncrementCreated(string(inv.InvitationType))
		s.metrics.ObserveCreate(start)
	}
	s.logger.InfoContext(ctx, "invitation created",
		"invitation_id", inv.ID,
		"tenant_id", tenantID,
		"type", inv.InvitationType,
		"expires_at", inv.ExpiresAt,
	)

	return &CreateResult{Invitation: inv, InviteCode: code, TempPassword: tempPassword}, nil
}

// ValidationResult reports whether an invitation can still be redeemed.
type ValidationResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Validate reports whether the invitation is still redeemable. Used by the
// UI before the identity flow starts and by provisioning as a guard.
func (s *Service) Validate(ctx context.Context, invitationID id.InvitationID) (ValidationResult, error) {
	inv, err := s.store.FindByID(ctx, invitationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return ValidationResult{Valid: false, Reason: "invitation not found"}, nil
		}
		return ValidationResult{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load invitation")
	}

	valid, reason := inv.Redeemable(requestcontext.Now(ctx))
	return ValidationResult{Valid: valid, Reason: reason}, nil
}

// ValidateCode resolves a signed invite code to its invitation and validates
// it. A code that fails signature or expiry checks is reported as invalid,
// not as an error.
func (s *Service) ValidateCode(ctx context.Context, code string) (ValidationResult, error) {
	invitationID, _, err := s.tokens.Parse(code)
	if err != nil {
		if errors.Is(err, sentinel.ErrExpired) {
			return ValidationResult{Valid: false, Reason: "invitation expired"}, nil
		}
		return ValidationResult{Valid: false, Reason: "invalid invite code"}, nil
	}
	return s.Validate(ctx, invitationID)
}

// FindByID loads an invitation.
func (s *Service) FindByID(ctx context.Context, invitationID id.InvitationID) (*models.Invitation, error) {
	inv, err := s.store.FindByID(ctx, invitationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "invitation not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load invitation")
	}
	return inv, nil
}

// MarkAccepted performs the single allowed non-terminal transition. The store
// runs it as a conditional update so concurrent callers racing on the same
// invitation cannot both succeed; the loser gets sentinel.ErrAlreadyUsed and
// treats it as already handled.
func (s *Service) MarkAccepted(ctx context.Context, invitationID id.InvitationID) error {
	err := s.store.MarkAccepted(ctx, invitationID, requestcontext.Now(ctx))
	if err != nil {
		// Sentinels pass through untranslated so provisioning can branch.
		return err
	}

	s.logAudit(ctx, audit.Event{
		Subject: invitationID.String(),
		Action:  string(audit.EventInvitationAccepted),
	})
	if s.metrics != nil {
		s.metrics.Accepted.Inc()
	}
	return nil
}

// Cancel transitions a pending invitation to cancelled.
func (s *Service) Cancel(ctx context.Context, invitationID id.InvitationID) error {
	if err := s.store.Cancel(ctx, invitationID); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return dErrors.New(dErrors.CodeNotFound, "invitation not found")
		case errors.Is(err, sentinel.ErrInvalidState):
			return dErrors.New(dErrors.CodeConflict, "invitation is not pending")
		default:
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to cancel invitation")
		}
	}

	s.logAudit(ctx, audit.Event{
		UserID:  requestcontext.UserID(ctx),
		Subject: invitationID.String(),
		Action:  string(audit.EventInvitationCancelled),
	})
	if s.metrics != nil {
		s.metrics.Cancelled.Inc()
	}
	return nil
}

// SweepExpired transitions all pending invitations past their expiry to
// expired and returns the count. Idempotent; intended for periodic scheduling.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	count, err := s.store.SweepExpired(ctx, requestcontext.Now(ctx))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sweep expired invitations")
	}
	if count > 0 {
		s.logAudit(ctx, audit.Event{
			Action: string(audit.EventInvitationExpired),
			Reason: "expiry sweep",
		})
		if s.metrics != nil {
			s.metrics.Swept.Add(float64(count))
		}
		s.logger.InfoContext(ctx, "expired invitations swept", "count", count)
	}
	return count, nil
}

// CountByStatus reports invitation counts per status for diagnostics.
func (s *Service) CountByStatus(ctx context.Context) (map[models.Status]int, error) {
	return s.store.CountByStatus(ctx)
}

// CountStalePending counts pending invitations already past expiry, i.e.
// work the sweep has not gotten to yet.
func (s *Service) CountStalePending(ctx context.Context) (int, error) {
	return s.store.CountStalePending(ctx, requestcontext.Now(ctx))
}

func (s *Service) logAudit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event",
			"action", event.Action,
			"error", err,
		)
	}
}
