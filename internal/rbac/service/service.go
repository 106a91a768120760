// Package service owns the role/permission catalog, grant management, and
// the cached reads the evaluator runs on.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"orgdesk/internal/cache"
	"orgdesk/internal/rbac/metrics"
	"orgdesk/internal/rbac/models"
	id "orgdesk/pkg/domain"
	dErrors "orgdesk/pkg/domain-errors"
	"orgdesk/pkg/platform/audit"
	"orgdesk/pkg/platform/sentinel"
	"orgdesk/pkg/requestcontext"
)

type Store interface {
	CreateRole(ctx context.Context, role *models.Role) error
	FindRoleByName(ctx context.Context, name id.RoleName) (*models.Role, error)
	ListRoles(ctx context.Context) ([]*models.Role, error)
	CreatePermission(ctx context.Context, permission *models.Permission) error
	FindPermissionByName(ctx context.Context, name string) (*models.Permission, error)
	LinkRolePermission(ctx context.Context, roleID id.RoleID, permissionID id.PermissionID) error
	ListPermissionsForRoles(ctx context.Context, roleIDs []id.RoleID) ([]*models.GrantedPermission, error)
	CreateUserRole(ctx context.Context, grant *models.UserRole) error
	ListActiveUserRoles(ctx context.Context, userID id.UserID, tenantID id.TenantID, now time.Time) ([]*models.UserRole, error)
	HasActiveGrant(ctx context.Context, userID id.UserID, roleID id.RoleID, tenantID id.TenantID) (bool, error)
	DeactivateUserRole(ctx context.Context, grantID id.UserRoleID) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Invalidator drops cached entries after a grant change. Satisfied by the
// cache broadcaster when cross-process invalidation is configured, or the
// manager directly for a single process.
type Invalidator interface {
	InvalidateSubject(ctx context.Context, subjectID string) error
}

// Service layers caching and grant management over the store. Role and
// permission reads go through the cache manager; grant writes invalidate the
// subject's entries so the next evaluation reflects the change immediately
// rather than after a TTL window.
type Service struct {
	store Store
	cache *cache.Manager

	logger         *slog.Logger
	auditPublisher AuditPublisher
	invalidator    Invalidator
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

func WithInvalidator(invalidator Invalidator) Option {
	return func(s *Service) {
		s.invalidator = invalidator
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(store Store, cacheManager *cache.Manager, opts ...Option) *Service {
	s := &Service{
		store:  store,
		cache:  cacheManager,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// ResolveRole looks up a catalog role by name. An unknown name is a
// configuration fault; callers must surface it, never substitute another
// role.
func (s *Service) ResolveRole(ctx context.Context, name id.RoleName) (*models.Role, error) {
	role, err := s.store.FindRoleByName(ctx, name)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "role "+name.String()+" is not configured")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve role")
	}
	return role, nil
}

// ListRoles returns the role catalog.
func (s *Service) ListRoles(ctx context.Context) ([]*models.Role, error) {
	return s.store.ListRoles(ctx)
}

// UserRoles returns the subject's live grants within the tenant, cached
// under the user_roles category.
func (s *Service) UserRoles(ctx context.Context, userID id.UserID, tenantID id.TenantID) ([]*models.UserRole, error) {
	key := cache.Key(cache.CategoryUserRoles, userID.String(), tenantID.String())
	if cached, ok := s.cache.Get(key); ok {
		if grants, ok := cached.([]*models.UserRole); ok {
			return grants, nil
		}
	}

	grants, err := s.store.ListActiveUserRoles(ctx, userID, tenantID, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user roles")
	}
	s.cache.Set(key, grants, cache.CategoryUserRoles)
	return grants, nil
}

// PermissionsFor returns the permissions carried by the subject's grants,
// each paired with the granting role, cached under the permissions category
// keyed by subject so a grant change invalidates it together with the role
// list.
func (s *Service) PermissionsFor(ctx context.Context, userID id.UserID, tenantID id.TenantID, grants []*models.UserRole) ([]*models.GrantedPermission, error) {
	key := cache.Key(cache.CategoryPermissions, userID.String(), tenantID.String())
	if cached, ok := s.cache.Get(key); ok {
		if permissions, ok := cached.([]*models.GrantedPermission); ok {
			return permissions, nil
		}
	}

	roleIDs := make([]id.RoleID, 0, len(grants))
	for _, grant := range grants {
		roleIDs = append(roleIDs, grant.RoleID)
	}
	permissions, err := s.store.ListPermissionsForRoles(ctx, roleIDs)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load permissions")
	}
	s.cache.Set(key, permissions, cache.CategoryPermissions)
	return permissions, nil
}

// Grant assigns the role to the subject unless an equivalent active grant
// already exists. Returns the grant and whether one was created.
func (s *Service) Grant(ctx context.Context, params models.NewUserRoleParams) (*models.UserRole, bool, error) {
	exists, err := s.store.HasActiveGrant(ctx, params.UserID, params.RoleID, params.TenantID)
	if err != nil {
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check existing grant")
	}
	if exists {
		return nil, false, nil
	}

	grant, err := models.NewUserRole(params, requestcontext.Now(ctx))
	if err != nil {
		return nil, false, dErrors.New(dErrors.CodeValidation, err.Error())
	}

	if err := s.store.CreateUserRole(ctx, grant); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// A concurrent run granted the same role; converge, do not fail.
			return nil, false, nil
		}
		if errors.Is(err, sentinel.ErrInvalidState) {
			return nil, false, dErrors.New(dErrors.CodeInvariantViolation, "grant violates context scoping rules")
		}
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create grant")
	}

	s.invalidateSubject(ctx, params.UserID)
	if s.metrics != nil {
		s.metrics.GrantsCreated.Inc()
	}
	s.logAudit(ctx, audit.Event{
		UserID:   params.UserID,
		TenantID: params.TenantID,
		Subject:  params.RoleName.String(),
		Action:   string(audit.EventRoleGranted),
		Decision: "granted",
	})
	s.logger.InfoContext(ctx, "role granted",
		"user_id", params.UserID,
		"tenant_id", params.TenantID,
		"role", params.RoleName,
	)
	return grant, true, nil
}

// Revoke deactivates a grant and drops the subject's cached entries.
func (s *Service) Revoke(ctx context.Context, grant *models.UserRole) error {
	if err := s.store.DeactivateUserRole(ctx, grant.ID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "grant not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke grant")
	}

	s.invalidateSubject(ctx, grant.UserID)
	if s.metrics != nil {
		s.metrics.GrantsRevoked.Inc()
	}
	s.logAudit(ctx, audit.Event{
		UserID:   grant.UserID,
		TenantID: grant.TenantID,
		Subject:  grant.RoleName.String(),
		Action:   string(audit.EventRoleRevoked),
		Decision: "revoked",
	})
	return nil
}

// InvalidateSubject drops every cached entry for a subject. Exposed so
// provisioning can invalidate after materializing records.
func (s *Service) InvalidateSubject(ctx context.Context, userID id.UserID) {
	s.invalidateSubject(ctx, userID)
}

func (s *Service) invalidateSubject(ctx context.Context, userID id.UserID) {
	if s.invalidator != nil {
		if err := s.invalidator.InvalidateSubject(ctx, userID.String()); err != nil {
			s.logger.WarnContext(ctx, "cache invalidation broadcast failed", "user_id", userID, "error", err)
		}
		return
	}
	s.cache.InvalidateSubject(userID.String())
}

func (s *Service) logAudit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "action", event.Action, "error", err)
	}
}
