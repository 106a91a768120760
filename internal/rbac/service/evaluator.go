package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"orgdesk/internal/cache"
	"orgdesk/internal/rbac/metrics"
	"orgdesk/internal/rbac/models"
	id "orgdesk/pkg/domain"
	dErrors "orgdesk/pkg/domain-errors"
	"orgdesk/pkg/platform/audit"
	"orgdesk/pkg/requestcontext"
)

// Decision is the outcome of a permission evaluation. A denial is a normal
// result carrying a human-readable reason, not an error.
type Decision struct {
	Granted      bool     `json:"granted"`
	Reason       string   `json:"reason"`
	AppliedRules []string `json:"applied_rules,omitempty"`
}

// ResourceContext carries per-resource ownership attributes for contextual
// checks. Ownership is evaluated directly, never cached; it is per-resource
// and too fine-grained to be worth a cache entry.
type ResourceContext struct {
	CreatedBy id.UserID
	ManagerID id.UserID
}

// AuditEntry is one recorded evaluation in the bounded recent history.
type AuditEntry struct {
	UserID     id.UserID   `json:"user_id"`
	TenantID   id.TenantID `json:"tenant_id"`
	Permission string      `json:"permission"`
	Granted    bool        `json:"granted"`
	Reason     string      `json:"reason"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Stats summarizes evaluation outcomes since process start.
type Stats struct {
	TotalEvaluations int     `json:"total_evaluations"`
	Granted          int     `json:"granted"`
	Denied           int     `json:"denied"`
	GrantRate        float64 `json:"grant_rate"`
}

// auditRingCap bounds the in-memory evaluation history.
const auditRingCap = 1000

// Evaluator answers access-control queries over the cached role and
// permission reads the Service provides, caching the composed decision per
// (subject, tenant, permission). Deny by default: a permission is granted
// only through an explicit role-permission row or the super-admin bypass.
type Evaluator struct {
	roles *Service

	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics

	mu      sync.Mutex
	ring    []AuditEntry
	granted int
	denied  int
}

type EvaluatorOption func(e *Evaluator)

func WithEvaluatorLogger(logger *slog.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

func WithEvaluatorAuditPublisher(publisher AuditPublisher) EvaluatorOption {
	return func(e *Evaluator) {
		e.auditPublisher = publisher
	}
}

func WithEvaluatorMetrics(m *metrics.Metrics) EvaluatorOption {
	return func(e *Evaluator) {
		e.metrics = m
	}
}

func NewEvaluator(roles *Service, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		roles:  roles,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Evaluate decides whether the subject holds the named permission within the
// tenant. A nil resource skips the contextual ownership check.
func (e *Evaluator) Evaluate(ctx context.Context, userID id.UserID, tenantID id.TenantID, permissionName string, resource *ResourceContext) (Decision, error) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.ObserveEvaluation(time.Since(start).Seconds())
		}
	}()

	if userID.IsNil() || tenantID.IsNil() || permissionName == "" {
		return Decision{}, dErrors.New(dErrors.CodeValidation, "subject, tenant and permission are required")
	}

	base, err := e.baseDecision(ctx, userID, tenantID, permissionName)
	if err != nil {
		return Decision{}, err
	}

	decision := applyOwnership(base, userID, resource)
	e.record(ctx, userID, tenantID, permissionName, decision)
	return decision, nil
}

// baseDecision resolves the role-derived part of the decision, cached per
// (subject, tenant, permission) under the permissions category. The key
// carries the subject id, so InvalidateSubject drops it on grant changes.
func (e *Evaluator) baseDecision(ctx context.Context, userID id.UserID, tenantID id.TenantID, permissionName string) (Decision, error) {
	key := cache.Key(cache.CategoryPermissions, userID.String(), tenantID.String(), permissionName)
	if cached, ok := e.roles.cache.Get(key); ok {
		if decision, ok := cached.(Decision); ok {
			return decision, nil
		}
	}

	grants, err := e.roles.UserRoles(ctx, userID, tenantID)
	if err != nil {
		return Decision{}, err
	}

	var permissions []*models.GrantedPermission
	if len(grants) > 0 && !anyBypass(grants) {
		permissions, err = e.roles.PermissionsFor(ctx, userID, tenantID, grants)
		if err != nil {
			return Decision{}, err
		}
	}

	decision := decide(grants, permissions, permissionName)
	e.roles.cache.Set(key, decision, cache.CategoryPermissions)
	return decision, nil
}

func anyBypass(grants []*models.UserRole) bool {
	for _, grant := range grants {
		if grant.RoleName.BypassesPermissionChecks() {
			return true
		}
	}
	return false
}

// CanUser maps (action, resource) to the canonical "{action}_{resource}"
// permission name and delegates to Evaluate.
func (e *Evaluator) CanUser(ctx context.Context, userID id.UserID, tenantID id.TenantID, action, resource string, resourceCtx *ResourceContext) (Decision, error) {
	return e.Evaluate(ctx, userID, tenantID, models.PermissionName(action, resource), resourceCtx)
}

func decide(grants []*models.UserRole, permissions []*models.GrantedPermission, permissionName string) Decision {
	if len(grants) == 0 {
		return Decision{Granted: false, Reason: "no active roles in this tenant"}
	}

	for _, grant := range grants {
		if grant.RoleName.BypassesPermissionChecks() {
			return Decision{
				Granted:      true,
				Reason:       "super admin bypass",
				AppliedRules: []string{grant.RoleName.String() + ":bypass"},
			}
		}
	}

	roleNames := make(map[id.RoleID]id.RoleName, len(grants))
	for _, grant := range grants {
		roleNames[grant.RoleID] = grant.RoleName
	}

	// Only the role-permission rows that carry the permission are applied.
	var applied []string
	for _, permission := range permissions {
		if permission.Permission.Name != permissionName {
			continue
		}
		if name, ok := roleNames[permission.RoleID]; ok {
			applied = append(applied, name.String()+":"+permissionName)
		}
	}
	if len(applied) == 0 {
		return Decision{
			Granted: false,
			Reason:  fmt.Sprintf("insufficient permissions: %s is not granted by any active role", permissionName),
		}
	}

	return Decision{Granted: true, Reason: "granted by role permission", AppliedRules: applied}
}

// applyOwnership overlays the per-resource ownership check on the cached
// role-derived decision.
func applyOwnership(base Decision, userID id.UserID, resource *ResourceContext) Decision {
	if !base.Granted || resource == nil {
		return base
	}
	if resource.CreatedBy != userID && resource.ManagerID != userID {
		return Decision{
			Granted:      false,
			Reason:       "not the creator or manager of this resource",
			AppliedRules: base.AppliedRules,
		}
	}
	return base
}

func (e *Evaluator) record(ctx context.Context, userID id.UserID, tenantID id.TenantID, permissionName string, decision Decision) {
	entry := AuditEntry{
		UserID:     userID,
		TenantID:   tenantID,
		Permission: permissionName,
		Granted:    decision.Granted,
		Reason:     decision.Reason,
		Timestamp:  requestcontext.Now(ctx),
	}

	e.mu.Lock()
	e.ring = append(e.ring, entry)
	if len(e.ring) > auditRingCap {
		e.ring = e.ring[len(e.ring)-auditRingCap:]
	}
	if decision.Granted {
		e.granted++
	} else {
		e.denied++
	}
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.IncrementEvaluation(decision.Granted)
	}
	if !decision.Granted && e.auditPublisher != nil {
		event := audit.Event{
			UserID:   userID,
			TenantID: tenantID,
			Subject:  permissionName,
			Action:   string(audit.EventPermissionDenied),
			Decision: "denied",
			Reason:   decision.Reason,
		}
		if err := e.auditPublisher.Emit(ctx, event); err != nil {
			e.logger.WarnContext(ctx, "failed to emit audit event", "action", event.Action, "error", err)
		}
	}
}

// GetPermissionStats summarizes outcomes recorded since process start.
func (e *Evaluator) GetPermissionStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	total := e.granted + e.denied
	stats := Stats{TotalEvaluations: total, Granted: e.granted, Denied: e.denied}
	if total > 0 {
		stats.GrantRate = float64(e.granted) / float64(total)
	}
	return stats
}

// GetAuditLog returns up to limit recent evaluations, newest first. A
// non-positive limit returns the whole retained history.
func (e *Evaluator) GetAuditLog(limit int) []AuditEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	if limit <= 0 || limit > len(e.ring) {
		limit = len(e.ring)
	}
	entries := make([]AuditEntry, limit)
	for i := 0; i < limit; i++ {
		entries[i] = e.ring[len(e.ring)-1-i]
	}
	return entries
}
