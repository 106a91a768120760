package audit

import (
	"time"

	id "orgdesk/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/regulatory significance.
	// These require tamper-proof storage and long retention.
	// Examples: tenant provisioning, invitation acceptance, role grants.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring and forensics.
	// Examples: permission denials, invitation redemption failures, admin access.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers events useful for debugging and operational visibility.
	// These can be sampled or aggregated with shorter retention.
	// Examples: permission evaluations, cache invalidations, expiry sweeps.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	UserID    id.UserID
	TenantID  id.TenantID
	Subject   string
	Action    string
	Decision  string
	Reason    string
	// Email is recorded for provisioning events so the trail stays useful
	// even after the identity record changes.
	Email     string
	RequestID string
	// ActorID tracks who performed the action when different from UserID.
	// Used for admin operations where an admin acts on a user's behalf.
	ActorID string
}

type AuditEvent string

const (
	// Invitation events
	EventInvitationCreated   AuditEvent = "invitation_created"
	EventInvitationAccepted  AuditEvent = "invitation_accepted"
	EventInvitationCancelled AuditEvent = "invitation_cancelled"
	EventInvitationExpired   AuditEvent = "invitation_expired"
	EventInvitationRejected  AuditEvent = "invitation_rejected"

	// Provisioning events
	EventTenantProvisioned AuditEvent = "tenant_provisioned"
	EventProfileCreated    AuditEvent = "profile_created"
	EventEmployeeCreated   AuditEvent = "employee_created"
	EventProvisioningRerun AuditEvent = "provisioning_rerun"

	// Role and permission events
	EventRoleGranted         AuditEvent = "role_granted"
	EventRoleRevoked         AuditEvent = "role_revoked"
	EventPermissionDenied    AuditEvent = "permission_denied"
	EventPermissionEvaluated AuditEvent = "permission_evaluated"

	// Cache events
	EventCacheInvalidated AuditEvent = "cache_invalidated"
)

// eventCategories maps each audit event to its category.
// Compliance: legal/regulatory significance, long retention required.
// Security: security monitoring and alerting.
// Operations: debugging, operational visibility, can be sampled.
var eventCategories = map[AuditEvent]EventCategory{
	// Compliance events - require tamper-proof storage
	EventInvitationCreated:  CategoryCompliance,
	EventInvitationAccepted: CategoryCompliance,
	EventTenantProvisioned:  CategoryCompliance,
	EventProfileCreated:     CategoryCompliance,
	EventEmployeeCreated:    CategoryCompliance,
	EventRoleGranted:        CategoryCompliance,
	EventRoleRevoked:        CategoryCompliance,

	// Security events - feed into alerting
	EventInvitationCancelled: CategorySecurity,
	EventInvitationRejected:  CategorySecurity,
	EventPermissionDenied:    CategorySecurity,

	// Operations events - routine activity, can be sampled
	EventInvitationExpired:   CategoryOperations,
	EventProvisioningRerun:   CategoryOperations,
	EventPermissionEvaluated: CategoryOperations,
	EventCacheInvalidated:    CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
