package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "orgdesk/pkg/domain"
	dErrors "orgdesk/pkg/domain-errors"
)

func TestEvaluator_Evaluate(t *testing.T) {
	t.Run("super admin bypasses explicit rows", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		ctx := testCtx(t)
		evaluator := NewEvaluator(svc)
		userID := id.NewUserID()
		tenantID := id.NewTenantID()
		grantRole(t, svc, ctx, userID, tenantID, id.RoleSuperAdmin)

		decision, err := evaluator.Evaluate(ctx, userID, tenantID, "anything_at_all", nil)
		require.NoError(t, err)
		assert.True(t, decision.Granted)
		assert.Equal(t, "super admin bypass", decision.Reason)
		assert.Contains(t, decision.AppliedRules, "super_admin:bypass")
	})

	t.Run("explicit role permission grants", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		ctx := testCtx(t)
		evaluator := NewEvaluator(svc)
		userID := id.NewUserID()
		tenantID := id.NewTenantID()
		grantRole(t, svc, ctx, userID, tenantID, id.RoleProjectManager)

		decision, err := evaluator.Evaluate(ctx, userID, tenantID, "manage_projects", nil)
		require.NoError(t, err)
		assert.True(t, decision.Granted)
		assert.Contains(t, decision.AppliedRules, "project_manager:manage_projects")
	})

	t.Run("deny by default for unmatched permission", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		ctx := testCtx(t)
		evaluator := NewEvaluator(svc)
		userID := id.NewUserID()
		tenantID := id.NewTenantID()
		grantRole(t, svc, ctx, userID, tenantID, id.RoleEmployee)

		decision, err := evaluator.Evaluate(ctx, userID, tenantID, "manage_projects", nil)
		require.NoError(t, err, "a denial is a normal outcome, not an error")
		assert.False(t, decision.Granted)
		assert.Contains(t, decision.Reason, "manage_projects")
	})

	t.Run("no roles denies", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		evaluator := NewEvaluator(svc)

		decision, err := evaluator.Evaluate(testCtx(t), id.NewUserID(), id.NewTenantID(), "view_tasks", nil)
		require.NoError(t, err)
		assert.False(t, decision.Granted)
		assert.Equal(t, "no active roles in this tenant", decision.Reason)
	})

	t.Run("contextual ownership composes with the role grant", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		ctx := testCtx(t)
		evaluator := NewEvaluator(svc)
		userID := id.NewUserID()
		tenantID := id.NewTenantID()
		grantRole(t, svc, ctx, userID, tenantID, id.RoleProjectManager)

		owned := &ResourceContext{ManagerID: userID}
		decision, err := evaluator.Evaluate(ctx, userID, tenantID, "manage_projects", owned)
		require.NoError(t, err)
		assert.True(t, decision.Granted)

		foreign := &ResourceContext{CreatedBy: id.NewUserID(), ManagerID: id.NewUserID()}
		decision, err = evaluator.Evaluate(ctx, userID, tenantID, "manage_projects", foreign)
		require.NoError(t, err)
		assert.False(t, decision.Granted)
		assert.Contains(t, decision.Reason, "manager")
	})

	t.Run("applied rules name only the roles carrying the permission", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		ctx := testCtx(t)
		evaluator := NewEvaluator(svc)
		userID := id.NewUserID()
		tenantID := id.NewTenantID()
		grantRole(t, svc, ctx, userID, tenantID, id.RoleProjectManager)
		grantRole(t, svc, ctx, userID, tenantID, id.RoleViewer)

		decision, err := evaluator.Evaluate(ctx, userID, tenantID, "manage_projects", nil)
		require.NoError(t, err)
		require.True(t, decision.Granted)
		assert.Equal(t, []string{"project_manager:manage_projects"}, decision.AppliedRules,
			"viewer does not carry manage_projects and must not appear")
	})

	t.Run("rejects missing inputs", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		evaluator := NewEvaluator(svc)

		_, err := evaluator.Evaluate(testCtx(t), id.UserID{}, id.NewTenantID(), "view_tasks", nil)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestEvaluator_CanUser(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := testCtx(t)
	evaluator := NewEvaluator(svc)
	userID := id.NewUserID()
	tenantID := id.NewTenantID()
	grantRole(t, svc, ctx, userID, tenantID, id.RoleManagerHR)

	decision, err := evaluator.CanUser(ctx, userID, tenantID, "view", "employees", nil)
	require.NoError(t, err)
	assert.True(t, decision.Granted)

	decision, err = evaluator.CanUser(ctx, userID, tenantID, "manage", "projects", nil)
	require.NoError(t, err)
	assert.False(t, decision.Granted)
}

func TestEvaluator_InvalidationReflectsNewGrants(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := testCtx(t)
	evaluator := NewEvaluator(svc)
	userID := id.NewUserID()
	tenantID := id.NewTenantID()
	grantRole(t, svc, ctx, userID, tenantID, id.RoleViewer)

	decision, err := evaluator.Evaluate(ctx, userID, tenantID, "manage_projects", nil)
	require.NoError(t, err)
	require.False(t, decision.Granted)

	// Grant invalidates the subject's cache, so the next evaluation misses
	// and reflects the new role immediately.
	grantRole(t, svc, ctx, userID, tenantID, id.RoleProjectManager)

	decision, err = evaluator.Evaluate(ctx, userID, tenantID, "manage_projects", nil)
	require.NoError(t, err)
	assert.True(t, decision.Granted)
}

func TestEvaluator_DecisionsAreCachedPerPermission(t *testing.T) {
	svc, store, manager := newTestService(t)
	ctx := testCtx(t)
	evaluator := NewEvaluator(svc)
	userID := id.NewUserID()
	tenantID := id.NewTenantID()
	grant := grantRole(t, svc, ctx, userID, tenantID, id.RoleViewer)

	decision, err := evaluator.Evaluate(ctx, userID, tenantID, "view_tasks", nil)
	require.NoError(t, err)
	require.True(t, decision.Granted)

	// Deactivate behind the cache's back: the cached decision is still served.
	require.NoError(t, store.DeactivateUserRole(ctx, grant.ID))
	decision, err = evaluator.Evaluate(ctx, userID, tenantID, "view_tasks", nil)
	require.NoError(t, err)
	assert.True(t, decision.Granted, "decision cache still holds the grant")

	// Subject invalidation drops the decision together with the role reads.
	manager.InvalidateSubject(userID.String())
	decision, err = evaluator.Evaluate(ctx, userID, tenantID, "view_tasks", nil)
	require.NoError(t, err)
	assert.False(t, decision.Granted)
}

func TestEvaluator_AuditLogAndStats(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := testCtx(t)
	evaluator := NewEvaluator(svc)
	userID := id.NewUserID()
	tenantID := id.NewTenantID()
	grantRole(t, svc, ctx, userID, tenantID, id.RoleEmployee)

	_, err := evaluator.Evaluate(ctx, userID, tenantID, "view_tasks", nil)
	require.NoError(t, err)
	_, err = evaluator.Evaluate(ctx, userID, tenantID, "manage_tenant", nil)
	require.NoError(t, err)

	t.Run("stats count both outcomes", func(t *testing.T) {
		stats := evaluator.GetPermissionStats()
		assert.Equal(t, 2, stats.TotalEvaluations)
		assert.Equal(t, 1, stats.Granted)
		assert.Equal(t, 1, stats.Denied)
		assert.InDelta(t, 0.5, stats.GrantRate, 0.001)
	})

	t.Run("audit log is newest first and honors the limit", func(t *testing.T) {
		entries := evaluator.GetAuditLog(1)
		require.Len(t, entries, 1)
		assert.Equal(t, "manage_tenant", entries[0].Permission)
		assert.False(t, entries[0].Granted)

		all := evaluator.GetAuditLog(0)
		assert.Len(t, all, 2)
	})
}

func TestEvaluator_AuditRingIsBounded(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := testCtx(t)
	evaluator := NewEvaluator(svc)
	userID := id.NewUserID()
	tenantID := id.NewTenantID()
	grantRole(t, svc, ctx, userID, tenantID, id.RoleViewer)

	for i := 0; i < auditRingCap+50; i++ {
		_, err := evaluator.Evaluate(ctx, userID, tenantID, "view_tasks", nil)
		require.NoError(t, err)
	}

	assert.Len(t, evaluator.GetAuditLog(0), auditRingCap)
	assert.Equal(t, auditRingCap+50, evaluator.GetPermissionStats().TotalEvaluations)
}
