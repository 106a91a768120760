package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orgdesk/internal/cache"
	"orgdesk/internal/rbac/models"
	storemem "orgdesk/internal/rbac/store/memory"
	id "orgdesk/pkg/domain"
	dErrors "orgdesk/pkg/domain-errors"
	"orgdesk/pkg/requestcontext"
)

func newTestService(t *testing.T) (*Service, *storemem.Store, *cache.Manager) {
	t.Helper()
	store := storemem.NewStore()
	manager := cache.New(cache.WithJanitorInterval(0))
	t.Cleanup(func() {
		_ = manager.Shutdown(context.Background())
	})
	svc := New(store, manager)
	require.NoError(t, svc.SeedDefaultCatalog(t.Context()))
	return svc, store, manager
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	return requestcontext.WithTime(t.Context(), time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC))
}

func grantRole(t *testing.T, svc *Service, ctx context.Context, userID id.UserID, tenantID id.TenantID, roleName id.RoleName) *models.UserRole {
	t.Helper()
	role, err := svc.ResolveRole(ctx, roleName)
	require.NoError(t, err)
	grant, created, err := svc.Grant(ctx, models.NewUserRoleParams{
		UserID:      userID,
		RoleID:      role.ID,
		RoleName:    role.Name,
		TenantID:    tenantID,
		ContextType: models.ContextTenant,
	})
	require.NoError(t, err)
	require.True(t, created)
	return grant
}

func TestService_SeedDefaultCatalog(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := testCtx(t)

	t.Run("all catalog roles resolve", func(t *testing.T) {
		for _, name := range id.KnownRoleNames() {
			role, err := svc.ResolveRole(ctx, name)
			require.NoError(t, err)
			assert.Equal(t, name.HierarchyLevel(), role.HierarchyLevel)
		}
	})

	t.Run("reseeding is a no-op", func(t *testing.T) {
		require.NoError(t, svc.SeedDefaultCatalog(ctx))

		roles, err := svc.ListRoles(ctx)
		require.NoError(t, err)
		assert.Len(t, roles, len(id.KnownRoleNames()))
	})
}

func TestService_ResolveRole_Unknown(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.ResolveRole(testCtx(t), "grand_vizier")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestService_Grant(t *testing.T) {
	t.Run("creates a tenant-scoped grant once", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		ctx := testCtx(t)
		userID := id.NewUserID()
		tenantID := id.NewTenantID()

		grant := grantRole(t, svc, ctx, userID, tenantID, id.RoleEmployee)
		assert.True(t, grant.IsActive)

		role, err := svc.ResolveRole(ctx, id.RoleEmployee)
		require.NoError(t, err)
		_, created, err := svc.Grant(ctx, models.NewUserRoleParams{
			UserID:      userID,
			RoleID:      role.ID,
			RoleName:    role.Name,
			TenantID:    tenantID,
			ContextType: models.ContextTenant,
		})
		require.NoError(t, err)
		assert.False(t, created, "equivalent active grant already exists")
	})

	t.Run("redundant context id is never persisted", func(t *testing.T) {
		svc, store, _ := newTestService(t)
		ctx := testCtx(t)
		userID := id.NewUserID()
		tenantID := id.NewTenantID()

		role, err := svc.ResolveRole(ctx, id.RoleViewer)
		require.NoError(t, err)
		redundant := uuid.UUID(tenantID)
		_, created, err := svc.Grant(ctx, models.NewUserRoleParams{
			UserID:      userID,
			RoleID:      role.ID,
			RoleName:    role.Name,
			TenantID:    tenantID,
			ContextType: models.ContextTenant,
			ContextID:   &redundant,
		})
		require.NoError(t, err)
		require.True(t, created)

		grants, err := store.ListActiveUserRoles(ctx, userID, tenantID, requestcontext.Now(ctx))
		require.NoError(t, err)
		require.Len(t, grants, 1)
		assert.Nil(t, grants[0].ContextID)
	})

	t.Run("global grant with context id is rejected", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		ctx := testCtx(t)

		role, err := svc.ResolveRole(ctx, id.RoleSuperAdmin)
		require.NoError(t, err)
		contextID := uuid.New()
		_, _, err = svc.Grant(ctx, models.NewUserRoleParams{
			UserID:      id.NewUserID(),
			RoleID:      role.ID,
			RoleName:    role.Name,
			TenantID:    id.NewTenantID(),
			ContextType: models.ContextGlobal,
			ContextID:   &contextID,
		})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestService_UserRoles_Caching(t *testing.T) {
	svc, store, manager := newTestService(t)
	ctx := testCtx(t)
	userID := id.NewUserID()
	tenantID := id.NewTenantID()

	grant := grantRole(t, svc, ctx, userID, tenantID, id.RoleEmployee)

	first, err := svc.UserRoles(ctx, userID, tenantID)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Deactivate behind the cache's back: the stale grant is still served.
	require.NoError(t, store.DeactivateUserRole(ctx, grant.ID))
	cached, err := svc.UserRoles(ctx, userID, tenantID)
	require.NoError(t, err)
	assert.Len(t, cached, 1, "cache still holds the revoked grant")

	// Invalidation makes the next read reflect the store.
	manager.InvalidateSubject(userID.String())
	fresh, err := svc.UserRoles(ctx, userID, tenantID)
	require.NoError(t, err)
	assert.Empty(t, fresh)
}

func TestService_Revoke_InvalidatesCache(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := testCtx(t)
	userID := id.NewUserID()
	tenantID := id.NewTenantID()

	grant := grantRole(t, svc, ctx, userID, tenantID, id.RoleProjectManager)

	grants, err := svc.UserRoles(ctx, userID, tenantID)
	require.NoError(t, err)
	require.Len(t, grants, 1)

	require.NoError(t, svc.Revoke(ctx, grant))

	grants, err = svc.UserRoles(ctx, userID, tenantID)
	require.NoError(t, err)
	assert.Empty(t, grants, "revocation drops the cached role list")
}
