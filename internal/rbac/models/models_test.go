package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "orgdesk/pkg/domain"
	dErrors "orgdesk/pkg/domain-errors"
)

func validGrantParams() NewUserRoleParams {
	return NewUserRoleParams{
		UserID:      id.NewUserID(),
		RoleID:      id.NewRoleID(),
		RoleName:    id.RoleEmployee,
		TenantID:    id.NewTenantID(),
		ContextType: ContextTenant,
	}
}

func TestNewUserRole(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	t.Run("valid tenant-scoped grant", func(t *testing.T) {
		params := validGrantParams()
		grant, err := NewUserRole(params, now)
		require.NoError(t, err)
		assert.True(t, grant.IsActive)
		assert.Nil(t, grant.ContextID)
		assert.Equal(t, now, grant.CreatedAt)
	})

	t.Run("context id equal to tenant id is repaired to nil", func(t *testing.T) {
		params := validGrantParams()
		redundant := uuid.UUID(params.TenantID)
		params.ContextID = &redundant

		grant, err := NewUserRole(params, now)
		require.NoError(t, err)
		assert.Nil(t, grant.ContextID, "redundant tenant-scoped context id is dropped")
	})

	t.Run("context id equal to tenant id under non-tenant scope is rejected", func(t *testing.T) {
		params := validGrantParams()
		params.ContextType = ContextProject
		redundant := uuid.UUID(params.TenantID)
		params.ContextID = &redundant

		_, err := NewUserRole(params, now)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("global grant with context id is rejected", func(t *testing.T) {
		params := validGrantParams()
		params.ContextType = ContextGlobal
		contextID := uuid.New()
		params.ContextID = &contextID

		_, err := NewUserRole(params, now)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("unknown role name is rejected", func(t *testing.T) {
		params := validGrantParams()
		params.RoleName = "grand_vizier"

		_, err := NewUserRole(params, now)
		require.Error(t, err)
	})

	t.Run("unknown context type is rejected", func(t *testing.T) {
		params := validGrantParams()
		params.ContextType = "galaxy"

		_, err := NewUserRole(params, now)
		require.Error(t, err)
	})
}

func TestUserRole_Live(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	grant, err := NewUserRole(validGrantParams(), now)
	require.NoError(t, err)

	assert.True(t, grant.Live(now))

	expired := *grant
	expiry := now.Add(-time.Minute)
	expired.ExpiresAt = &expiry
	assert.False(t, expired.Live(now))

	inactive := *grant
	inactive.IsActive = false
	assert.False(t, inactive.Live(now))
}

func TestPermissionName(t *testing.T) {
	assert.Equal(t, "manage_projects", PermissionName("manage", "projects"))
}
