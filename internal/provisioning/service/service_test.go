package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orgdesk/internal/cache"
	dirservice "orgdesk/internal/directory/service"
	dirmem "orgdesk/internal/directory/store/memory"
	invmodels "orgdesk/internal/invitation/models"
	invservice "orgdesk/internal/invitation/service"
	invmem "orgdesk/internal/invitation/store/memory"
	"orgdesk/internal/invitation/token"
	rbacservice "orgdesk/internal/rbac/service"
	rbacmem "orgdesk/internal/rbac/store/memory"
	id "orgdesk/pkg/domain"
	"orgdesk/pkg/requestcontext"
)

// fixture wires the full provisioning stack over in-memory stores.
type fixture struct {
	invitations *invservice.Service
	directory   *dirservice.Service
	roles       *rbacservice.Service
	rbacStore   *rbacmem.Store
	dirStore    *dirmem.Store
	service     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dirStore := dirmem.NewStore()
	directory := dirservice.New(dirStore, dirStore, dirStore)

	invStore := invmem.NewStore()
	tokens := token.NewIssuer("test-signing-key", "orgdesk-test")
	invitations := invservice.New(invStore, directory, tokens)

	rbacStore := rbacmem.NewStore()
	manager := cache.New(cache.WithJanitorInterval(0))
	t.Cleanup(func() {
		_ = manager.Shutdown(context.Background())
	})
	roles := rbacservice.New(rbacStore, manager)
	require.NoError(t, roles.SeedDefaultCatalog(t.Context()))

	return &fixture{
		invitations: invitations,
		directory:   directory,
		roles:       roles,
		rbacStore:   rbacStore,
		dirStore:    dirStore,
		service:     New(invitations, directory, roles, tokens),
	}
}

// testCtx anchors the request clock near the wall clock so signed invite
// codes round-trip through JWT expiry validation.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	return requestcontext.WithTime(t.Context(), time.Now().UTC().Truncate(time.Second))
}

// ownerInvitation creates a tenant_owner invitation and the event its
// identity provider would deliver after email confirmation.
func ownerInvitation(t *testing.T, f *fixture, ctx context.Context, email string) (*invservice.CreateResult, IdentityConfirmedEvent) {
	t.Helper()

	created, err := f.invitations.Create(ctx, invservice.CreateParams{
		Email:          email,
		FullName:       "Alice Hargreaves",
		CompanyName:    "Wonderland Ltd",
		InvitationType: id.InvitationTypeTenantOwner,
		InvitedBy:      id.NewUserID(),
		InvitedByType:  "admin",
	})
	require.NoError(t, err)

	return created, eventFor(created, id.NewUserID().String(), email)
}

func eventFor(created *invservice.CreateResult, identityID, email string) IdentityConfirmedEvent {
	claimed := created.Invitation.Elements
	claimed.TempPassword = created.TempPassword
	return IdentityConfirmedEvent{
		IdentityID:       identityID,
		Email:            email,
		EmailConfirmedAt: created.Invitation.CreatedAt,
		RawMetadata:      claimed,
	}
}

func TestHandleIdentityConfirmed_ProvisionsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	created, event := ownerInvitation(t, f, ctx, "alice@x.com")

	result, err := f.service.HandleIdentityConfirmed(ctx, event)
	require.NoError(t, err)
	require.True(t, result.Success, result.Message)
	assert.Equal(t, created.Invitation.TenantID.String(), result.TenantID)
	assert.Equal(t, "EMP001", result.EmployeeID)
	assert.NotEmpty(t, result.RoleID)

	inv, err := f.invitations.FindByID(ctx, created.Invitation.ID)
	require.NoError(t, err)
	assert.Equal(t, invmodels.StatusAccepted, inv.Status)

	userID, err := id.ParseUserID(event.IdentityID)
	require.NoError(t, err)
	profile, err := f.directory.GetProfile(ctx, userID, created.Invitation.TenantID)
	require.NoError(t, err)
	assert.Equal(t, id.RoleTenantAdmin, profile.Role)

	grants, err := f.rbacStore.ListActiveUserRoles(ctx, userID, created.Invitation.TenantID, requestcontext.Now(ctx))
	require.NoError(t, err)
	assert.Len(t, grants, 1)
}

func TestHandleIdentityConfirmed_RedeliveryIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	_, event := ownerInvitation(t, f, ctx, "alice@x.com")

	first, err := f.service.HandleIdentityConfirmed(ctx, event)
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := f.service.HandleIdentityConfirmed(ctx, event)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Equal(t, "invitation already processed", second.Message)
	assert.Empty(t, second.EmployeeID, "no-op result carries no new records")

	tenants, err := f.directory.CountTenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, tenants, "redelivery creates no second tenant")

	userID, err := id.ParseUserID(event.IdentityID)
	require.NoError(t, err)
	tenantID, err := id.ParseTenantID(event.RawMetadata.TenantID)
	require.NoError(t, err)
	grants, err := f.rbacStore.ListActiveUserRoles(ctx, userID, tenantID, requestcontext.Now(ctx))
	require.NoError(t, err)
	assert.Len(t, grants, 1, "redelivery grants no second role")
}

func TestHandleIdentityConfirmed_CriticalElementGate(t *testing.T) {
	tamper := map[string]func(e *invmodels.ValidationElements){
		"full_name missing":       func(e *invmodels.ValidationElements) { e.FullName = "" },
		"tenant_id mismatched":    func(e *invmodels.ValidationElements) { e.TenantID = id.NewTenantID().String() },
		"invitation_type missing": func(e *invmodels.ValidationElements) { e.InvitationType = "" },
		"temp_password wrong":     func(e *invmodels.ValidationElements) { e.TempPassword = "not-the-password" },
	}

	for name, mutate := range tamper {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			ctx := testCtx(t)
			created, event := ownerInvitation(t, f, ctx, "alice@x.com")
			mutate(&event.RawMetadata)

			result, err := f.service.HandleIdentityConfirmed(ctx, event)
			require.NoError(t, err, "a validation failure is a result, not an error")
			assert.False(t, result.Success)
			assert.Contains(t, result.Message, "critical")

			tenants, err := f.directory.CountTenants(ctx)
			require.NoError(t, err)
			assert.Zero(t, tenants, "fail-closed run mutates nothing")

			inv, err := f.invitations.FindByID(ctx, created.Invitation.ID)
			require.NoError(t, err)
			assert.Equal(t, invmodels.StatusPending, inv.Status)
		})
	}
}

func TestHandleIdentityConfirmed_Rejections(t *testing.T) {
	t.Run("unknown invitation", func(t *testing.T) {
		f := newFixture(t)
		ctx := testCtx(t)
		_, event := ownerInvitation(t, f, ctx, "alice@x.com")
		event.RawMetadata.InvitationID = id.NewInvitationID().String()

		result, err := f.service.HandleIdentityConfirmed(ctx, event)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, "invitation not found", result.Message)
	})

	t.Run("malformed identity id", func(t *testing.T) {
		f := newFixture(t)
		ctx := testCtx(t)
		_, event := ownerInvitation(t, f, ctx, "alice@x.com")
		event.IdentityID = "not-a-uuid"

		result, err := f.service.HandleIdentityConfirmed(ctx, event)
		require.NoError(t, err)
		assert.False(t, result.Success)
	})

	t.Run("expired invitation", func(t *testing.T) {
		f := newFixture(t)
		ctx := testCtx(t)
		_, event := ownerInvitation(t, f, ctx, "alice@x.com")

		late := requestcontext.WithTime(t.Context(), requestcontext.Now(ctx).Add(200*time.Hour))
		result, err := f.service.HandleIdentityConfirmed(late, event)
		require.NoError(t, err)
		assert.False(t, result.Success)

		tenants, err := f.directory.CountTenants(ctx)
		require.NoError(t, err)
		assert.Zero(t, tenants)
	})
}

func TestHandleIdentityConfirmed_CollaboratorsShareTenant(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)

	// Provision the owner first so the tenant exists and has EMP001.
	created, ownerEvent := ownerInvitation(t, f, ctx, "alice@x.com")
	ownerResult, err := f.service.HandleIdentityConfirmed(ctx, ownerEvent)
	require.NoError(t, err)
	require.True(t, ownerResult.Success)
	tenantID := created.Invitation.TenantID

	invite := func(email string) IdentityConfirmedEvent {
		collab, err := f.invitations.Create(ctx, invservice.CreateParams{
			Email:          email,
			FullName:       "Bob Sawyer",
			InvitationType: id.InvitationTypeCollaborator,
			RoleToAssign:   id.RoleEmployee,
			InvitedBy:      id.NewUserID(),
			InvitedByType:  "user",
			TenantID:       tenantID,
		})
		require.NoError(t, err)
		return eventFor(collab, id.NewUserID().String(), email)
	}

	first, err := f.service.HandleIdentityConfirmed(ctx, invite("bob@x.com"))
	require.NoError(t, err)
	require.True(t, first.Success, first.Message)
	second, err := f.service.HandleIdentityConfirmed(ctx, invite("carol@x.com"))
	require.NoError(t, err)
	require.True(t, second.Success, second.Message)

	assert.Equal(t, "EMP002", first.EmployeeID)
	assert.Equal(t, "EMP003", second.EmployeeID)
	assert.Equal(t, tenantID.String(), first.TenantID)

	tenants, err := f.directory.CountTenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, tenants)
}

func TestHandleIdentityConfirmed_ConcurrentDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)
	_, event := ownerInvitation(t, f, ctx, "alice@x.com")

	const deliveries = 4
	results := make([]Result, deliveries)
	errs := make([]error, deliveries)

	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.service.HandleIdentityConfirmed(ctx, event)
		}(i)
	}
	wg.Wait()

	for i := 0; i < deliveries; i++ {
		require.NoError(t, errs[i])
		assert.True(t, results[i].Success, "every delivery converges to success: %s", results[i].Message)
	}

	tenants, err := f.directory.CountTenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, tenants, "concurrent deliveries create exactly one tenant")

	userID, err := id.ParseUserID(event.IdentityID)
	require.NoError(t, err)
	tenantID, err := id.ParseTenantID(event.RawMetadata.TenantID)
	require.NoError(t, err)
	grants, err := f.rbacStore.ListActiveUserRoles(ctx, userID, tenantID, requestcontext.Now(ctx))
	require.NoError(t, err)
	assert.Len(t, grants, 1, "concurrent deliveries create exactly one grant")
}

func TestHandleIdentityConfirmed_UnknownRoleIsConfigError(t *testing.T) {
	// A stack with an unseeded catalog: role resolution must fail the run,
	// never fall back to a different role.
	dirStore := dirmem.NewStore()
	directory := dirservice.New(dirStore, dirStore, dirStore)
	invStore := invmem.NewStore()
	tokens := token.NewIssuer("test-signing-key", "orgdesk-test")
	invitations := invservice.New(invStore, directory, tokens)
	rbacStore := rbacmem.NewStore()
	manager := cache.New(cache.WithJanitorInterval(0))
	t.Cleanup(func() {
		_ = manager.Shutdown(context.Background())
	})
	roles := rbacservice.New(rbacStore, manager)
	svc := New(invitations, directory, roles, tokens)

	ctx := testCtx(t)
	created, err := invitations.Create(ctx, invservice.CreateParams{
		Email:          "alice@x.com",
		FullName:       "Alice Hargreaves",
		CompanyName:    "Wonderland Ltd",
		InvitationType: id.InvitationTypeTenantOwner,
		InvitedBy:      id.NewUserID(),
		InvitedByType:  "admin",
	})
	require.NoError(t, err)

	result, err := svc.HandleIdentityConfirmed(ctx, eventFor(created, id.NewUserID().String(), "alice@x.com"))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "not configured")
}

func TestOnboardTenantOwner(t *testing.T) {
	t.Run("provisions from a valid invite code", func(t *testing.T) {
		f := newFixture(t)
		ctx := testCtx(t)
		created, _ := ownerInvitation(t, f, ctx, "alice@x.com")
		userID := id.NewUserID()

		result, err := f.service.OnboardTenantOwner(ctx, userID, "alice@x.com", "wonderland", "Wonderland Ltd", created.InviteCode)
		require.NoError(t, err)
		require.True(t, result.Success, result.Message)
		assert.Equal(t, created.Invitation.TenantID.String(), result.TenantID)
		assert.Equal(t, "EMP001", result.EmployeeID)

		inv, err := f.invitations.FindByID(ctx, created.Invitation.ID)
		require.NoError(t, err)
		assert.Equal(t, invmodels.StatusAccepted, inv.Status)
	})

	t.Run("re-run is a no-op", func(t *testing.T) {
		f := newFixture(t)
		ctx := testCtx(t)
		created, _ := ownerInvitation(t, f, ctx, "alice@x.com")
		userID := id.NewUserID()

		first, err := f.service.OnboardTenantOwner(ctx, userID, "alice@x.com", "wonderland", "", created.InviteCode)
		require.NoError(t, err)
		require.True(t, first.Success)

		second, err := f.service.OnboardTenantOwner(ctx, userID, "alice@x.com", "wonderland", "", created.InviteCode)
		require.NoError(t, err)
		assert.True(t, second.Success)
		assert.Equal(t, "invitation already processed", second.Message)

		tenants, err := f.directory.CountTenants(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, tenants)
	})

	t.Run("garbage invite code is rejected", func(t *testing.T) {
		f := newFixture(t)

		result, err := f.service.OnboardTenantOwner(testCtx(t), id.NewUserID(), "alice@x.com", "wonderland", "", "not-a-jwt")
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Contains(t, result.Message, "invalid")
	})
}
