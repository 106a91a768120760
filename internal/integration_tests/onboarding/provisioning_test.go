//go:build integration

package onboarding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orgdesk/internal/cache"
	dirservice "orgdesk/internal/directory/service"
	dirpg "orgdesk/internal/directory/store/postgres"
	invservice "orgdesk/internal/invitation/service"
	invpg "orgdesk/internal/invitation/store/postgres"
	"orgdesk/internal/invitation/token"
	provservice "orgdesk/internal/provisioning/service"
	rbacservice "orgdesk/internal/rbac/service"
	rbacpg "orgdesk/internal/rbac/store/postgres"
	id "orgdesk/pkg/domain"
	"orgdesk/pkg/requestcontext"
	"orgdesk/pkg/testutil/containers"
)

type pgStack struct {
	invitations *invservice.Service
	directory   *dirservice.Service
	roles       *rbacservice.Service
	service     *provservice.Service
}

func newPGStack(t *testing.T, pg *containers.PostgresContainer) *pgStack {
	t.Helper()

	dirStore := dirpg.New(pg.DB)
	directory := dirservice.New(dirStore, dirStore, dirStore)

	tokens := token.NewIssuer("integration-signing-key", "orgdesk-test")
	invitations := invservice.New(invpg.New(pg.DB), directory, tokens)

	manager := cache.New(cache.WithJanitorInterval(0))
	t.Cleanup(func() {
		_ = manager.Shutdown(context.Background())
	})
	roles := rbacservice.New(rbacpg.New(pg.DB), manager)
	require.NoError(t, roles.SeedDefaultCatalog(context.Background()))

	return &pgStack{
		invitations: invitations,
		directory:   directory,
		roles:       roles,
		service:     provservice.New(invitations, directory, roles, tokens),
	}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	return requestcontext.WithTime(context.Background(), time.Now().UTC().Truncate(time.Second))
}

func TestProvisioning_Postgres_EndToEnd(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	t.Cleanup(func() {
		_ = pg.DB.Close()
		_ = pg.Container.Terminate(context.Background())
	})

	stack := newPGStack(t, pg)
	ctx := testCtx(t)

	created, err := stack.invitations.Create(ctx, invservice.CreateParams{
		Email:          "founder@acme.test",
		FullName:       "Grace Hopper",
		CompanyName:    "Acme Systems",
		InvitationType: id.InvitationTypeTenantOwner,
		InvitedBy:      id.NewUserID(),
		InvitedByType:  "admin",
	})
	require.NoError(t, err)

	claimed := created.Invitation.Elements
	claimed.TempPassword = created.TempPassword
	event := provservice.IdentityConfirmedEvent{
		IdentityID:       id.NewUserID().String(),
		Email:            "founder@acme.test",
		EmailConfirmedAt: created.Invitation.CreatedAt,
		RawMetadata:      claimed,
	}

	result, err := stack.service.HandleIdentityConfirmed(ctx, event)
	require.NoError(t, err)
	require.True(t, result.Success, result.Message)
	assert.Equal(t, "EMP001", result.EmployeeID)

	// Redelivery converges against the database-backed stores too.
	again, err := stack.service.HandleIdentityConfirmed(ctx, event)
	require.NoError(t, err)
	assert.True(t, again.Success)
	assert.Equal(t, result.TenantID, again.TenantID)

	var tenants int
	require.NoError(t, pg.DB.QueryRow("SELECT COUNT(*) FROM tenants").Scan(&tenants))
	assert.Equal(t, 1, tenants)

	var grants int
	require.NoError(t, pg.DB.QueryRow("SELECT COUNT(*) FROM user_roles WHERE is_active").Scan(&grants))
	assert.Equal(t, 1, grants)

	var status string
	require.NoError(t, pg.DB.QueryRow("SELECT status FROM invitations WHERE id = $1",
		created.Invitation.ID.String()).Scan(&status))
	assert.Equal(t, "accepted", status)
}

func TestProvisioning_Postgres_SequenceUnderConcurrency(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	t.Cleanup(func() {
		_ = pg.DB.Close()
		_ = pg.Container.Terminate(context.Background())
	})

	stack := newPGStack(t, pg)
	ctx := testCtx(t)
	tenantID := id.NewTenantID()

	_, _, err := stack.directory.EnsureTenant(ctx, tenantID, "Acme Systems")
	require.NoError(t, err)

	const workers = 8
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func(n int) {
			_, err := stack.directory.EnsureEmployee(ctx, dirservice.EmployeeParams{
				UserID:   id.NewUserID(),
				TenantID: tenantID,
				Email:    "w" + string(rune('a'+n)) + "@acme.test",
				FullName: "Worker",
			})
			errs <- err
		}(i)
	}
	for i := 0; i < workers; i++ {
		require.NoError(t, <-errs)
	}

	var distinct int
	require.NoError(t, pg.DB.QueryRow(
		"SELECT COUNT(DISTINCT employee_id) FROM employees WHERE tenant_id = $1",
		tenantID.String()).Scan(&distinct))
	assert.Equal(t, workers, distinct)

	var maxSeq int
	require.NoError(t, pg.DB.QueryRow(
		"SELECT MAX(sequence) FROM employees WHERE tenant_id = $1",
		tenantID.String()).Scan(&maxSeq))
	assert.Equal(t, workers, maxSeq)
}
