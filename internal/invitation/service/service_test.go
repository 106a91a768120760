package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orgdesk/internal/invitation/models"
	"orgdesk/internal/invitation/store/memory"
	"orgdesk/internal/invitation/token"
	id "orgdesk/pkg/domain"
	dErrors "orgdesk/pkg/domain-errors"
	"orgdesk/pkg/platform/sentinel"
	"orgdesk/pkg/requestcontext"
)

type stubDirectory struct {
	activeEmails map[string]bool
	err          error
}

func (d *stubDirectory) IsActiveMember(_ context.Context, email string, _ id.TenantID) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	return d.activeEmails[email], nil
}

func newTestService(t *testing.T, opts ...Option) (*Service, *memory.Store, *stubDirectory) {
	t.Helper()
	store := memory.NewStore()
	members := &stubDirectory{activeEmails: map[string]bool{}}
	issuer := token.NewIssuer("test-signing-key", "orgdesk-test")
	svc := New(store, members, issuer, opts...)
	return svc, store, members
}

func testCtx(now time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), now)
}

// testNow anchors the request clock near the wall clock so signed invite
// codes round-trip through JWT expiry validation.
var testNow = time.Now().UTC().Truncate(time.Second)

func ownerParams() CreateParams {
	return CreateParams{
		Email:          "alice@x.com",
		FullName:       "Alice Smith",
		CompanyName:    "Acme",
		InvitationType: id.InvitationTypeTenantOwner,
		InvitedBy:      id.NewUserID(),
		InvitedByType:  "user",
	}
}

func TestService_Create(t *testing.T) {
	t.Run("tenant owner pre-allocates a tenant id", func(t *testing.T) {
		svc, store, _ := newTestService(t)
		ctx := testCtx(testNow)

		result, err := svc.Create(ctx, ownerParams())
		require.NoError(t, err)

		assert.False(t, result.Invitation.TenantID.IsNil())
		assert.NotEmpty(t, result.InviteCode)
		assert.NotEmpty(t, result.TempPassword)
		assert.NotEqual(t, result.TempPassword, result.Invitation.Elements.TempPassword,
			"only the hash is stored")

		stored, err := store.FindByID(ctx, result.Invitation.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, stored.Status)
		assert.Equal(t, testNow.Add(72*time.Hour), stored.ExpiresAt)
	})

	t.Run("collaborator conflict on active member", func(t *testing.T) {
		svc, _, members := newTestService(t)
		members.activeEmails["bob@x.com"] = true

		_, err := svc.Create(testCtx(testNow), CreateParams{
			Email:          "bob@x.com",
			FullName:       "Bob",
			InvitationType: id.InvitationTypeCollaborator,
			RoleToAssign:   id.RoleEmployee,
			InvitedBy:      id.NewUserID(),
			TenantID:       id.NewTenantID(),
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})

	t.Run("collaborator without tenant rejected", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		_, err := svc.Create(testCtx(testNow), CreateParams{
			Email:          "bob@x.com",
			FullName:       "Bob",
			InvitationType: id.InvitationTypeCollaborator,
			RoleToAssign:   id.RoleEmployee,
			InvitedBy:      id.NewUserID(),
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestService_Validate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := testCtx(testNow)

	result, err := svc.Create(ctx, ownerParams())
	require.NoError(t, err)

	t.Run("pending before expiry is valid", func(t *testing.T) {
		validation, err := svc.Validate(ctx, result.Invitation.ID)
		require.NoError(t, err)
		assert.True(t, validation.Valid)
	})

	t.Run("expired invitation is invalid with reason", func(t *testing.T) {
		later := testCtx(testNow.Add(73 * time.Hour))
		validation, err := svc.Validate(later, result.Invitation.ID)
		require.NoError(t, err)
		assert.False(t, validation.Valid)
		assert.Equal(t, "invitation expired", validation.Reason)
	})

	t.Run("unknown invitation is invalid, not an error", func(t *testing.T) {
		validation, err := svc.Validate(ctx, id.NewInvitationID())
		require.NoError(t, err)
		assert.False(t, validation.Valid)
		assert.Equal(t, "invitation not found", validation.Reason)
	})
}

func TestService_ValidateCode(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := testCtx(testNow)

	result, err := svc.Create(ctx, ownerParams())
	require.NoError(t, err)

	t.Run("valid code resolves to its invitation", func(t *testing.T) {
		validation, err := svc.ValidateCode(ctx, result.InviteCode)
		require.NoError(t, err)
		assert.True(t, validation.Valid)
	})

	t.Run("garbage code is reported invalid", func(t *testing.T) {
		validation, err := svc.ValidateCode(ctx, "not-a-token")
		require.NoError(t, err)
		assert.False(t, validation.Valid)
		assert.Equal(t, "invalid invite code", validation.Reason)
	})

	t.Run("code signed with another key is rejected", func(t *testing.T) {
		other := token.NewIssuer("other-key", "orgdesk-test")
		code, err := other.Issue(result.Invitation)
		require.NoError(t, err)

		validation, err := svc.ValidateCode(ctx, code)
		require.NoError(t, err)
		assert.False(t, validation.Valid)
	})
}

func TestService_MarkAccepted(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := testCtx(testNow)

	result, err := svc.Create(ctx, ownerParams())
	require.NoError(t, err)

	require.NoError(t, svc.MarkAccepted(ctx, result.Invitation.ID))

	// A second accept observes the terminal state as already-handled.
	err = svc.MarkAccepted(ctx, result.Invitation.ID)
	assert.ErrorIs(t, err, sentinel.ErrAlreadyUsed)

	inv, err := svc.FindByID(ctx, result.Invitation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, inv.Status)
	require.NotNil(t, inv.AcceptedAt)
	assert.Equal(t, testNow, *inv.AcceptedAt)
}

func TestService_Cancel(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := testCtx(testNow)

	result, err := svc.Create(ctx, ownerParams())
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, result.Invitation.ID))

	err = svc.Cancel(ctx, result.Invitation.ID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict), "cancel after cancel conflicts")

	err = svc.Cancel(ctx, id.NewInvitationID())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestService_SweepExpired(t *testing.T) {
	svc, _, _ := newTestService(t, WithTTL(time.Hour))
	ctx := testCtx(testNow)

	// Three that will be expired at sweep time.
	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		params := ownerParams()
		params.Email = email
		_, err := svc.Create(ctx, params)
		require.NoError(t, err)
	}
	// Two created later, still inside their window.
	laterCtx := testCtx(testNow.Add(30 * time.Minute))
	var fresh []id.InvitationID
	for _, email := range []string{"d@x.com", "e@x.com"} {
		params := ownerParams()
		params.Email = email
		result, err := svc.Create(laterCtx, params)
		require.NoError(t, err)
		fresh = append(fresh, result.Invitation.ID)
	}

	sweepCtx := testCtx(testNow.Add(65 * time.Minute))
	count, err := svc.SweepExpired(sweepCtx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	for _, invitationID := range fresh {
		inv, err := svc.FindByID(sweepCtx, invitationID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, inv.Status)
	}

	count, err = svc.SweepExpired(sweepCtx)
	require.NoError(t, err)
	assert.Equal(t, 0, count, "sweep is idempotent")
}

func TestService_CreateDirectoryError(t *testing.T) {
	svc, _, members := newTestService(t)
	members.err = errors.New("directory down")

	_, err := svc.Create(testCtx(testNow), CreateParams{
		Email:          "bob@x.com",
		FullName:       "Bob",
		InvitationType: id.InvitationTypeCollaborator,
		RoleToAssign:   id.RoleEmployee,
		InvitedBy:      id.NewUserID(),
		TenantID:       id.NewTenantID(),
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
}
