//go:build integration

package onboarding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orgdesk/internal/cache"
	"orgdesk/pkg/testutil/containers"
)

func TestBroadcaster_PeerInvalidation(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	t.Cleanup(func() {
		_ = rc.Client.Close()
		_ = rc.Container.Terminate(context.Background())
	})

	newManager := func() *cache.Manager {
		m := cache.New(cache.WithJanitorInterval(0))
		t.Cleanup(func() {
			_ = m.Shutdown(context.Background())
		})
		return m
	}

	a := newManager()
	b := newManager()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ba := cache.NewBroadcaster(rc.Client, a)
	bb := cache.NewBroadcaster(rc.Client, b)
	go func() { _ = ba.Run(ctx) }()
	go func() { _ = bb.Run(ctx) }()

	// Give both subscriptions time to attach before publishing.
	time.Sleep(200 * time.Millisecond)

	subject := "5f8a4f2e-0000-4000-8000-000000000001"
	keyA := cache.Key(cache.CategoryUserRoles, subject)
	a.Set(keyA, "grants-a", cache.CategoryUserRoles)
	b.Set(keyA, "grants-b", cache.CategoryUserRoles)

	require.NoError(t, ba.InvalidateSubject(ctx, subject))

	// Instance a dropped the entry synchronously.
	_, ok := a.Get(keyA)
	assert.False(t, ok)

	// Instance b receives the invalidation over pub/sub.
	require.Eventually(t, func() bool {
		_, ok := b.Get(keyA)
		return !ok
	}, 5*time.Second, 50*time.Millisecond)
}
