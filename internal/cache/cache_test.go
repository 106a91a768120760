package cache

import (
	"fmt"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orgdesk/internal/cache/metrics"
)

// testClock is a manually advanced time source.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestManager(t *testing.T, opts ...Option) (*Manager, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now), WithJanitorInterval(0)}, opts...)
	m := New(opts...)
	t.Cleanup(func() { _ = m.Shutdown(t.Context()) })
	return m, clock
}

func TestManager_GetSet(t *testing.T) {
	m, clock := newTestManager(t)

	key := Key(CategoryUserRoles, "user-1")
	m.Set(key, []string{"employee"}, CategoryUserRoles)

	got, ok := m.Get(key)
	require.True(t, ok)
	assert.Equal(t, []string{"employee"}, got)

	// user_roles TTL is five minutes
	clock.Advance(5*time.Minute + time.Second)
	_, ok = m.Get(key)
	assert.False(t, ok, "entry past its TTL must miss")
}

func TestManager_CategoryTTLs(t *testing.T) {
	m, clock := newTestManager(t)

	m.Set(Key(CategoryTasks, "t-1"), "task", CategoryTasks)
	m.Set(Key(CategoryPermissions, "role-1"), "perm", CategoryPermissions)

	clock.Advance(3 * time.Minute)

	_, ok := m.Get(Key(CategoryTasks, "t-1"))
	assert.False(t, ok, "tasks expire after two minutes")
	_, ok = m.Get(Key(CategoryPermissions, "role-1"))
	assert.True(t, ok, "permissions live fifteen minutes")
}

func TestManager_EvictsColdestTenth(t *testing.T) {
	m, _ := newTestManager(t, WithMaxEntries(10))

	for i := 0; i < 10; i++ {
		m.Set(fmt.Sprintf("user_roles:u%d", i), i, CategoryUserRoles)
	}
	// Heat up everything except u0 so u0 is the eviction candidate.
	for i := 1; i < 10; i++ {
		for j := 0; j <= i; j++ {
			_, _ = m.Get(fmt.Sprintf("user_roles:u%d", i))
		}
	}

	m.Set("user_roles:u10", 10, CategoryUserRoles)

	_, ok := m.Get("user_roles:u0")
	assert.False(t, ok, "coldest entry is evicted")
	_, ok = m.Get("user_roles:u9")
	assert.True(t, ok, "hot entries survive the cap")
	_, ok = m.Get("user_roles:u10")
	assert.True(t, ok)
}

func TestManager_InvalidatePattern(t *testing.T) {
	m, _ := newTestManager(t)

	m.Set(Key(CategoryUserRoles, "alice"), 1, CategoryUserRoles)
	m.Set(Key(CategoryPermissions, "alice"), 2, CategoryPermissions)
	m.Set(Key(CategoryUserRoles, "bob"), 3, CategoryUserRoles)

	removed := m.InvalidatePattern("*:alice")
	assert.Equal(t, 2, removed)

	_, ok := m.Get(Key(CategoryUserRoles, "alice"))
	assert.False(t, ok)
	_, ok = m.Get(Key(CategoryUserRoles, "bob"))
	assert.True(t, ok, "other subjects untouched")
}

func TestManager_InvalidateSubject(t *testing.T) {
	m, _ := newTestManager(t)

	m.Set(Key(CategoryUserRoles, "alice"), 1, CategoryUserRoles)
	m.Set(Key(CategoryPermissions, "alice", "tenant-1"), 2, CategoryPermissions)
	m.Set(Key(CategoryUserRoles, "bob"), 3, CategoryUserRoles)

	removed := m.InvalidateSubject("alice")
	assert.Equal(t, 2, removed)

	stats := m.GetStats()
	assert.Equal(t, 1, stats.Entries)
}

func TestManager_Cleanup(t *testing.T) {
	m, clock := newTestManager(t)

	m.Set(Key(CategoryTasks, "t-1"), 1, CategoryTasks)
	m.Set(Key(CategoryTenantData, "tenant-1"), 2, CategoryTenantData)

	clock.Advance(3 * time.Minute)

	removed := m.Cleanup()
	assert.Equal(t, 1, removed, "only the task entry expired")
	assert.Equal(t, 1, m.GetStats().Entries)

	assert.Equal(t, 0, m.Cleanup(), "repeated cleanup is a no-op")
}

func TestManager_GetStats(t *testing.T) {
	m, _ := newTestManager(t)

	key := Key(CategoryUserRoles, "alice")
	m.Set(key, 1, CategoryUserRoles)

	_, _ = m.Get(key)
	_, _ = m.Get(key)
	_, _ = m.Get("missing")

	stats := m.GetStats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.001)
}

func TestManager_Clear(t *testing.T) {
	m, _ := newTestManager(t)

	m.Set(Key(CategoryUserRoles, "alice"), 1, CategoryUserRoles)
	m.Set(Key(CategoryUserRoles, "bob"), 2, CategoryUserRoles)
	m.Clear()

	assert.Equal(t, 0, m.GetStats().Entries)
}

func TestManager_MissMetricsForUnknownKeys(t *testing.T) {
	mx := metrics.New()
	m, clock := newTestManager(t, WithMetrics(mx))

	// A key that was never set has no resident entry, so its category cannot
	// be determined; the sample lands under the sentinel label.
	_, ok := m.Get("never-set")
	require.False(t, ok)
	assert.Equal(t, 1.0, promtestutil.ToFloat64(mx.Misses.WithLabelValues(string(categoryUnknown))))

	// An expired entry still misses under its own category.
	m.Set(Key(CategoryTasks, "t-1"), "task", CategoryTasks)
	clock.Advance(3 * time.Minute)
	_, ok = m.Get(Key(CategoryTasks, "t-1"))
	require.False(t, ok)
	assert.Equal(t, 1.0, promtestutil.ToFloat64(mx.Misses.WithLabelValues(string(CategoryTasks))))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(mx.Misses.WithLabelValues(string(categoryUnknown))), "unknown label unchanged")
}
