// Package cache provides the process-local TTL cache sitting in front of the
// role/permission repository. Entries are grouped into categories with TTLs
// matched to how often that data changes, and hot entries survive eviction
// because the cap is enforced by dropping the least-accessed slice first.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"orgdesk/internal/cache/metrics"
)

// Category groups cache entries by data volatility. Each category carries its
// own TTL.
type Category string

const (
	CategoryUserRoles   Category = "user_roles"
	CategoryPermissions Category = "permissions"
	CategoryTenantData  Category = "tenant_data"
	CategoryHRData      Category = "hr_data"
	CategoryProjects    Category = "projects"
	CategoryTasks       Category = "tasks"
)

// defaultTTLs reflect how often each category's data changes. Role and
// permission catalogs are near-static while task data is volatile.
var defaultTTLs = map[Category]time.Duration{
	CategoryUserRoles:   5 * time.Minute,
	CategoryPermissions: 15 * time.Minute,
	CategoryTenantData:  10 * time.Minute,
	CategoryHRData:      3 * time.Minute,
	CategoryProjects:    5 * time.Minute,
	CategoryTasks:       2 * time.Minute,
}

const (
	// DefaultTTL applies to unknown categories.
	DefaultTTL = 5 * time.Minute

	// DefaultMaxEntries caps the cache before eviction kicks in.
	DefaultMaxEntries = 1000

	// evictFraction is the share of entries dropped when the cap is hit.
	evictFraction = 0.10

	defaultJanitorInterval = time.Minute
)

type entry struct {
	value       any
	category    Category
	expiresAt   time.Time
	accessCount uint64
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries       int     `json:"entries"`
	MaxEntries    int     `json:"max_entries"`
	Hits          uint64  `json:"hits"`
	Misses        uint64  `json:"misses"`
	Evictions     uint64  `json:"evictions"`
	Expirations   uint64  `json:"expirations"`
	Invalidations uint64  `json:"invalidations"`
	HitRate       float64 `json:"hit_rate"`
}

// Manager is an in-memory TTL cache with approximate LFU eviction and
// glob-pattern invalidation. It is constructed once per process and shared by
// reference; there is no global instance.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry

	maxEntries int
	ttls       map[Category]time.Duration
	clock      func() time.Time
	logger     *slog.Logger
	metrics    *metrics.Metrics

	hits          uint64
	misses        uint64
	evictions     uint64
	expirations   uint64
	invalidations uint64

	janitorInterval time.Duration
	stop            chan struct{}
	stopped         sync.Once
}

type Option func(m *Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mx
	}
}

// WithMaxEntries overrides the entry cap.
func WithMaxEntries(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxEntries = n
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithTTL overrides the TTL for one category.
func WithTTL(category Category, ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttls[category] = ttl
		}
	}
}

// WithJanitorInterval overrides how often the background sweep runs.
// Zero disables the janitor; Cleanup can still be called directly.
func WithJanitorInterval(interval time.Duration) Option {
	return func(m *Manager) {
		m.janitorInterval = interval
	}
}

// New constructs a Manager and starts its background expiry sweep.
// Call Shutdown when the process shuts down.
func New(opts ...Option) *Manager {
	m := &Manager{
		entries:         make(map[string]*entry),
		maxEntries:      DefaultMaxEntries,
		ttls:            make(map[Category]time.Duration, len(defaultTTLs)),
		clock:           time.Now,
		logger:          slog.Default(),
		janitorInterval: defaultJanitorInterval,
		stop:            make(chan struct{}),
	}
	for category, ttl := range defaultTTLs {
		m.ttls[category] = ttl
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.janitorInterval > 0 {
		go m.janitor()
	}
	return m
}

// Key builds the canonical cache key "category:subject[:part...]" so that
// per-subject invalidation patterns line up across categories.
func Key(category Category, subject string, parts ...string) string {
	key := string(category) + ":" + subject
	if len(parts) > 0 {
		key += ":" + strings.Join(parts, ":")
	}
	return key
}

// Get returns the cached value for key, or false on a miss. Expired entries
// are removed lazily on access.
func (m *Manager) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		m.recordMiss("")
		return nil, false
	}
	if !m.clock().Before(e.expiresAt) {
		delete(m.entries, key)
		m.expirations++
		if m.metrics != nil {
			m.metrics.Expirations.Inc()
		}
		m.recordMiss(e.category)
		return nil, false
	}

	e.accessCount++
	m.hits++
	if m.metrics != nil {
		m.metrics.IncrementHit(string(e.category))
	}
	return e.value, true
}

// Set stores value under key with the category's TTL, evicting the coldest
// tenth of entries first when the cap is reached.
func (m *Manager) Set(key string, value any, category Category) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxEntries {
		m.evictColdest()
	}

	m.entries[key] = &entry{
		value:     value,
		category:  category,
		expiresAt: m.clock().Add(m.ttl(category)),
	}
	m.syncGauge()
}

// Invalidate removes a single key. Removing an absent key is a no-op.
func (m *Manager) Invalidate(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[key]; ok {
		delete(m.entries, key)
		m.invalidations++
		if m.metrics != nil {
			m.metrics.Invalidations.Inc()
		}
		m.syncGauge()
	}
}

// InvalidatePattern removes every key matching the glob pattern and returns
// how many were dropped. A single role change can drop every key for that
// subject across categories without enumerating them.
func (m *Manager) InvalidatePattern(pattern string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key := range m.entries {
		matched, err := path.Match(pattern, key)
		if err != nil {
			m.logger.Warn("invalid cache invalidation pattern", "pattern", pattern, "error", err)
			return 0
		}
		if matched {
			delete(m.entries, key)
			removed++
		}
	}
	if removed > 0 {
		m.invalidations += uint64(removed)
		if m.metrics != nil {
			m.metrics.Invalidations.Add(float64(removed))
		}
		m.syncGauge()
	}
	return removed
}

// InvalidateSubject drops every cached entry for one subject across all
// categories. Used after provisioning and role changes.
func (m *Manager) InvalidateSubject(subjectID string) int {
	return m.InvalidatePattern(fmt.Sprintf("*:%s*", subjectID))
}

// Clear drops every entry.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*entry)
	m.syncGauge()
}

// Cleanup removes all expired entries and returns how many were dropped.
// The janitor calls this periodically; tests call it directly.
func (m *Manager) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	removed := 0
	for key, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, key)
			removed++
		}
	}
	if removed > 0 {
		m.expirations += uint64(removed)
		if m.metrics != nil {
			m.metrics.Expirations.Add(float64(removed))
		}
		m.syncGauge()
	}
	return removed
}

// GetStats returns a snapshot of cache counters.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		Entries:       len(m.entries),
		MaxEntries:    m.maxEntries,
		Hits:          m.hits,
		Misses:        m.misses,
		Evictions:     m.evictions,
		Expirations:   m.expirations,
		Invalidations: m.invalidations,
	}
	if total := m.hits + m.misses; total > 0 {
		stats.HitRate = float64(m.hits) / float64(total)
	}
	return stats
}

// Shutdown stops the background sweep. The cache remains usable afterwards
// with lazy expiry only.
func (m *Manager) Shutdown(context.Context) error {
	m.stopped.Do(func() { close(m.stop) })
	return nil
}

func (m *Manager) ttl(category Category) time.Duration {
	if ttl, ok := m.ttls[category]; ok {
		return ttl
	}
	return DefaultTTL
}

// evictColdest drops the lowest-access-count tenth of entries. Caller holds mu.
func (m *Manager) evictColdest() {
	type candidate struct {
		key    string
		access uint64
	}
	candidates := make([]candidate, 0, len(m.entries))
	for key, e := range m.entries {
		candidates = append(candidates, candidate{key: key, access: e.accessCount})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].access < candidates[j].access
	})

	n := int(float64(len(candidates)) * evictFraction)
	if n < 1 {
		n = 1
	}
	for _, c := range candidates[:n] {
		delete(m.entries, c.key)
	}

	m.evictions += uint64(n)
	if m.metrics != nil {
		m.metrics.Evictions.Add(float64(n))
	}
	m.logger.Debug("cache evicted cold entries", "count", n, "remaining", len(m.entries))
}

// categoryUnknown labels metric samples for misses on keys with no resident
// entry, where the category cannot be determined.
const categoryUnknown Category = "unknown"

func (m *Manager) recordMiss(category Category) {
	if category == "" {
		category = categoryUnknown
	}
	m.misses++
	if m.metrics != nil {
		m.metrics.IncrementMiss(string(category))
	}
}

func (m *Manager) syncGauge() {
	if m.metrics != nil {
		m.metrics.Entries.Set(float64(len(m.entries)))
	}
}

func (m *Manager) janitor() {
	ticker := time.NewTicker(m.janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if removed := m.Cleanup(); removed > 0 {
				m.logger.Debug("cache janitor removed expired entries", "count", removed)
			}
		}
	}
}
