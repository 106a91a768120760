// Package service aggregates health signals from every onboarding subsystem
// into one report. Probes run concurrently so a slow datastore does not hide
// the state of the rest of the system.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"orgdesk/internal/cache"
	invmodels "orgdesk/internal/invitation/models"
	rbacmodels "orgdesk/internal/rbac/models"
	id "orgdesk/pkg/domain"
	stringsutil "orgdesk/pkg/platform/strings"
)

// InvitationCounter exposes the invitation counts the report needs.
// Implemented by the invitation service.
type InvitationCounter interface {
	CountByStatus(ctx context.Context) (map[invmodels.Status]int, error)
	CountStalePending(ctx context.Context) (int, error)
}

// TenantCounter is implemented by the directory service.
type TenantCounter interface {
	CountTenants(ctx context.Context) (int, error)
}

// RoleCatalog is implemented by the role service.
type RoleCatalog interface {
	ListRoles(ctx context.Context) ([]*rbacmodels.Role, error)
}

// Pinger matches redis.Client.Health and similar connectivity probes.
type Pinger interface {
	Health(ctx context.Context) error
}

const probeTimeout = 5 * time.Second

// Report is the full diagnostics payload.
type Report struct {
	SystemHealth    SystemHealth `json:"system_health"`
	Recommendations []string     `json:"recommendations"`
	GeneratedAt     time.Time    `json:"generated_at"`
}

// SystemHealth carries the raw probe results. Connectivity fields are nil
// when the corresponding backend is not configured.
type SystemHealth struct {
	DatastoreOK *bool `json:"datastore_ok,omitempty"`
	RedisOK     *bool `json:"redis_ok,omitempty"`

	InvitationsByStatus map[string]int `json:"invitations_by_status"`
	StalePending        int            `json:"stale_pending"`
	Tenants             int            `json:"tenants"`
	RolesConfigured     int            `json:"roles_configured"`
	RolesExpected       int            `json:"roles_expected"`
	MissingRoles        []string       `json:"missing_roles,omitempty"`
	Cache               cache.Stats    `json:"cache"`
}

// Service runs the probes. db and redis are optional; the memory-backed
// deployment has neither.
type Service struct {
	invitations InvitationCounter
	directory   TenantCounter
	roles       RoleCatalog
	cache       *cache.Manager
	db          *sql.DB
	redis       Pinger

	logger *slog.Logger
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithDB enables the datastore connectivity probe.
func WithDB(db *sql.DB) Option {
	return func(s *Service) {
		s.db = db
	}
}

// WithRedis enables the redis connectivity probe.
func WithRedis(p Pinger) Option {
	return func(s *Service) {
		s.redis = p
	}
}

func New(invitations InvitationCounter, directory TenantCounter, roles RoleCatalog, cacheManager *cache.Manager, opts ...Option) *Service {
	s := &Service{
		invitations: invitations,
		directory:   directory,
		roles:       roles,
		cache:       cacheManager,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DiagnoseOnboardingSystem probes every subsystem concurrently and folds the
// results into a report with actionable recommendations. Probe failures are
// reported inside the payload rather than failing the whole call, so the
// endpoint stays useful exactly when parts of the system are down.
func (s *Service) DiagnoseOnboardingSystem(ctx context.Context) *Report {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var (
		health   SystemHealth
		mu       sync.Mutex
		failures []string
	)
	fail := func(msg string) {
		mu.Lock()
		failures = append(failures, msg)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		byStatus, err := s.invitations.CountByStatus(gctx)
		if err != nil {
			s.probeFailed(gctx, "invitation_counts", err)
			fail("invitation counts are unavailable")
			return nil
		}
		health.InvitationsByStatus = make(map[string]int, len(byStatus))
		for status, n := range byStatus {
			health.InvitationsByStatus[string(status)] = n
		}
		stale, err := s.invitations.CountStalePending(gctx)
		if err != nil {
			s.probeFailed(gctx, "stale_pending", err)
			fail("stale invitation count is unavailable")
			return nil
		}
		health.StalePending = stale
		return nil
	})

	g.Go(func() error {
		n, err := s.directory.CountTenants(gctx)
		if err != nil {
			s.probeFailed(gctx, "tenant_count", err)
			fail("tenant count is unavailable")
			return nil
		}
		health.Tenants = n
		return nil
	})

	g.Go(func() error {
		roles, err := s.roles.ListRoles(gctx)
		if err != nil {
			s.probeFailed(gctx, "role_catalog", err)
			fail("role catalog is unavailable")
			return nil
		}
		configured := make(map[id.RoleName]bool, len(roles))
		for _, role := range roles {
			configured[role.Name] = true
		}
		expected := id.KnownRoleNames()
		health.RolesConfigured = len(roles)
		health.RolesExpected = len(expected)
		for _, name := range expected {
			if !configured[name] {
				health.MissingRoles = append(health.MissingRoles, string(name))
			}
		}
		return nil
	})

	if s.db != nil {
		g.Go(func() error {
			ok := s.db.PingContext(gctx) == nil
			health.DatastoreOK = &ok
			return nil
		})
	}
	if s.redis != nil {
		g.Go(func() error {
			ok := s.redis.Health(gctx) == nil
			health.RedisOK = &ok
			return nil
		})
	}

	// Probes report their own failures; the group never returns an error.
	// The goroutines write to disjoint fields, and Wait orders those writes
	// before the reads below.
	_ = g.Wait()

	health.Cache = s.cache.GetStats()

	return &Report{
		SystemHealth:    health,
		Recommendations: s.recommend(health, failures),
		GeneratedAt:     time.Now().UTC(),
	}
}

func (s *Service) recommend(health SystemHealth, failures []string) []string {
	recs := make([]string, 0, 4)

	for _, f := range failures {
		recs = append(recs, fmt.Sprintf("investigate: %s", f))
	}
	if health.DatastoreOK != nil && !*health.DatastoreOK {
		recs = append(recs, "datastore is unreachable; check the database connection")
	}
	if health.RedisOK != nil && !*health.RedisOK {
		recs = append(recs, "redis is unreachable; cache invalidation will not propagate across instances")
	}
	if health.StalePending > 0 {
		recs = append(recs, fmt.Sprintf("%d pending invitations are past expiry; run the expiry sweep", health.StalePending))
	}
	if len(health.MissingRoles) > 0 {
		recs = append(recs, fmt.Sprintf("role catalog is missing %d roles; seed the default catalog", len(health.MissingRoles)))
	}
	if health.Cache.HitRate < 0.5 && health.Cache.Hits+health.Cache.Misses > 100 {
		recs = append(recs, "cache hit rate is below 50%; consider raising TTLs or the entry cap")
	}

	recs = stringsutil.DedupeAndTrim(recs)
	if len(recs) == 0 {
		recs = append(recs, "all systems nominal")
	}
	return recs
}

func (s *Service) probeFailed(ctx context.Context, probe string, err error) {
	s.logger.WarnContext(ctx, "diagnostics probe failed", "probe", probe, "error", err)
}
