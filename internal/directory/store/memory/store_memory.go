package memory

import (
	"context"
	"strings"
	"sync"

	"orgdesk/internal/directory/models"
	id "orgdesk/pkg/domain"
	"orgdesk/pkg/platform/sentinel"
)

type profileKey struct {
	userID   id.UserID
	tenantID id.TenantID
}

// Store is a mutex-guarded in-memory directory store. The employee sequence
// uniqueness check lives inside the same lock as the insert so it exhibits
// the same conflict behavior the Postgres unique constraint does.
type Store struct {
	mu        sync.RWMutex
	tenants   map[id.TenantID]*models.Tenant
	profiles  map[profileKey]*models.Profile
	employees map[profileKey]*models.Employee
}

func NewStore() *Store {
	return &Store{
		tenants:   make(map[id.TenantID]*models.Tenant),
		profiles:  make(map[profileKey]*models.Profile),
		employees: make(map[profileKey]*models.Employee),
	}
}

// ---------------------------------------------------------------------------
// Tenants
// ---------------------------------------------------------------------------

// CreateTenantIfAbsent inserts the tenant unless one with the same id exists.
// Returns true when a row was created.
func (s *Store) CreateTenantIfAbsent(_ context.Context, tenant *models.Tenant) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tenants[tenant.ID]; exists {
		return false, nil
	}
	clone := *tenant
	s.tenants[tenant.ID] = &clone
	return true, nil
}

func (s *Store) FindTenant(_ context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenant, ok := s.tenants[tenantID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *tenant
	return &clone, nil
}

func (s *Store) CountTenants(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tenants), nil
}

// ---------------------------------------------------------------------------
// Profiles
// ---------------------------------------------------------------------------

// UpsertProfile inserts or updates the profile keyed by (user_id, tenant_id).
func (s *Store) UpsertProfile(_ context.Context, profile *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := profileKey{userID: profile.UserID, tenantID: profile.TenantID}
	if existing, ok := s.profiles[key]; ok {
		existing.Email = profile.Email
		existing.FullName = profile.FullName
		existing.Role = profile.Role
		existing.Status = profile.Status
		existing.UpdatedAt = profile.UpdatedAt
		return nil
	}
	clone := *profile
	s.profiles[key] = &clone
	return nil
}

func (s *Store) FindProfile(_ context.Context, userID id.UserID, tenantID id.TenantID) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[profileKey{userID: userID, tenantID: tenantID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *profile
	return &clone, nil
}

// HasActiveProfileByEmail reports whether the email belongs to an active
// member of the tenant.
func (s *Store) HasActiveProfileByEmail(_ context.Context, email string, tenantID id.TenantID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = strings.ToLower(strings.TrimSpace(email))
	for key, profile := range s.profiles {
		if key.tenantID == tenantID && profile.Status == models.ProfileActive && profile.Email == email {
			return true, nil
		}
	}
	return false, nil
}

// ---------------------------------------------------------------------------
// Employees
// ---------------------------------------------------------------------------

func (s *Store) FindEmployee(_ context.Context, userID id.UserID, tenantID id.TenantID) (*models.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	employee, ok := s.employees[profileKey{userID: userID, tenantID: tenantID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *employee
	return &clone, nil
}

// MaxEmployeeSequence returns the highest sequence number assigned in the
// tenant, zero when the tenant has no employees yet.
func (s *Store) MaxEmployeeSequence(_ context.Context, tenantID id.TenantID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	max := 0
	for key, employee := range s.employees {
		if key.tenantID == tenantID && employee.Sequence > max {
			max = employee.Sequence
		}
	}
	return max, nil
}

// CreateEmployee inserts the employee. ErrConflict signals either a taken
// sequence number within the tenant (caller recomputes and retries) or an
// existing record for the same (user_id, tenant_id).
func (s *Store) CreateEmployee(_ context.Context, employee *models.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := profileKey{userID: employee.UserID, tenantID: employee.TenantID}
	if _, exists := s.employees[key]; exists {
		return sentinel.ErrConflict
	}
	for k, existing := range s.employees {
		if k.tenantID == employee.TenantID && existing.Sequence == employee.Sequence {
			return sentinel.ErrConflict
		}
	}
	clone := *employee
	s.employees[key] = &clone
	return nil
}
