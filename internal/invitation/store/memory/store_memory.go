package memory

import (
	"context"
	"sync"
	"time"

	"orgdesk/internal/invitation/models"
	id "orgdesk/pkg/domain"
	"orgdesk/pkg/platform/sentinel"
)

// Store is a mutex-guarded in-memory invitation store used by development
// and tests. Transition semantics mirror the Postgres store exactly: the
// pending check and the write happen under one lock.
type Store struct {
	mu          sync.RWMutex
	invitations map[id.InvitationID]*models.Invitation
}

func NewStore() *Store {
	return &Store{invitations: make(map[id.InvitationID]*models.Invitation)}
}

func (s *Store) Create(_ context.Context, inv *models.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invitations[inv.ID]; exists {
		return sentinel.ErrConflict
	}
	clone := *inv
	s.invitations[inv.ID] = &clone
	return nil
}

func (s *Store) FindByID(_ context.Context, invitationID id.InvitationID) (*models.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invitations[invitationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *inv
	return &clone, nil
}

// FindPendingByEmail returns the newest pending invitation for an email
// within a tenant, or ErrNotFound.
func (s *Store) FindPendingByEmail(_ context.Context, email string, tenantID id.TenantID) (*models.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest *models.Invitation
	for _, inv := range s.invitations {
		if inv.Email == email && inv.TenantID == tenantID && inv.Status == models.StatusPending {
			if newest == nil || inv.CreatedAt.After(newest.CreatedAt) {
				newest = inv
			}
		}
	}
	if newest == nil {
		return nil, sentinel.ErrNotFound
	}
	clone := *newest
	return &clone, nil
}

// MarkAccepted performs the pending -> accepted transition. A concurrent
// caller losing the race observes ErrAlreadyUsed, not a failure.
func (s *Store) MarkAccepted(_ context.Context, invitationID id.InvitationID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invitations[invitationID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if inv.Status != models.StatusPending {
		return sentinel.ErrAlreadyUsed
	}
	inv.Status = models.StatusAccepted
	acceptedAt := at
	inv.AcceptedAt = &acceptedAt
	return nil
}

// Cancel performs the pending -> cancelled transition.
func (s *Store) Cancel(_ context.Context, invitationID id.InvitationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invitations[invitationID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if inv.Status != models.StatusPending {
		return sentinel.ErrInvalidState
	}
	inv.Status = models.StatusCancelled
	return nil
}

// SweepExpired transitions every pending invitation past its expiry to
// expired and returns how many changed. Safe to run repeatedly.
func (s *Store) SweepExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, inv := range s.invitations {
		if inv.Status == models.StatusPending && !now.Before(inv.ExpiresAt) {
			inv.Status = models.StatusExpired
			count++
		}
	}
	return count, nil
}

// CountByStatus returns invitation counts per status for diagnostics.
func (s *Store) CountByStatus(_ context.Context) (map[models.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.Status]int)
	for _, inv := range s.invitations {
		counts[inv.Status]++
	}
	return counts, nil
}

// CountStalePending counts pending invitations already past their expiry,
// waiting on the next sweep.
func (s *Store) CountStalePending(_ context.Context, now time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, inv := range s.invitations {
		if inv.Status == models.StatusPending && !now.Before(inv.ExpiresAt) {
			count++
		}
	}
	return count, nil
}
