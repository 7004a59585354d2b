// Package memory provides an in-memory Store implementation used in tests
// and single-process deployments. The per-session mutex gives the same
// admission atomicity the postgres store gets from row locking.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pickup-scheduler/internal/domain"
	"github.com/pickup-scheduler/internal/storage"
)

// Store is an in-memory implementation of storage.Store
type Store struct {
	mu            sync.RWMutex
	players       map[string]domain.Player
	sessions      map[string]domain.Session
	registrations map[string]domain.Registration

	lockMu       sync.Mutex
	sessionLocks map[string]*sync.Mutex
}

// New creates an empty in-memory store
func New() *Store {
	return &Store{
		players:       make(map[string]domain.Player),
		sessions:      make(map[string]domain.Session),
		registrations: make(map[string]domain.Registration),
		sessionLocks:  make(map[string]*sync.Mutex),
	}
}

// Atomic serializes all registration state changes for one session
func (s *Store) Atomic(ctx context.Context, sessionID string, fn func(storage.Store) error) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return fn(s)
}

func (s *Store) sessionLock(sessionID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.sessionLocks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.sessionLocks[sessionID] = lock
	}
	return lock
}

// CreatePlayer stores a new player
func (s *Store) CreatePlayer(ctx context.Context, p *domain.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.players[p.ID] = *p
	return nil
}

// GetPlayer retrieves a player by ID
func (s *Store) GetPlayer(ctx context.Context, id string) (*domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[id]
	if !ok {
		return nil, domain.ErrPlayerNotFound
	}
	return &p, nil
}

// UpdatePlayer replaces a stored player record
func (s *Store) UpdatePlayer(ctx context.Context, p *domain.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[p.ID]; !ok {
		return domain.ErrPlayerNotFound
	}
	p.UpdatedAt = time.Now()
	s.players[p.ID] = *p
	return nil
}

// CountAttendanceSince counts attended registrations for sessions starting
// on or after since
func (s *Store) CountAttendanceSince(ctx context.Context, playerID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, r := range s.registrations {
		if r.PlayerID != playerID || r.Status != domain.RegistrationAttended {
			continue
		}
		sess, ok := s.sessions[r.SessionID]
		if ok && !sess.StartsAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// CreateSession stores a new session
func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	s.sessions[sess.ID] = *sess
	return nil
}

// GetSession retrieves a session by ID
func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return &sess, nil
}

// GetSessionByShareToken retrieves a session by its share token
func (s *Store) GetSessionByShareToken(ctx context.Context, shareToken string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.ShareToken == shareToken {
			out := sess
			return &out, nil
		}
	}
	return nil, domain.ErrSessionNotFound
}

// ShareTokenExists checks whether a share token is already taken
func (s *Store) ShareTokenExists(ctx context.Context, shareToken string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.ShareToken == shareToken {
			return true, nil
		}
	}
	return false, nil
}

// ListSessions returns sessions starting on or after from, ordered by start
func (s *Store) ListSessions(ctx context.Context, from time.Time) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Session
	for _, sess := range s.sessions {
		if !sess.StartsAt.Before(from) {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

// UpdateSession replaces a stored session record
func (s *Store) UpdateSession(ctx context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return domain.ErrSessionNotFound
	}
	sess.UpdatedAt = time.Now()
	s.sessions[sess.ID] = *sess
	return nil
}

// CreateRegistration stores a new registration
func (s *Store) CreateRegistration(ctx context.Context, r *domain.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrations[r.ID] = *r
	return nil
}

// GetRegistration retrieves a registration by ID
func (s *Store) GetRegistration(ctx context.Context, id string) (*domain.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.registrations[id]
	if !ok {
		return nil, domain.ErrRegistrationNotFound
	}
	return &r, nil
}

// GetRegistrationByCancelToken retrieves a registration by cancel token
func (s *Store) GetRegistrationByCancelToken(ctx context.Context, cancelToken string) (*domain.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.registrations {
		if r.CancelToken == cancelToken {
			out := r
			return &out, nil
		}
	}
	return nil, domain.ErrRegistrationNotFound
}

// GetActiveRegistration returns the confirmed or waitlisted registration for
// the player on the session
func (s *Store) GetActiveRegistration(ctx context.Context, sessionID, playerID string) (*domain.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.registrations {
		if r.SessionID == sessionID && r.PlayerID == playerID && r.Status.IsActive() {
			out := r
			return &out, nil
		}
	}
	return nil, domain.ErrRegistrationNotFound
}

// UpdateRegistration replaces a stored registration record
func (s *Store) UpdateRegistration(ctx context.Context, r *domain.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registrations[r.ID]; !ok {
		return domain.ErrRegistrationNotFound
	}
	r.UpdatedAt = time.Now()
	s.registrations[r.ID] = *r
	return nil
}

// ListRegistrations returns the session's registrations, optionally filtered
// by status, ordered by registration time
func (s *Store) ListRegistrations(ctx context.Context, sessionID string, statuses ...domain.RegistrationStatus) ([]domain.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Registration
	for _, r := range s.registrations {
		if r.SessionID != sessionID {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, r.Status) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.Before(out[j].RegisteredAt) })
	return out, nil
}

// CountRegistrations counts the session's registrations with the status
func (s *Store) CountRegistrations(ctx context.Context, sessionID string, status domain.RegistrationStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, r := range s.registrations {
		if r.SessionID == sessionID && r.Status == status {
			count++
		}
	}
	return count, nil
}

func containsStatus(statuses []domain.RegistrationStatus, status domain.RegistrationStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
