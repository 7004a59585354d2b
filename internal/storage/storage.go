// Package storage defines the persistence interface for the registration
// engine. Implementations must serialize all writes for a session through
// Atomic so the occupancy-read-then-register sequence cannot interleave.
package storage

import (
	"context"
	"time"

	"github.com/pickup-scheduler/internal/domain"
)

// Store is the persistence interface used by the services
type Store interface {
	// Players
	CreatePlayer(ctx context.Context, p *domain.Player) error
	GetPlayer(ctx context.Context, id string) (*domain.Player, error)
	UpdatePlayer(ctx context.Context, p *domain.Player) error
	// CountAttendanceSince counts sessions the player attended whose start
	// time falls on or after since.
	CountAttendanceSince(ctx context.Context, playerID string, since time.Time) (int, error)

	// Sessions
	CreateSession(ctx context.Context, s *domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	GetSessionByShareToken(ctx context.Context, shareToken string) (*domain.Session, error)
	ShareTokenExists(ctx context.Context, shareToken string) (bool, error)
	ListSessions(ctx context.Context, from time.Time) ([]domain.Session, error)
	UpdateSession(ctx context.Context, s *domain.Session) error

	// Registrations
	CreateRegistration(ctx context.Context, r *domain.Registration) error
	GetRegistration(ctx context.Context, id string) (*domain.Registration, error)
	GetRegistrationByCancelToken(ctx context.Context, cancelToken string) (*domain.Registration, error)
	// GetActiveRegistration returns the confirmed or waitlisted registration
	// for the player on the session, or ErrRegistrationNotFound.
	GetActiveRegistration(ctx context.Context, sessionID, playerID string) (*domain.Registration, error)
	UpdateRegistration(ctx context.Context, r *domain.Registration) error
	ListRegistrations(ctx context.Context, sessionID string, statuses ...domain.RegistrationStatus) ([]domain.Registration, error)
	CountRegistrations(ctx context.Context, sessionID string, status domain.RegistrationStatus) (int, error)

	// Atomic runs fn inside a critical section owning all registration
	// state for the session. The Store passed to fn must be used for every
	// read and write inside the section.
	Atomic(ctx context.Context, sessionID string, fn func(Store) error) error
}
