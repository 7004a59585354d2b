package service

import (
	"context"

	"github.com/pickup-scheduler/internal/domain"
)

// Cache is the optional read-side cache for session occupancy and waitlist
// ordering. Entries are invalidated on every registration write for the
// session; a nil cache disables caching entirely.
type Cache interface {
	GetCapacity(ctx context.Context, sessionID string) (*domain.CapacityStatus, bool)
	SetCapacity(ctx context.Context, sessionID string, status *domain.CapacityStatus)
	SetWaitlist(ctx context.Context, sessionID string, regs []domain.Registration)
	Invalidate(ctx context.Context, sessionID string)
}
