package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pickup-scheduler/internal/domain"
	"github.com/pickup-scheduler/internal/storage"
)

// PlayerService manages player identity records. History counters on the
// records are owned by the registration flows, not by this service.
type PlayerService struct {
	store  storage.Store
	logger *slog.Logger
}

// NewPlayerService creates a new player service
func NewPlayerService(store storage.Store, logger *slog.Logger) *PlayerService {
	return &PlayerService{store: store, logger: logger}
}

// CreatePlayer validates and stores a new player
func (s *PlayerService) CreatePlayer(ctx context.Context, name, email, phone string) (*domain.Player, error) {
	if name == "" {
		return nil, domain.NewValidationError("name", "name is required")
	}

	player := &domain.Player{
		ID:    uuid.New().String(),
		Name:  name,
		Email: email,
		Phone: phone,
	}
	if err := s.store.CreatePlayer(ctx, player); err != nil {
		return nil, err
	}
	return player, nil
}

// GetPlayer returns a player by ID
func (s *PlayerService) GetPlayer(ctx context.Context, id string) (*domain.Player, error) {
	return s.store.GetPlayer(ctx, id)
}
