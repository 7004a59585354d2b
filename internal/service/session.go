package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pickup-scheduler/internal/config"
	"github.com/pickup-scheduler/internal/constraint"
	"github.com/pickup-scheduler/internal/domain"
	"github.com/pickup-scheduler/internal/storage"
	"github.com/pickup-scheduler/internal/token"
)

// SessionService manages session creation, lookup and share-token
// resolution
type SessionService struct {
	store  storage.Store
	cfg    *config.RegistrationConfig
	logger *slog.Logger
}

// NewSessionService creates a new session service
func NewSessionService(store storage.Store, cfg *config.RegistrationConfig, logger *slog.Logger) *SessionService {
	return &SessionService{store: store, cfg: cfg, logger: logger}
}

// CreateSession validates and stores a new session. The constraint rule is
// strict-validated here so malformed tokens are rejected at write time
// instead of being silently dropped at read time.
func (s *SessionService) CreateSession(ctx context.Context, req domain.CreateSessionRequest) (*domain.Session, error) {
	if req.Title == "" {
		return nil, domain.NewValidationError("title", "title is required")
	}
	if req.StartsAt.Before(time.Now()) {
		return nil, domain.NewValidationError("starts_at", "session cannot start in the past")
	}
	if !req.EndsAt.After(req.StartsAt) {
		return nil, domain.NewValidationError("ends_at", "session must end after it starts")
	}
	if req.FieldsAvailable < 1 {
		return nil, domain.NewValidationError("fields_available", "at least one field is required")
	}
	if err := constraint.ValidateRule(req.ConstraintRule); err != nil {
		return nil, domain.NewValidationError("constraint_rule", err.Error())
	}

	deadline := req.CancelDeadlineHrs
	if deadline <= 0 {
		deadline = s.cfg.DefaultCancelDeadlineHours
	}

	shareToken, err := s.uniqueShareToken(ctx)
	if err != nil {
		return nil, err
	}

	sess := &domain.Session{
		ID:                uuid.New().String(),
		Title:             req.Title,
		StartsAt:          req.StartsAt,
		EndsAt:            req.EndsAt,
		FieldsAvailable:   req.FieldsAvailable,
		ConstraintRule:    req.ConstraintRule,
		CancelDeadlineHrs: deadline,
		Status:            domain.SessionScheduled,
		ShareToken:        shareToken,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// uniqueShareToken generates a share token, retrying until no stored
// session holds it
func (s *SessionService) uniqueShareToken(ctx context.Context) (string, error) {
	for attempt := 0; attempt < s.cfg.MaxShareTokenRetries; attempt++ {
		tok, err := token.NewShareToken()
		if err != nil {
			return "", err
		}
		exists, err := s.store.ShareTokenExists(ctx, tok)
		if err != nil {
			return "", err
		}
		if !exists {
			return tok, nil
		}
		s.logger.Warn("share token collision, regenerating", "attempt", attempt+1)
	}
	return "", fmt.Errorf("could not generate a unique share token after %d attempts", s.cfg.MaxShareTokenRetries)
}

// GetSession returns a session by ID
func (s *SessionService) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	return s.store.GetSession(ctx, id)
}

// ListUpcoming returns sessions starting today or later
func (s *SessionService) ListUpcoming(ctx context.Context) ([]domain.Session, error) {
	return s.store.ListSessions(ctx, startOfDay(time.Now()))
}

// ResolveShareToken resolves a public share token to its session. Tokens
// for cancelled, completed or past-dated sessions resolve to
// ErrSessionNotFound, indistinguishable from tokens that never existed.
func (s *SessionService) ResolveShareToken(ctx context.Context, shareToken string) (*domain.Session, error) {
	sess, err := s.store.GetSessionByShareToken(ctx, shareToken)
	if err != nil {
		return nil, err
	}
	if sess.Status == domain.SessionCancelled || sess.Status == domain.SessionCompleted {
		return nil, domain.ErrSessionNotFound
	}
	if sess.StartsAt.Before(startOfDay(time.Now())) {
		return nil, domain.ErrSessionNotFound
	}
	return sess, nil
}

func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
