package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pickup-scheduler/internal/constraint"
	"github.com/pickup-scheduler/internal/domain"
	"github.com/pickup-scheduler/internal/priority"
	"github.com/pickup-scheduler/internal/storage"
	"github.com/pickup-scheduler/internal/token"
)

// RegistrationService owns the registration state machine: signup with
// confirm-or-waitlist, cancellation with waitlist promotion, attendance
// bookkeeping and waitlist reordering. Every successful transition returns
// the change events it produced; the caller relays them.
type RegistrationService struct {
	store  storage.Store
	cache  Cache
	logger *slog.Logger
}

// NewRegistrationService creates a new registration service
func NewRegistrationService(store storage.Store, cache Cache, logger *slog.Logger) *RegistrationService {
	return &RegistrationService{store: store, cache: cache, logger: logger}
}

// Signup registers a player for a session. If the session's constraint
// admits one more player the registration is confirmed, otherwise it is
// waitlisted with a priority score. The status check, occupancy read and
// registration write happen inside one per-session critical section, so
// two concurrent signups for the last slot cannot both confirm and a
// signup cannot land on a session whose status just rolled.
func (s *RegistrationService) Signup(ctx context.Context, req domain.SignupRequest) (*domain.SignupResult, []domain.Event, error) {
	var result domain.SignupResult
	err := s.store.Atomic(ctx, req.SessionID, func(tx storage.Store) error {
		sess, err := tx.GetSession(ctx, req.SessionID)
		if err != nil {
			return err
		}
		if sess.Status != domain.SessionScheduled {
			return domain.ErrSessionNotOpen
		}

		player, err := tx.GetPlayer(ctx, req.PlayerID)
		if err != nil {
			return err
		}

		if _, err := tx.GetActiveRegistration(ctx, sess.ID, player.ID); err == nil {
			return domain.ErrAlreadyRegistered
		} else if !errors.Is(err, domain.ErrRegistrationNotFound) {
			return err
		}

		occ, err := s.occupancy(ctx, tx, sess)
		if err != nil {
			return err
		}
		eval := s.evaluator(sess)

		now := time.Now()
		cancelToken, err := token.NewCancelToken()
		if err != nil {
			return fmt.Errorf("generating cancel token: %w", err)
		}

		reg := domain.Registration{
			ID:           uuid.New().String(),
			SessionID:    sess.ID,
			PlayerID:     player.ID,
			CancelToken:  cancelToken,
			RegisteredAt: now,
			UpdatedAt:    now,
		}

		if eval.CanAddPlayer(occ) {
			reg.Status = domain.RegistrationConfirmed
		} else {
			stats, err := s.playerStats(ctx, tx, player, now)
			if err != nil {
				return err
			}
			reg.Status = domain.RegistrationWaitlisted
			reg.PriorityScore = priority.Score(stats, now)
			reg.Position = occ.Waitlisted + 1
			player.TotalWaitlisted++
		}

		if err := tx.CreateRegistration(ctx, &reg); err != nil {
			return err
		}

		player.TotalRegistered++
		if err := tx.UpdatePlayer(ctx, player); err != nil {
			return err
		}

		result = domain.SignupResult{
			Registration: reg,
			Waitlisted:   reg.Status == domain.RegistrationWaitlisted,
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.invalidate(ctx, req.SessionID)
	evt := domain.NewEvent(req.SessionID, domain.EventPlayerRegistered, map[string]any{
		"registration_id": result.Registration.ID,
		"player_id":       result.Registration.PlayerID,
		"status":          string(result.Registration.Status),
	})
	return &result, []domain.Event{evt}, nil
}

// Cancel transitions an active registration to cancelled. Cancelling a
// confirmed registration promotes the top waitlisted entry as a side
// effect. Cancellations past the session deadline still proceed but are
// flagged as late.
func (s *RegistrationService) Cancel(ctx context.Context, registrationID string) (*domain.CancelResult, []domain.Event, error) {
	reg, err := s.store.GetRegistration(ctx, registrationID)
	if err != nil {
		return nil, nil, err
	}
	sess, err := s.store.GetSession(ctx, reg.SessionID)
	if err != nil {
		return nil, nil, err
	}

	var (
		result domain.CancelResult
		evts   []domain.Event
	)
	err = s.store.Atomic(ctx, sess.ID, func(tx storage.Store) error {
		reg, err := tx.GetRegistration(ctx, registrationID)
		if err != nil {
			return err
		}
		switch {
		case reg.Status == domain.RegistrationCancelled:
			return domain.ErrAlreadyCancelled
		case !reg.Status.IsActive():
			return domain.ErrNotActive
		}

		now := time.Now()
		deadline := sess.StartsAt.Add(-time.Duration(sess.CancelDeadlineHrs) * time.Hour)
		wasConfirmed := reg.Status == domain.RegistrationConfirmed

		reg.Status = domain.RegistrationCancelled
		reg.Position = 0
		if err := tx.UpdateRegistration(ctx, reg); err != nil {
			return err
		}

		result = domain.CancelResult{
			Registration:     *reg,
			LateCancellation: now.After(deadline),
		}
		evts = append(evts, domain.NewEvent(sess.ID, domain.EventPlayerCancelled, map[string]any{
			"registration_id": reg.ID,
			"player_id":       reg.PlayerID,
			"late":            result.LateCancellation,
		}))

		// A freed confirmed spot goes to the waitlist immediately
		if wasConfirmed {
			promoted, err := s.promote(ctx, tx, sess, "")
			if err != nil {
				return err
			}
			if promoted != nil {
				result.Promoted = promoted
				evts = append(evts, domain.NewEvent(sess.ID, domain.EventPlayerPromoted, map[string]any{
					"registration_id": promoted.ID,
					"player_id":       promoted.PlayerID,
				}))
			}
			return nil
		}

		// Cancelling a waitlisted entry leaves a gap behind it
		waitlist, err := tx.ListRegistrations(ctx, sess.ID, domain.RegistrationWaitlisted)
		if err != nil {
			return err
		}
		priority.SortWaitlist(waitlist)
		for i := range waitlist {
			if waitlist[i].Position != i+1 {
				waitlist[i].Position = i + 1
				if err := tx.UpdateRegistration(ctx, &waitlist[i]); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.invalidate(ctx, sess.ID)
	return &result, evts, nil
}

// CancelByToken resolves a cancellation token and cancels the registration.
// An unknown token resolves to ErrRegistrationNotFound, indistinguishable
// from a registration that never existed.
func (s *RegistrationService) CancelByToken(ctx context.Context, cancelToken string) (*domain.CancelResult, []domain.Event, error) {
	reg, err := s.store.GetRegistrationByCancelToken(ctx, cancelToken)
	if err != nil {
		return nil, nil, err
	}
	return s.Cancel(ctx, reg.ID)
}

// ResolveCancelToken resolves a cancellation token to the registration and
// its session without acting on it
func (s *RegistrationService) ResolveCancelToken(ctx context.Context, cancelToken string) (*domain.Registration, *domain.Session, error) {
	reg, err := s.store.GetRegistrationByCancelToken(ctx, cancelToken)
	if err != nil {
		return nil, nil, err
	}
	sess, err := s.store.GetSession(ctx, reg.SessionID)
	if err != nil {
		return nil, nil, err
	}
	return reg, sess, nil
}

// Promote promotes a waitlisted registration to confirmed if capacity
// allows. With an empty registrationID the highest-priority entry is
// selected (ties broken by earliest registration); an operator may name a
// specific waitlisted registration instead. An empty waitlist or no free
// capacity is a no-op success.
func (s *RegistrationService) Promote(ctx context.Context, sessionID, registrationID string) (*domain.PromotionResult, []domain.Event, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	var result domain.PromotionResult
	err = s.store.Atomic(ctx, sess.ID, func(tx storage.Store) error {
		promoted, err := s.promote(ctx, tx, sess, registrationID)
		if err != nil {
			return err
		}
		result.Promoted = promoted
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if result.Promoted == nil {
		return &result, nil, nil
	}

	s.invalidate(ctx, sess.ID)
	evt := domain.NewEvent(sess.ID, domain.EventPlayerPromoted, map[string]any{
		"registration_id": result.Promoted.ID,
		"player_id":       result.Promoted.PlayerID,
	})
	return &result, []domain.Event{evt}, nil
}

// promote runs inside an atomic section. It re-checks admission and moves
// the selected waitlisted registration to confirmed, then compacts the
// remaining waitlist positions.
func (s *RegistrationService) promote(ctx context.Context, tx storage.Store, sess *domain.Session, registrationID string) (*domain.Registration, error) {
	occ, err := s.occupancy(ctx, tx, sess)
	if err != nil {
		return nil, err
	}
	if !s.evaluator(sess).CanAddPlayer(occ) {
		return nil, nil
	}

	waitlist, err := tx.ListRegistrations(ctx, sess.ID, domain.RegistrationWaitlisted)
	if err != nil {
		return nil, err
	}
	if len(waitlist) == 0 {
		return nil, nil
	}
	priority.SortWaitlist(waitlist)

	var selected *domain.Registration
	if registrationID == "" {
		selected = &waitlist[0]
	} else {
		for i := range waitlist {
			if waitlist[i].ID == registrationID {
				selected = &waitlist[i]
				break
			}
		}
		if selected == nil {
			return nil, domain.ErrNotWaitlisted
		}
	}

	selected.Status = domain.RegistrationConfirmed
	selected.Position = 0
	if err := tx.UpdateRegistration(ctx, selected); err != nil {
		return nil, err
	}

	position := 1
	for i := range waitlist {
		if waitlist[i].ID == selected.ID {
			continue
		}
		if waitlist[i].Position != position {
			waitlist[i].Position = position
			if err := tx.UpdateRegistration(ctx, &waitlist[i]); err != nil {
				return nil, err
			}
		}
		position++
	}

	return selected, nil
}

// MarkAttendance transitions a confirmed registration to attended or
// no_show and updates the player's history counters.
func (s *RegistrationService) MarkAttendance(ctx context.Context, registrationID string, attended bool) ([]domain.Event, error) {
	reg, err := s.store.GetRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	sess, err := s.store.GetSession(ctx, reg.SessionID)
	if err != nil {
		return nil, err
	}

	var evt domain.Event
	err = s.store.Atomic(ctx, sess.ID, func(tx storage.Store) error {
		var err error
		evt, err = s.markAttendance(ctx, tx, sess, registrationID, attended)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, sess.ID)
	return []domain.Event{evt}, nil
}

// MarkAttendanceBulk applies the same attendance transition to a batch of
// confirmed registrations in one critical section. Registrations that are
// not confirmed are skipped and reported back.
func (s *RegistrationService) MarkAttendanceBulk(ctx context.Context, sessionID string, registrationIDs []string, attended bool) ([]domain.Event, []string, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	var (
		evts    []domain.Event
		skipped []string
	)
	err = s.store.Atomic(ctx, sess.ID, func(tx storage.Store) error {
		evts = evts[:0]
		skipped = skipped[:0]
		for _, id := range registrationIDs {
			evt, err := s.markAttendance(ctx, tx, sess, id, attended)
			if err != nil {
				if errors.Is(err, domain.ErrNotConfirmed) || errors.Is(err, domain.ErrRegistrationNotFound) {
					skipped = append(skipped, id)
					continue
				}
				return err
			}
			evts = append(evts, evt)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.invalidate(ctx, sessionID)
	return evts, skipped, nil
}

func (s *RegistrationService) markAttendance(ctx context.Context, tx storage.Store, sess *domain.Session, registrationID string, attended bool) (domain.Event, error) {
	reg, err := tx.GetRegistration(ctx, registrationID)
	if err != nil {
		return domain.Event{}, err
	}
	if reg.SessionID != sess.ID {
		return domain.Event{}, domain.ErrRegistrationNotFound
	}
	if reg.Status != domain.RegistrationConfirmed {
		return domain.Event{}, domain.ErrNotConfirmed
	}

	player, err := tx.GetPlayer(ctx, reg.PlayerID)
	if err != nil {
		return domain.Event{}, err
	}

	if attended {
		reg.Status = domain.RegistrationAttended
		player.TotalAttendance++
		startsAt := sess.StartsAt
		player.LastAttendanceAt = &startsAt
	} else {
		reg.Status = domain.RegistrationNoShow
		player.TotalNoShows++
	}

	if err := tx.UpdateRegistration(ctx, reg); err != nil {
		return domain.Event{}, err
	}
	if err := tx.UpdatePlayer(ctx, player); err != nil {
		return domain.Event{}, err
	}

	return domain.NewEvent(sess.ID, domain.EventAttendanceMarked, map[string]any{
		"registration_id": reg.ID,
		"player_id":       reg.PlayerID,
		"status":          string(reg.Status),
	}), nil
}

// ReorderWaitlist recomputes every waitlisted registration's priority score
// from current player history, re-sorts and reassigns 1-based positions.
// Scores depend on time-varying inputs, so this is a full recompute run on
// demand rather than after every micro-event.
func (s *RegistrationService) ReorderWaitlist(ctx context.Context, sessionID string) ([]domain.Registration, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var ordered []domain.Registration
	err = s.store.Atomic(ctx, sess.ID, func(tx storage.Store) error {
		waitlist, err := tx.ListRegistrations(ctx, sess.ID, domain.RegistrationWaitlisted)
		if err != nil {
			return err
		}

		now := time.Now()
		for i := range waitlist {
			player, err := tx.GetPlayer(ctx, waitlist[i].PlayerID)
			if err != nil {
				return err
			}
			stats, err := s.playerStats(ctx, tx, player, now)
			if err != nil {
				return err
			}
			waitlist[i].PriorityScore = priority.Score(stats, now)
		}

		priority.SortWaitlist(waitlist)
		for i := range waitlist {
			waitlist[i].Position = i + 1
			if err := tx.UpdateRegistration(ctx, &waitlist[i]); err != nil {
				return err
			}
		}

		ordered = waitlist
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.SetWaitlist(ctx, sessionID, ordered)
	}
	return ordered, nil
}

// Waitlist returns the session's waitlisted registrations ordered by
// stored priority
func (s *RegistrationService) Waitlist(ctx context.Context, sessionID string) ([]domain.Registration, error) {
	waitlist, err := s.store.ListRegistrations(ctx, sessionID, domain.RegistrationWaitlisted)
	if err != nil {
		return nil, err
	}
	priority.SortWaitlist(waitlist)
	return waitlist, nil
}

// Registrations returns all registrations for a session
func (s *RegistrationService) Registrations(ctx context.Context, sessionID string) ([]domain.Registration, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListRegistrations(ctx, sessionID)
}

// GetCapacityStatus computes the derived occupancy report for a session.
// The result is cached until the next registration write for the session.
func (s *RegistrationService) GetCapacityStatus(ctx context.Context, sessionID string) (*domain.CapacityStatus, error) {
	if s.cache != nil {
		if status, ok := s.cache.GetCapacity(ctx, sessionID); ok {
			return status, nil
		}
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	occ, err := s.occupancy(ctx, s.store, sess)
	if err != nil {
		return nil, err
	}
	eval := s.evaluator(sess)

	var unsatisfied []string
	for _, c := range eval.Unsatisfied(occ) {
		unsatisfied = append(unsatisfied, c.Name())
	}

	status := &domain.CapacityStatus{
		Confirmed:            occ.Confirmed,
		Waitlisted:           occ.Waitlisted,
		CanAddPlayer:         eval.CanAddPlayer(occ),
		ConstraintsSatisfied: eval.AllSatisfied(occ),
		Unsatisfied:          unsatisfied,
		Description:          eval.Describe(),
	}

	if s.cache != nil {
		s.cache.SetCapacity(ctx, sessionID, status)
	}
	return status, nil
}

func (s *RegistrationService) occupancy(ctx context.Context, tx storage.Store, sess *domain.Session) (constraint.Occupancy, error) {
	confirmed, err := tx.CountRegistrations(ctx, sess.ID, domain.RegistrationConfirmed)
	if err != nil {
		return constraint.Occupancy{}, err
	}
	waitlisted, err := tx.CountRegistrations(ctx, sess.ID, domain.RegistrationWaitlisted)
	if err != nil {
		return constraint.Occupancy{}, err
	}
	return constraint.Occupancy{
		Confirmed:       confirmed,
		Waitlisted:      waitlisted,
		FieldsAvailable: sess.FieldsAvailable,
	}, nil
}

// evaluator parses the session's stored rule. Rules are validated at write
// time, so a parse discrepancy here points at storage corruption and is
// logged as an integrity warning rather than treated as "no constraint".
func (s *RegistrationService) evaluator(sess *domain.Session) *constraint.Evaluator {
	if err := constraint.ValidateRule(sess.ConstraintRule); err != nil {
		s.logger.Warn("stored constraint rule failed strict validation",
			"session_id", sess.ID,
			"rule", sess.ConstraintRule,
			"error", err,
		)
	}
	return constraint.NewEvaluator(constraint.Parse(sess.ConstraintRule))
}

func (s *RegistrationService) playerStats(ctx context.Context, tx storage.Store, player *domain.Player, now time.Time) (domain.PlayerStats, error) {
	recent, err := tx.CountAttendanceSince(ctx, player.ID, now.Add(-priority.RecentWindow))
	if err != nil {
		return domain.PlayerStats{}, err
	}
	return domain.PlayerStats{
		RecentAttendance: recent,
		LastAttendanceAt: player.LastAttendanceAt,
		NoShowCount:      player.TotalNoShows,
		WaitlistCount:    player.TotalWaitlisted,
	}, nil
}

func (s *RegistrationService) invalidate(ctx context.Context, sessionID string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, sessionID)
	}
}
