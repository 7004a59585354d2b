// Package worker runs the periodic maintenance pass over upcoming sessions.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pickup-scheduler/internal/config"
	"github.com/pickup-scheduler/internal/domain"
	"github.com/pickup-scheduler/internal/service"
	"github.com/pickup-scheduler/internal/storage"
)

// How far back a pass looks for sessions whose status still needs rolling.
const lookback = 48 * time.Hour

// Scheduler rolls session statuses forward by wall clock and refreshes
// waitlist ordering, so priority scores do not drift between registration
// writes
type Scheduler struct {
	store         storage.Store
	registrations *service.RegistrationService
	config        *config.SchedulerConfig
	logger        *slog.Logger
	stopCh        chan struct{}
	doneCh        chan struct{}
	mu            sync.Mutex
	running       bool
}

// NewScheduler creates a new scheduler worker
func NewScheduler(
	store storage.Store,
	registrations *service.RegistrationService,
	cfg *config.SchedulerConfig,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		store:         store,
		registrations: registrations,
		config:        cfg,
		logger:        logger,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start begins the background maintenance process
func (w *Scheduler) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("scheduler worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background maintenance process
func (w *Scheduler) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("scheduler worker stopped")
	return nil
}

// run is the main worker loop
func (w *Scheduler) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.pass(ctx)
		}
	}
}

// pass performs one maintenance cycle over recent and upcoming sessions
func (w *Scheduler) pass(ctx context.Context) {
	w.logger.Info("starting maintenance pass")
	startTime := time.Now()

	sessions, err := w.store.ListSessions(ctx, startTime.Add(-lookback))
	if err != nil {
		w.logger.Error("failed to list sessions for maintenance", "error", err)
		return
	}

	rolledCount := 0
	reorderedCount := 0
	errorCount := 0

	for _, sess := range sessions {
		rolled, err := w.rollStatus(ctx, &sess, startTime)
		if err != nil {
			w.logger.Error("failed to roll session status",
				"session_id", sess.ID,
				"error", err,
			)
			errorCount++
			continue
		}
		if rolled {
			rolledCount++
		}

		if sess.Status != domain.SessionScheduled {
			continue
		}
		if _, err := w.registrations.ReorderWaitlist(ctx, sess.ID); err != nil {
			w.logger.Error("failed to reorder waitlist",
				"session_id", sess.ID,
				"error", err,
			)
			errorCount++
		} else {
			reorderedCount++
		}
	}

	duration := time.Since(startTime)
	w.logger.Info("maintenance pass completed",
		"duration", duration,
		"rolled", rolledCount,
		"reordered", reorderedCount,
		"errors", errorCount,
	)
}

// rollStatus advances the session's lifecycle status by wall clock.
// Cancelled sessions are left alone. The update runs inside the session's
// critical section so it serializes with signups.
func (w *Scheduler) rollStatus(ctx context.Context, sess *domain.Session, now time.Time) (bool, error) {
	rolled := false
	err := w.store.Atomic(ctx, sess.ID, func(tx storage.Store) error {
		cur, err := tx.GetSession(ctx, sess.ID)
		if err != nil {
			return err
		}

		var next domain.SessionStatus
		switch cur.Status {
		case domain.SessionScheduled:
			if !now.Before(cur.EndsAt) {
				next = domain.SessionCompleted
			} else if !now.Before(cur.StartsAt) {
				next = domain.SessionInProgress
			}
		case domain.SessionInProgress:
			if !now.Before(cur.EndsAt) {
				next = domain.SessionCompleted
			}
		}
		if next == "" {
			*sess = *cur
			return nil
		}

		cur.Status = next
		if err := tx.UpdateSession(ctx, cur); err != nil {
			return err
		}
		*sess = *cur
		rolled = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if rolled {
		w.logger.Debug("session status rolled",
			"session_id", sess.ID,
			"status", sess.Status,
		)
	}
	return rolled, nil
}

// IsRunning returns whether the worker is currently running
func (w *Scheduler) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single maintenance pass (useful for manual triggers)
func (w *Scheduler) RunOnce(ctx context.Context) {
	w.pass(ctx)
}
