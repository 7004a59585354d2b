package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pickup-scheduler/internal/config"
	"github.com/pickup-scheduler/internal/domain"
	"github.com/pickup-scheduler/internal/storage"
	"github.com/pickup-scheduler/internal/storage/memory"
)

type testEnv struct {
	store         *memory.Store
	sessions      *SessionService
	players       *PlayerService
	registrations *RegistrationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.New()
	cfg := &config.RegistrationConfig{
		DefaultCancelDeadlineHours: 24,
		MaxShareTokenRetries:       5,
	}
	logger := slog.Default()
	return &testEnv{
		store:         store,
		sessions:      NewSessionService(store, cfg, logger),
		players:       NewPlayerService(store, logger),
		registrations: NewRegistrationService(store, nil, logger),
	}
}

func (e *testEnv) createSession(t *testing.T, rule string) *domain.Session {
	t.Helper()
	starts := time.Now().Add(72 * time.Hour)
	sess, err := e.sessions.CreateSession(context.Background(), domain.CreateSessionRequest{
		Title:           "Tuesday pickup",
		StartsAt:        starts,
		EndsAt:          starts.Add(2 * time.Hour),
		FieldsAvailable: 1,
		ConstraintRule:  rule,
	})
	require.NoError(t, err)
	return sess
}

func (e *testEnv) createPlayer(t *testing.T, name string) *domain.Player {
	t.Helper()
	player, err := e.players.CreatePlayer(context.Background(), name, "", "")
	require.NoError(t, err)
	return player
}

func (e *testEnv) signup(t *testing.T, sessionID, playerID string) *domain.SignupResult {
	t.Helper()
	result, _, err := e.registrations.Signup(context.Background(), domain.SignupRequest{
		SessionID: sessionID,
		PlayerID:  playerID,
	})
	require.NoError(t, err)
	return result
}

func TestSignupConfirmsUntilCapacity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.createSession(t, "max_2")

	a := env.createPlayer(t, "Alice")
	b := env.createPlayer(t, "Bob")
	c := env.createPlayer(t, "Carol")

	resA := env.signup(t, sess.ID, a.ID)
	assert.Equal(t, domain.RegistrationConfirmed, resA.Registration.Status)
	assert.False(t, resA.Waitlisted)

	resB := env.signup(t, sess.ID, b.ID)
	assert.Equal(t, domain.RegistrationConfirmed, resB.Registration.Status)

	resC, evts, err := env.registrations.Signup(ctx, domain.SignupRequest{SessionID: sess.ID, PlayerID: c.ID})
	require.NoError(t, err)
	assert.True(t, resC.Waitlisted)
	assert.Equal(t, domain.RegistrationWaitlisted, resC.Registration.Status)
	assert.Equal(t, 1, resC.Registration.Position)
	// New player: no recent attendance, never attended
	assert.InDelta(t, 210.0, resC.Registration.PriorityScore, 0.001)

	require.Len(t, evts, 1)
	assert.Equal(t, domain.EventPlayerRegistered, evts[0].Kind)
	assert.Equal(t, sess.ID, evts[0].SessionID)

	// Cancel token stays out of API payloads but exists for the email link
	assert.Len(t, resC.Registration.CancelToken, 32)
}

func TestSignupDuplicateRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.createSession(t, "max_18")
	a := env.createPlayer(t, "Alice")

	env.signup(t, sess.ID, a.ID)

	_, _, err := env.registrations.Signup(ctx, domain.SignupRequest{SessionID: sess.ID, PlayerID: a.ID})
	assert.ErrorIs(t, err, domain.ErrAlreadyRegistered)

	// Waitlisted players count as registered too
	full := env.createSession(t, "max_1")
	b := env.createPlayer(t, "Bob")
	env.signup(t, full.ID, a.ID)
	res := env.signup(t, full.ID, b.ID)
	assert.True(t, res.Waitlisted)
	_, _, err = env.registrations.Signup(ctx, domain.SignupRequest{SessionID: full.ID, PlayerID: b.ID})
	assert.ErrorIs(t, err, domain.ErrAlreadyRegistered)
}

func TestSignupUnknownReferences(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.createSession(t, "max_18")
	a := env.createPlayer(t, "Alice")

	_, _, err := env.registrations.Signup(ctx, domain.SignupRequest{SessionID: "nope", PlayerID: a.ID})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, _, err = env.registrations.Signup(ctx, domain.SignupRequest{SessionID: sess.ID, PlayerID: "nope"})
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)
}

func TestSignupClosedSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.createSession(t, "max_18")
	a := env.createPlayer(t, "Alice")

	sess.Status = domain.SessionCancelled
	require.NoError(t, env.store.UpdateSession(ctx, sess))

	_, _, err := env.registrations.Signup(ctx, domain.SignupRequest{SessionID: sess.ID, PlayerID: a.ID})
	assert.ErrorIs(t, err, domain.ErrSessionNotOpen)
}

func TestCancelPromotesTopWaitlisted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.createSession(t, "max_2")

	a := env.createPlayer(t, "Alice")
	b := env.createPlayer(t, "Bob")
	c := env.createPlayer(t, "Carol")

	resA := env.signup(t, sess.ID, a.ID)
	env.signup(t, sess.ID, b.ID)
	resC := env.signup(t, sess.ID, c.ID)
	require.True(t, resC.Waitlisted)

	result, evts, err := env.registrations.Cancel(ctx, resA.Registration.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RegistrationCancelled, result.Registration.Status)
	require.NotNil(t, result.Promoted)
	assert.Equal(t, resC.Registration.ID, result.Promoted.ID)
	assert.Equal(t, domain.RegistrationConfirmed, result.Promoted.Status)

	require.Len(t, evts, 2)
	assert.Equal(t, domain.EventPlayerCancelled, evts[0].Kind)
	assert.Equal(t, domain.EventPlayerPromoted, evts[1].Kind)

	waitlist, err := env.registrations.Waitlist(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, waitlist)

	status, err := env.registrations.GetCapacityStatus(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Confirmed)
}

func TestCancelWaitlistedDoesNotPromote(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.createSession(t, "max_1")

	a := env.createPlayer(t, "Alice")
	b := env.createPlayer(t, "Bob")

	env.signup(t, sess.ID, a.ID)
	resB := env.signup(t, sess.ID, b.ID)
	require.True(t, resB.Waitlisted)

	result, evts, err := env.registrations.Cancel(ctx, resB.Registration.ID)
	require.NoError(t, err)
	assert.Nil(t, result.Promoted)
	require.Len(t, evts, 1)
	assert.Equal(t, domain.EventPlayerCancelled, evts[0].Kind)
}

func TestCancelWaitlistedCompactsPositions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.createSession(t, "max_1")

	a := env.createPlayer(t, "Alice")
	b := env.createPlayer(t, "Bob")
	c := env.createPlayer(t, "Carol")
	d := env.createPlayer(t, "Dave")

	env.signup(t, sess.ID, a.ID)
	resB := env.signup(t, sess.ID, b.ID)
	resC := env.signup(t, sess.ID, c.ID)
	resD := env.signup(t, sess.ID, d.ID)
	require.Equal(t, 1, resB.Registration.Position)
	require.Equal(t, 2, resC.Registration.Position)
	require.Equal(t, 3, resD.Registration.Position)

	// Cancelling the middle entry closes its gap immediately
	_, _, err := env.registrations.Cancel(ctx, resC.Registration.ID)
	require.NoError(t, err)

	waitlist, err := env.registrations.Waitlist(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, waitlist, 2)
	assert.Equal(t, resB.Registration.ID, waitlist[0].ID)
	assert.Equal(t, 1, waitlist[0].Position)
	assert.Equal(t, resD.Registration.ID, waitlist[1].ID)
	assert.Equal(t, 2, waitlist[1].Position)
}

func TestCancelIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.createSession(t, "max_18")
	a := env.createPlayer(t, "Alice")
	res := env.signup(t, sess.ID, a.ID)

	_, _, err := env.registrations.Cancel(ctx, res.Registration.ID)
	require.NoError(t, err)

	_, _, err = env.registrations.Cancel(ctx, res.Registration.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyCancelled)
}

func TestLateCancellationFlagged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Deadline of 96 hours before a session 72 hours out is already past
	starts := time.Now().Add(72 * time.Hour)
	sess, err := env.sessions.CreateSession(ctx, domain.CreateSessionRequest{
		Title:             "Tuesday pickup",
		StartsAt:          starts,
		EndsAt:            starts.Add(2 * time.Hour),
		FieldsAvailable:   1,
		ConstraintRule:    "max_18",
		CancelDeadlineHrs: 96,
	})
	require.NoError(t, err)

	a := env.createPlayer(t, "Alice")
	res := env.signup(t, sess.ID, a.ID)

	result, _, err := env.registrations.Cancel(ctx, res.Registration.ID)
	require.NoError(t, err)
	assert.True(t, result.LateCancellation)
	// The cancellation itself still goes through
	assert.Equal(t, domain.RegistrationCancelled, result.Registration.Status)
}

func TestCancelByToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.createSession(t, "max_18")
	a := env.createPlayer(t, "Alice")
	res := env.signup(t, sess.ID, a.ID)

	result, _, err := env.registrations.CancelByToken(ctx, res.Registration.CancelToken)
	require.NoError(t, err)
	assert.Equal(t, res.Registration.ID, result.Registration.ID)

	_, _, err = env.registrations.CancelByToken(ctx, "not-a-real-token")
	assert.ErrorIs(t, err, domain.ErrRegistrationNotFound)
}

func TestResolveCancelToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.createSession(t, "max_18")
	a := env.createPlayer(t, "Alice")
	res := env.signup(t, sess.ID, a.ID)

	reg, gotSess, err := env.registrations.ResolveCancelToken(ctx, res.Registration.CancelToken)
	require.NoError(t, err)
	assert.Equal(t, res.Registration.ID, reg.ID)
	assert.Equal(t, sess.ID, gotSess.ID)
	// Resolving is read-only
	assert.Equal(t, domain.RegistrationConfirmed, reg.Status)
}

func TestConcurrentSignupsOneSlot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.createSession(t, "max_1")

	const n = 10
	playerIDs := make([]string, n)
	for i := 0; i < n; i++ {
		playerIDs[i] = env.createPlayer(t, "Player").ID
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(playerID string) {
			defer wg.Done()
			_, _, err := env.registrations.Signup(ctx, domain.SignupRequest{
				SessionID: sess.ID,
				PlayerID:  playerID,
			})
			assert.NoError(t, err)
		}(playerIDs[i])
	}
	wg.Wait()

	confirmed, err := env.store.CountRegistrations(ctx, sess.ID, domain.RegistrationConfirmed)
	require.NoError(t, err)
	waitlisted, err := env.store.CountRegistrations(ctx, sess.ID, domain.RegistrationWaitlisted)
	require.NoError(t, err)

	assert.Equal(t, 1, confirmed)
	assert.Equal(t, n-1, waitlisted)
}

// statusRollingStore flips the session to in_progress at the top of every
// critical section, standing in for a maintenance pass that wins the race
// against a signup.
type statusRollingStore struct {
	storage.Store
	sessionID string
}

func (s *statusRollingStore) Atomic(ctx context.Context, sessionID string, fn func(storage.Store) error) error {
	return s.Store.Atomic(ctx, sessionID, func(tx storage.Store) error {
		sess, err := tx.GetSession(ctx, s.sessionID)
		if err != nil {
			return err
		}
		if sess.Status == domain.SessionScheduled {
			sess.Status = domain.SessionInProgress
			if err := tx.UpdateSession(ctx, sess); err != nil {
				return err
			}
		}
		return fn(tx)
	})
}

func TestSignupLosesRaceAgainstStatusRoll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.createSession(t, "max_18")
	a := env.createPlayer(t, "Alice")

	racy := NewRegistrationService(&statusRollingStore{Store: env.store, sessionID: sess.ID}, nil, slog.Default())

	_, _, err := racy.Signup(ctx, domain.SignupRequest{SessionID: sess.ID, PlayerID: a.ID})
	assert.ErrorIs(t, err, domain.ErrSessionNotOpen)

	regs, err := env.store.ListRegistrations(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, regs)
}

func TestPromoteNoopWhenNothingEligible(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.createSession(t, "max_2")
	a := env.createPlayer(t, "Alice")
	env.signup(t, sess.ID, a.ID)

	// Empty waitlist
	result, evts, err := env.registrations.Promote(ctx, sess.ID, "")
	require.NoError(t, err)
	assert.Nil(t, result.Promoted)
	assert.Empty(t, evts)

	// Full capacity with a waitlist
	b := env.createPlayer(t, "Bob")
	c := env.createPlayer(t, "Carol")
	env.signup(t, sess.ID, b.ID)
	res := env.signup(t, sess.ID, c.ID)
	require.True(t, res.Waitlisted)

	result, evts, err = env.registrations.Promote(ctx, sess.ID, "")
	require.NoError(t, err)
	assert.Nil(t, result.Promoted)
	assert.Empty(t, evts)
}

func TestPromoteAfterNoShow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.createSession(t, "max_2")

	a := env.createPlayer(t, "Alice")
	b := env.createPlayer(t, "Bob")
	c := env.createPlayer(t, "Carol")
	d := env.createPlayer(t, "Dave")

	resA := env.signup(t, sess.ID, a.ID)
	env.signup(t, sess.ID, b.ID)
	resC := env.signup(t, sess.ID, c.ID)
	resD := env.signup(t, sess.ID, d.ID)
	require.True(t, resC.Waitlisted)
	require.True(t, resD.Waitlisted)

	// A no-show frees a confirmed slot without triggering auto-promotion
	_, err := env.registrations.MarkAttendance(ctx, resA.Registration.ID, false)
	require.NoError(t, err)

	// Naming a registration that is not waitlisted fails
	_, _, err = env.registrations.Promote(ctx, sess.ID, resA.Registration.ID)
	assert.ErrorIs(t, err, domain.ErrNotWaitlisted)

	// Operator names a specific waitlisted registration
	result, evts, err := env.registrations.Promote(ctx, sess.ID, resD.Registration.ID)
	require.NoError(t, err)
	require.NotNil(t, result.Promoted)
	assert.Equal(t, resD.Registration.ID, result.Promoted.ID)
	require.Len(t, evts, 1)
	assert.Equal(t, domain.EventPlayerPromoted, evts[0].Kind)
}

func TestMarkAttendanceUpdatesCounters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.createSession(t, "max_18")

	a := env.createPlayer(t, "Alice")
	b := env.createPlayer(t, "Bob")
	resA := env.signup(t, sess.ID, a.ID)
	resB := env.signup(t, sess.ID, b.ID)

	evts, err := env.registrations.MarkAttendance(ctx, resA.Registration.ID, true)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, domain.EventAttendanceMarked, evts[0].Kind)

	gotA, err := env.store.GetPlayer(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gotA.TotalAttendance)
	require.NotNil(t, gotA.LastAttendanceAt)
	assert.True(t, gotA.LastAttendanceAt.Equal(sess.StartsAt))

	_, err = env.registrations.MarkAttendance(ctx, resB.Registration.ID, false)
	require.NoError(t, err)

	gotB, err := env.store.GetPlayer(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, gotB.TotalNoShows)
	assert.Equal(t, 0, gotB.TotalAttendance)

	// Attended registrations cannot be marked again
	_, err = env.registrations.MarkAttendance(ctx, resA.Registration.ID, false)
	assert.ErrorIs(t, err, domain.ErrNotConfirmed)
}

func TestMarkAttendanceBulkSkipsIneligible(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.createSession(t, "max_2")

	a := env.createPlayer(t, "Alice")
	b := env.createPlayer(t, "Bob")
	c := env.createPlayer(t, "Carol")
	resA := env.signup(t, sess.ID, a.ID)
	resB := env.signup(t, sess.ID, b.ID)
	resC := env.signup(t, sess.ID, c.ID)
	require.True(t, resC.Waitlisted)

	ids := []string{resA.Registration.ID, resB.Registration.ID, resC.Registration.ID, "unknown"}
	evts, skipped, err := env.registrations.MarkAttendanceBulk(ctx, sess.ID, ids, true)
	require.NoError(t, err)
	assert.Len(t, evts, 2)
	assert.ElementsMatch(t, []string{resC.Registration.ID, "unknown"}, skipped)
}

func TestReorderWaitlistByPriority(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.createSession(t, "max_1")

	taken := env.createPlayer(t, "Taken")
	env.signup(t, sess.ID, taken.ID)

	// Three waitlisted players with different histories
	flaky := env.createPlayer(t, "Flaky")
	patient := env.createPlayer(t, "Patient")
	plain := env.createPlayer(t, "Plain")

	resFlaky := env.signup(t, sess.ID, flaky.ID)
	resPatient := env.signup(t, sess.ID, patient.ID)
	resPlain := env.signup(t, sess.ID, plain.ID)
	require.True(t, resFlaky.Waitlisted)

	// Two no-shows drag the score down, repeated waitlisting pushes it up
	flakyRec, err := env.store.GetPlayer(ctx, flaky.ID)
	require.NoError(t, err)
	flakyRec.TotalNoShows = 2
	require.NoError(t, env.store.UpdatePlayer(ctx, flakyRec))

	patientRec, err := env.store.GetPlayer(ctx, patient.ID)
	require.NoError(t, err)
	patientRec.TotalWaitlisted = 4
	require.NoError(t, env.store.UpdatePlayer(ctx, patientRec))

	ordered, err := env.registrations.ReorderWaitlist(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, ordered, 3)

	assert.Equal(t, resPatient.Registration.ID, ordered[0].ID)
	assert.Equal(t, resPlain.Registration.ID, ordered[1].ID)
	assert.Equal(t, resFlaky.Registration.ID, ordered[2].ID)
	for i, reg := range ordered {
		assert.Equal(t, i+1, reg.Position)
	}

	assert.InDelta(t, 222.0, ordered[0].PriorityScore, 0.001)
	assert.InDelta(t, 213.0, ordered[1].PriorityScore, 0.001)
	assert.InDelta(t, 183.0, ordered[2].PriorityScore, 0.001)
}

func TestGetCapacityStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.createSession(t, "max_2")

	for i := 0; i < 3; i++ {
		p := env.createPlayer(t, "Player")
		env.signup(t, sess.ID, p.ID)
	}

	status, err := env.registrations.GetCapacityStatus(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Confirmed)
	assert.Equal(t, 1, status.Waitlisted)
	assert.False(t, status.CanAddPlayer)
	assert.True(t, status.ConstraintsSatisfied)
	assert.Empty(t, status.Unsatisfied)
	assert.NotEmpty(t, status.Description)
}

func TestMinimumRuleWaitlistsUntilViable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.createSession(t, "max_18,min_12")

	p := env.createPlayer(t, "Early Bird")
	res := env.signup(t, sess.ID, p.ID)
	// One more player does not reach the minimum, so signup waitlists
	assert.True(t, res.Waitlisted)

	status, err := env.registrations.GetCapacityStatus(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, status.CanAddPlayer)
	assert.False(t, status.ConstraintsSatisfied)
	assert.Equal(t, []string{"min_12"}, status.Unsatisfied)
}
