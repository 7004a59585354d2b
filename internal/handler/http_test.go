package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pickup-scheduler/internal/config"
	"github.com/pickup-scheduler/internal/domain"
	"github.com/pickup-scheduler/internal/events"
	"github.com/pickup-scheduler/internal/service"
	"github.com/pickup-scheduler/internal/storage/memory"
	"github.com/pickup-scheduler/internal/websocket"
)

// recorder captures relayed events for assertions
type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(ctx context.Context, event domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) kinds() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]domain.EventKind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}

type testAPI struct {
	server        *httptest.Server
	store         *memory.Store
	registrations *service.RegistrationService
	recorder      *recorder
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := slog.Default()
	store := memory.New()
	cfg := &config.RegistrationConfig{
		DefaultCancelDeadlineHours: 24,
		MaxShareTokenRetries:       5,
	}

	sessions := service.NewSessionService(store, cfg, logger)
	players := service.NewPlayerService(store, logger)
	registrations := service.NewRegistrationService(store, nil, logger)

	rec := &recorder{}
	hub := websocket.NewHub(logger)
	h := NewHandler(sessions, players, registrations, events.NewFanout(rec), hub, logger)

	server := httptest.NewServer(h.Router())
	t.Cleanup(server.Close)

	return &testAPI{
		server:        server,
		store:         store,
		registrations: registrations,
		recorder:      rec,
	}
}

func (a *testAPI) post(t *testing.T, path string, payload any) (*http.Response, APIResponse) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	resp, err := http.Post(a.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()

	var apiResp APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiResp))
	return resp, apiResp
}

func (a *testAPI) get(t *testing.T, path string) (*http.Response, APIResponse) {
	t.Helper()
	resp, err := http.Get(a.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	var apiResp APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiResp))
	return resp, apiResp
}

func decodeData(t *testing.T, apiResp APIResponse, out any) {
	t.Helper()
	data, err := json.Marshal(apiResp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out))
}

func (a *testAPI) createSession(t *testing.T, rule string) domain.Session {
	t.Helper()
	starts := time.Now().Add(72 * time.Hour)
	resp, apiResp := a.post(t, "/api/v1/sessions/", domain.CreateSessionRequest{
		Title:           "Tuesday pickup",
		StartsAt:        starts,
		EndsAt:          starts.Add(2 * time.Hour),
		FieldsAvailable: 1,
		ConstraintRule:  rule,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var sess domain.Session
	decodeData(t, apiResp, &sess)
	return sess
}

func (a *testAPI) createPlayer(t *testing.T, name string) domain.Player {
	t.Helper()
	resp, apiResp := a.post(t, "/api/v1/players/", CreatePlayerRequest{Name: name})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var player domain.Player
	decodeData(t, apiResp, &player)
	return player
}

func TestSignupFlow(t *testing.T) {
	api := newTestAPI(t)
	sess := api.createSession(t, "max_2")

	a := api.createPlayer(t, "Alice")
	b := api.createPlayer(t, "Bob")
	c := api.createPlayer(t, "Carol")

	for _, playerID := range []string{a.ID, b.ID} {
		resp, apiResp := api.post(t, "/api/v1/signup", domain.SignupRequest{SessionID: sess.ID, PlayerID: playerID})
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var result domain.SignupResult
		decodeData(t, apiResp, &result)
		assert.False(t, result.Waitlisted)
	}

	resp, apiResp := api.post(t, "/api/v1/signup", domain.SignupRequest{SessionID: sess.ID, PlayerID: c.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var waitlisted domain.SignupResult
	decodeData(t, apiResp, &waitlisted)
	assert.True(t, waitlisted.Waitlisted)

	// Duplicate signup conflicts
	resp, apiResp = api.post(t, "/api/v1/signup", domain.SignupRequest{SessionID: sess.ID, PlayerID: a.ID})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.False(t, apiResp.Success)

	// Capacity endpoint reflects the state
	resp, apiResp = api.get(t, "/api/v1/sessions/"+sess.ID+"/capacity")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status domain.CapacityStatus
	decodeData(t, apiResp, &status)
	assert.Equal(t, 2, status.Confirmed)
	assert.Equal(t, 1, status.Waitlisted)

	// Every accepted signup was relayed
	assert.Len(t, api.recorder.kinds(), 3)
}

func TestSignupValidation(t *testing.T) {
	api := newTestAPI(t)

	resp, _ := api.post(t, "/api/v1/signup", domain.SignupRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = api.post(t, "/api/v1/signup", domain.SignupRequest{SessionID: "nope", PlayerID: "nope"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateSessionRejectsBadRule(t *testing.T) {
	api := newTestAPI(t)
	starts := time.Now().Add(24 * time.Hour)

	resp, apiResp := api.post(t, "/api/v1/sessions/", domain.CreateSessionRequest{
		Title:           "Pickup",
		StartsAt:        starts,
		EndsAt:          starts.Add(time.Hour),
		FieldsAvailable: 1,
		ConstraintRule:  "max_18,bogus",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, apiResp.Error, "constraint_rule")
}

func TestShareLink(t *testing.T) {
	api := newTestAPI(t)
	sess := api.createSession(t, "max_18")

	resp, apiResp := api.get(t, "/s/"+sess.ShareToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page struct {
		Session  domain.Session        `json:"session"`
		Capacity domain.CapacityStatus `json:"capacity"`
	}
	decodeData(t, apiResp, &page)
	assert.Equal(t, sess.ID, page.Session.ID)
	assert.True(t, page.Capacity.CanAddPlayer)

	resp, _ = api.get(t, "/s/unknown-token")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelLinkFlow(t *testing.T) {
	api := newTestAPI(t)
	sess := api.createSession(t, "max_18")
	player := api.createPlayer(t, "Alice")

	// The cancel token never appears in API payloads; it travels in the
	// confirmation email. Grab it through the service layer.
	result, _, err := api.registrations.Signup(context.Background(), domain.SignupRequest{
		SessionID: sess.ID,
		PlayerID:  player.ID,
	})
	require.NoError(t, err)
	token := result.Registration.CancelToken
	require.NotEmpty(t, token)

	// Preview does not change anything
	resp, apiResp := api.get(t, "/cancel/"+token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var preview struct {
		Registration domain.Registration `json:"registration"`
		Session      domain.Session      `json:"session"`
	}
	decodeData(t, apiResp, &preview)
	assert.Equal(t, domain.RegistrationConfirmed, preview.Registration.Status)
	assert.Equal(t, sess.Title, preview.Session.Title)

	// Confirming cancels the registration
	resp, apiResp = api.post(t, "/cancel/"+token, struct{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cancel domain.CancelResult
	decodeData(t, apiResp, &cancel)
	assert.Equal(t, domain.RegistrationCancelled, cancel.Registration.Status)

	// A second confirm conflicts
	resp, _ = api.post(t, "/cancel/"+token, struct{}{})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Unknown tokens are indistinguishable from never-issued ones
	resp, _ = api.get(t, "/cancel/unknown-token")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPromoteEndpoint(t *testing.T) {
	api := newTestAPI(t)
	sess := api.createSession(t, "max_1")

	a := api.createPlayer(t, "Alice")
	b := api.createPlayer(t, "Bob")
	api.post(t, "/api/v1/signup", domain.SignupRequest{SessionID: sess.ID, PlayerID: a.ID})
	api.post(t, "/api/v1/signup", domain.SignupRequest{SessionID: sess.ID, PlayerID: b.ID})

	// Full session: promotion is a no-op success
	resp, apiResp := api.post(t, "/api/v1/sessions/"+sess.ID+"/promote", PromoteRequest{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result domain.PromotionResult
	decodeData(t, apiResp, &result)
	assert.Nil(t, result.Promoted)
}

func TestWaitlistEndpoints(t *testing.T) {
	api := newTestAPI(t)
	sess := api.createSession(t, "max_1")

	for i := 0; i < 3; i++ {
		p := api.createPlayer(t, fmt.Sprintf("Player %d", i))
		api.post(t, "/api/v1/signup", domain.SignupRequest{SessionID: sess.ID, PlayerID: p.ID})
	}

	resp, apiResp := api.get(t, "/api/v1/sessions/"+sess.ID+"/waitlist")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var waitlist []domain.Registration
	decodeData(t, apiResp, &waitlist)
	assert.Len(t, waitlist, 2)

	resp, apiResp = api.post(t, "/api/v1/sessions/"+sess.ID+"/waitlist/reorder", struct{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ordered []domain.Registration
	decodeData(t, apiResp, &ordered)
	require.Len(t, ordered, 2)
	assert.Equal(t, 1, ordered[0].Position)
	assert.Equal(t, 2, ordered[1].Position)
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t)

	resp, apiResp := api.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, apiResp.Success)

	resp, _ = api.get(t, "/ready")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
