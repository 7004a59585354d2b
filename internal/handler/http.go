package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pickup-scheduler/internal/domain"
	"github.com/pickup-scheduler/internal/events"
	"github.com/pickup-scheduler/internal/service"
	"github.com/pickup-scheduler/internal/websocket"
)

// Handler provides HTTP handlers for the registration API
type Handler struct {
	sessions      *service.SessionService
	players       *service.PlayerService
	registrations *service.RegistrationService
	publisher     events.Publisher
	hub           *websocket.Hub
	logger        *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	sessions *service.SessionService,
	players *service.PlayerService,
	registrations *service.RegistrationService,
	publisher events.Publisher,
	hub *websocket.Hub,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		sessions:      sessions,
		players:       players,
		registrations: registrations,
		publisher:     publisher,
		hub:           hub,
		logger:        logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// Public share and cancellation links
	r.Get("/s/{shareToken}", h.ResolveShareLink)
	r.Get("/cancel/{cancelToken}", h.PreviewCancelLink)
	r.Post("/cancel/{cancelToken}", h.CancelByToken)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Registration operations
		r.Post("/signup", h.Signup)
		r.Route("/registrations/{registrationID}", func(r chi.Router) {
			r.Post("/cancel", h.Cancel)
			r.Post("/attendance", h.MarkAttendance)
		})

		// Session operations
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.CreateSession)
			r.Get("/", h.ListSessions)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Get("/capacity", h.GetCapacityStatus)
				r.Get("/registrations", h.ListRegistrations)
				r.Get("/waitlist", h.GetWaitlist)
				r.Post("/waitlist/reorder", h.ReorderWaitlist)
				r.Post("/promote", h.Promote)
				r.Post("/attendance", h.MarkAttendanceBulk)
			})
		})

		// Player operations
		r.Route("/players", func(r chi.Router) {
			r.Post("/", h.CreatePlayer)
			r.Get("/{playerID}", h.GetPlayer)
		})

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data any) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeServiceError maps domain errors to HTTP statuses
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		h.writeError(w, http.StatusBadRequest, err)
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrAlreadyRegistered),
		errors.Is(err, domain.ErrAlreadyCancelled),
		errors.Is(err, domain.ErrSessionNotOpen),
		errors.Is(err, domain.ErrNotActive),
		errors.Is(err, domain.ErrNotConfirmed),
		errors.Is(err, domain.ErrNotWaitlisted):
		h.writeError(w, http.StatusConflict, err)
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// relay forwards change events to the configured publishers
func (h *Handler) relay(r *http.Request, evts []domain.Event) {
	if h.publisher == nil {
		return
	}
	for _, evt := range evts {
		h.publisher.Publish(r.Context(), evt)
	}
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]any{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// Signup handles a registration request
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req domain.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if req.SessionID == "" || req.PlayerID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	result, evts, err := h.registrations.Signup(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "signup", err)
		return
	}
	h.relay(r, evts)

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    result,
	})
}

// Cancel handles cancellation of a registration by ID
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	registrationID := chi.URLParam(r, "registrationID")
	if registrationID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	result, evts, err := h.registrations.Cancel(r.Context(), registrationID)
	if err != nil {
		h.writeServiceError(w, "cancel", err)
		return
	}
	h.relay(r, evts)

	h.writeSuccess(w, result)
}

// AttendanceRequest marks a single registration attended or no-show
type AttendanceRequest struct {
	Attended bool `json:"attended"`
}

// MarkAttendance records attendance for one registration
func (h *Handler) MarkAttendance(w http.ResponseWriter, r *http.Request) {
	registrationID := chi.URLParam(r, "registrationID")
	if registrationID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	var req AttendanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	evts, err := h.registrations.MarkAttendance(r.Context(), registrationID, req.Attended)
	if err != nil {
		h.writeServiceError(w, "mark attendance", err)
		return
	}
	h.relay(r, evts)

	h.writeSuccess(w, map[string]string{"status": "recorded"})
}

// BulkAttendanceRequest marks a batch of registrations in one call
type BulkAttendanceRequest struct {
	RegistrationIDs []string `json:"registration_ids"`
	Attended        bool     `json:"attended"`
}

// MarkAttendanceBulk records attendance for a batch of registrations
func (h *Handler) MarkAttendanceBulk(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	var req BulkAttendanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if len(req.RegistrationIDs) == 0 {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	evts, skipped, err := h.registrations.MarkAttendanceBulk(r.Context(), sessionID, req.RegistrationIDs, req.Attended)
	if err != nil {
		h.writeServiceError(w, "mark attendance bulk", err)
		return
	}
	h.relay(r, evts)

	h.writeSuccess(w, map[string]any{
		"recorded": len(evts),
		"skipped":  skipped,
	})
}

// CreateSession handles session creation
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	sess, err := h.sessions.CreateSession(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "create session", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    sess,
	})
}

// ListSessions returns upcoming sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.ListUpcoming(r.Context())
	if err != nil {
		h.writeServiceError(w, "list sessions", err)
		return
	}

	h.writeSuccess(w, sessions)
}

// GetSession returns a session by ID
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	sess, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, "get session", err)
		return
	}

	h.writeSuccess(w, sess)
}

// GetCapacityStatus returns the derived occupancy report for a session
func (h *Handler) GetCapacityStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	status, err := h.registrations.GetCapacityStatus(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, "get capacity status", err)
		return
	}

	h.writeSuccess(w, status)
}

// ListRegistrations returns all registrations for a session
func (h *Handler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	regs, err := h.registrations.Registrations(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, "list registrations", err)
		return
	}

	h.writeSuccess(w, regs)
}

// GetWaitlist returns the session's waitlist ordered by priority
func (h *Handler) GetWaitlist(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	waitlist, err := h.registrations.Waitlist(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, "get waitlist", err)
		return
	}

	h.writeSuccess(w, waitlist)
}

// ReorderWaitlist recomputes waitlist priority scores and positions
func (h *Handler) ReorderWaitlist(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	ordered, err := h.registrations.ReorderWaitlist(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, "reorder waitlist", err)
		return
	}

	h.writeSuccess(w, ordered)
}

// PromoteRequest names a specific waitlisted registration to promote. An
// empty body promotes the highest-priority entry.
type PromoteRequest struct {
	RegistrationID string `json:"registration_id,omitempty"`
}

// Promote moves a waitlisted registration to confirmed if capacity allows
func (h *Handler) Promote(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	var req PromoteRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
			return
		}
	}

	result, evts, err := h.registrations.Promote(r.Context(), sessionID, req.RegistrationID)
	if err != nil {
		h.writeServiceError(w, "promote", err)
		return
	}
	h.relay(r, evts)

	h.writeSuccess(w, result)
}

// CreatePlayerRequest carries the fields for a new player record
type CreatePlayerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// CreatePlayer handles player creation
func (h *Handler) CreatePlayer(w http.ResponseWriter, r *http.Request) {
	var req CreatePlayerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	player, err := h.players.CreatePlayer(r.Context(), req.Name, req.Email, req.Phone)
	if err != nil {
		h.writeServiceError(w, "create player", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    player,
	})
}

// GetPlayer returns a player by ID
func (h *Handler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")
	if playerID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	player, err := h.players.GetPlayer(r.Context(), playerID)
	if err != nil {
		h.writeServiceError(w, "get player", err)
		return
	}

	h.writeSuccess(w, player)
}

// ResolveShareLink resolves a public share token to the session and its
// current capacity status
func (h *Handler) ResolveShareLink(w http.ResponseWriter, r *http.Request) {
	shareToken := chi.URLParam(r, "shareToken")
	if shareToken == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	sess, err := h.sessions.ResolveShareToken(r.Context(), shareToken)
	if err != nil {
		h.writeServiceError(w, "resolve share link", err)
		return
	}

	status, err := h.registrations.GetCapacityStatus(r.Context(), sess.ID)
	if err != nil {
		h.writeServiceError(w, "resolve share link", err)
		return
	}

	h.writeSuccess(w, map[string]any{
		"session":  sess,
		"capacity": status,
	})
}

// PreviewCancelLink resolves a cancellation token without acting on it, so
// the confirmation page can show what is about to be cancelled
func (h *Handler) PreviewCancelLink(w http.ResponseWriter, r *http.Request) {
	cancelToken := chi.URLParam(r, "cancelToken")
	if cancelToken == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	reg, sess, err := h.registrations.ResolveCancelToken(r.Context(), cancelToken)
	if err != nil {
		h.writeServiceError(w, "preview cancel link", err)
		return
	}

	h.writeSuccess(w, map[string]any{
		"registration": reg,
		"session":      sess,
	})
}

// CancelByToken cancels the registration behind a cancellation token
func (h *Handler) CancelByToken(w http.ResponseWriter, r *http.Request) {
	cancelToken := chi.URLParam(r, "cancelToken")
	if cancelToken == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	result, evts, err := h.registrations.CancelByToken(r.Context(), cancelToken)
	if err != nil {
		h.writeServiceError(w, "cancel by token", err)
		return
	}
	h.relay(r, evts)

	h.writeSuccess(w, result)
}
