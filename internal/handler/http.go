package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/photo-hunt/internal/config"
	"github.com/photo-hunt/internal/domain"
	"github.com/photo-hunt/internal/service"
	"github.com/photo-hunt/internal/websocket"
)

// Handler provides HTTP handlers for the hunt API
type Handler struct {
	service *service.Service
	hub      *websocket.Hub
	origins  []string
	adminKey string
	logger   *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc *service.Service, hub *websocket.Hub, cfg *config.ServerConfig, logger *slog.Logger) *Handler {
	return &Handler{
		service:  svc,
		hub:      hub,
		origins:  cfg.CORSOrigins,
		adminKey: cfg.AdminKey,
		logger:   logger,
	}
}

// APIResponse represents a standard API response. Code carries the error
// kind on failures.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(h.corsHandler().Handler)

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	r.Get("/ws", h.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/teams", func(r chi.Router) {
			r.Post("/", h.RegisterTeam)
			r.Post("/login", h.Login)

			r.Route("/{teamID}", func(r chi.Router) {
				r.Get("/progress", h.GetProgress)
				r.Post("/submissions", h.Submit)
				r.Get("/submissions", h.SubmissionHistory)
				r.Get("/submission-status", h.SubmissionStatus)
			})
		})

		r.Route("/leaderboard", func(r chi.Router) {
			r.Get("/", h.GetLeaderboard)
			r.Get("/teams/{teamID}", h.GetTeamRank)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Route("/levels", func(r chi.Router) {
				r.Get("/", h.ListLevels)
				r.Post("/", h.CreateLevel)
				r.Get("/{levelNumber}", h.GetLevel)
				r.Put("/{levelNumber}", h.UpdateLevel)
				r.Delete("/{levelNumber}", h.DeleteLevel)
			})

			r.Route("/submissions", func(r chi.Router) {
				r.Get("/", h.PendingSubmissions)
				r.Post("/{submissionID}/approve", h.decide(domain.DecisionApprove))
				r.Post("/{submissionID}/reject", h.decide(domain.DecisionReject))
			})

			r.Route("/game", func(r chi.Router) {
				r.Get("/state", h.GameState)
				r.Post("/start", h.StartGame)
				r.Post("/pause", h.PauseGame)
				r.Post("/reset", h.ResetGame)
			})

			r.Get("/ws/stats", h.GetWebSocketStats)
		})
	})

	return r
}

func (h *Handler) corsHandler() *cors.Cors {
	origins := h.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
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

// writeCreated writes a 201 JSON response
func (h *Handler) writeCreated(w http.ResponseWriter, data any) {
	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError maps a domain error to its status. Errors without a kind are
// logged and hidden behind a generic message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var dup *domain.DuplicateSubmissionError
	if errors.As(err, &dup) {
		h.writeJSON(w, http.StatusConflict, APIResponse{
			Success: false,
			Data:    dup.Existing,
			Error:   err.Error(),
			Code:    string(domain.KindConflict),
		})
		return
	}

	var data any
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		data = verr.Issues
	}

	kind := domain.KindOf(err)
	status := statusFor(kind)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		message = domain.ErrInternalError.Error()
	}

	h.writeJSON(w, status, APIResponse{
		Success: false,
		Data:    data,
		Error:   message,
		Code:    string(kind),
	})
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict, domain.KindInvalidState:
		return http.StatusConflict
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindScoringUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a request body into v
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrInvalidRequest.Wrap(err)
	}
	return nil
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h, h.logger, w, r)
}

// Authorize maps a push join request to rooms. Teams join their own room
// with their login credentials.
func (h *Handler) Authorize(ctx context.Context, join websocket.JoinRequest) ([]string, error) {
	if join.Role == websocket.RoleAdmin {
		if h.adminKey != "" && subtle.ConstantTimeCompare([]byte(join.AdminKey), []byte(h.adminKey)) != 1 {
			return nil, websocket.ErrJoinDenied
		}
		return []string{websocket.ChannelAdmin}, nil
	}

	team, err := h.service.Authenticate(ctx, join.TeamName, join.Password)
	if err != nil {
		if errors.Is(err, domain.ErrTeamNotFound) {
			return nil, websocket.ErrJoinDenied
		}
		return nil, err
	}
	return []string{websocket.TeamChannel(team.ID)}, nil
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]int{
		"total_connections": h.hub.TotalConnections(),
		"admin_subscribers": h.hub.SubscriberCount(websocket.ChannelAdmin),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck reports ready once the store answers
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{
			Success: false,
			Error:   "store unavailable",
		})
		return
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// GetLeaderboard returns the top standings
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeError(w, r, domain.ErrInvalidRequest)
			return
		}
		limit = n
	}

	standings, err := h.service.Ranking.TopTeams(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, domain.LeaderboardUpdate{
		Standings:  standings,
		TotalTeams: len(standings),
	})
}

// GetTeamRank returns one team's standing
func (h *Handler) GetTeamRank(w http.ResponseWriter, r *http.Request) {
	standing, err := h.service.Ranking.TeamRank(r.Context(), chi.URLParam(r, "teamID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, standing)
}
