package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/photo-hunt/internal/domain"
)

func levelParam(r *http.Request) (int, error) {
	n, err := strconv.Atoi(chi.URLParam(r, "levelNumber"))
	if err != nil {
		return 0, domain.ErrInvalidLevel.Wrap(err)
	}
	return n, nil
}

// ListLevels returns the level catalog in order
func (h *Handler) ListLevels(w http.ResponseWriter, r *http.Request) {
	levels, err := h.service.ListLevels(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, levels)
}

// CreateLevel adds a level
func (h *Handler) CreateLevel(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateLevelRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	level, err := h.service.CreateLevel(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeCreated(w, level)
}

// GetLevel returns one level
func (h *Handler) GetLevel(w http.ResponseWriter, r *http.Request) {
	n, err := levelParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	level, err := h.service.GetLevel(r.Context(), n)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, level)
}

// UpdateLevel edits a level's text and appends images
func (h *Handler) UpdateLevel(w http.ResponseWriter, r *http.Request) {
	n, err := levelParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req domain.UpdateLevelRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	level, err := h.service.UpdateLevel(r.Context(), n, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, level)
}

// DeleteLevel removes a level while the game is stopped
func (h *Handler) DeleteLevel(w http.ResponseWriter, r *http.Request) {
	n, err := levelParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.service.DeleteLevel(r.Context(), n); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, map[string]int{"deleted": n})
}

// PendingSubmissions returns the review queue
func (h *Handler) PendingSubmissions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.service.PendingSubmissions(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, subs)
}

// decide returns the handler for one admin decision
func (h *Handler) decide(decision domain.Decision) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.DecisionRequest
		if err := decodeJSON(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}

		id := chi.URLParam(r, "submissionID")
		outcome, err := h.service.Arbiter.ApplyDecision(r.Context(), id, decision, req.ReviewerID, req.Reason)
		if err != nil {
			if outcome == nil {
				h.writeError(w, r, err)
				return
			}
			h.logger.Warn("submission approved but progression incomplete",
				"submission_id", id,
				"error", err,
			)
		}
		h.writeSuccess(w, outcome)
	}
}

// GameState returns the run state and winner
func (h *Handler) GameState(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.Game.State(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, state)
}

// StartGame validates the catalog and starts the game
func (h *Handler) StartGame(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.Game.Start(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, state)
}

// PauseGame pauses the game
func (h *Handler) PauseGame(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.Game.Pause(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, state)
}

// ResetGame clears all progress and submissions
func (h *Handler) ResetGame(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.Game.Reset(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, state)
}
