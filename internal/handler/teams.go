package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/photo-hunt/internal/domain"
)

// loginRequest carries team credentials
type loginRequest struct {
	TeamName string `json:"team_name"`
	Password string `json:"password"`
}

// RegisterTeam handles team registration
func (h *Handler) RegisterTeam(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterTeamRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	team, err := h.service.RegisterTeam(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeCreated(w, team)
}

// Login checks team credentials and returns the team
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	team, err := h.service.Authenticate(r.Context(), req.TeamName, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrTeamNotFound) {
			h.writeJSON(w, http.StatusUnauthorized, APIResponse{
				Success: false,
				Error:   "invalid team name or password",
			})
			return
		}
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, team)
}

// GetProgress returns a team's current level and assigned image
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.service.GetProgress(r.Context(), chi.URLParam(r, "teamID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, progress)
}

// Submit scores a candidate photo for the team's current level
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req domain.SubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	teamID := chi.URLParam(r, "teamID")
	outcome, err := h.service.Arbiter.Intake(r.Context(), teamID, req.ImageRef)
	if err != nil {
		if outcome == nil {
			h.writeError(w, r, err)
			return
		}
		// The decision stands; the team is moved on by its next progress read.
		h.logger.Warn("submission approved but progression incomplete",
			"team_id", teamID,
			"submission_id", outcome.Submission.ID,
			"error", err,
		)
	}
	h.writeCreated(w, outcome)
}

// SubmissionHistory lists a team's submissions, newest first
func (h *Handler) SubmissionHistory(w http.ResponseWriter, r *http.Request) {
	subs, err := h.service.SubmissionHistory(r.Context(), chi.URLParam(r, "teamID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, subs)
}

// SubmissionStatus returns the latest submission for the current level
func (h *Handler) SubmissionStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.CurrentSubmissionStatus(r.Context(), chi.URLParam(r, "teamID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, view)
}
