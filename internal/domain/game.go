package domain

import "time"

// GameState is the global run/pause/winner singleton.
//
// WinnerTeamID is set by exactly one winning transition and only cleared
// by start (stale winner of a previous round) or reset.
type GameState struct {
	IsRunning        bool       `json:"is_running"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	PausedAt         *time.Time `json:"paused_at,omitempty"`
	WinnerTeamID     string     `json:"winner_team_id,omitempty"`
	WinnerDeclaredAt *time.Time `json:"winner_declared_at,omitempty"`
	Version          int64      `json:"version"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// HasWinner reports whether a winner has been declared
func (g *GameState) HasWinner() bool {
	return g.WinnerTeamID != ""
}

// Clone returns a deep copy of the state
func (g *GameState) Clone() *GameState {
	c := *g
	c.StartedAt = cloneTime(g.StartedAt)
	c.PausedAt = cloneTime(g.PausedAt)
	c.WinnerDeclaredAt = cloneTime(g.WinnerDeclaredAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
