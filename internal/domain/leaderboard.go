package domain

import (
	"fmt"
	"time"
)

// TeamStanding is one row of the leaderboard
type TeamStanding struct {
	Rank               int64      `json:"rank"`
	TeamID             string     `json:"team_id"`
	TeamName           string     `json:"team_name"`
	LevelsCompleted    int        `json:"levels_completed"`
	CurrentLevel       int        `json:"current_level"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	TotalTimeMs        int64      `json:"total_time_ms"`
	TotalTimeFormatted string     `json:"total_time_formatted"`
}

// Ranks reports whether a ranks strictly ahead of b: more levels first,
// then less elapsed time.
func (a TeamStanding) Ranks(b TeamStanding) bool {
	if a.LevelsCompleted != b.LevelsCompleted {
		return a.LevelsCompleted > b.LevelsCompleted
	}
	return a.TotalTimeMs < b.TotalTimeMs
}

// FormatDuration renders milliseconds as HH:MM:SS. Zero and negative
// durations render as 00:00:00.
func FormatDuration(ms int64) string {
	if ms <= 0 {
		return "00:00:00"
	}
	d := time.Duration(ms) * time.Millisecond
	h := int64(d / time.Hour)
	m := int64(d%time.Hour) / int64(time.Minute)
	s := int64(d%time.Minute) / int64(time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// LeaderboardUpdate is the payload broadcast whenever standings change
type LeaderboardUpdate struct {
	Standings  []TeamStanding `json:"standings"`
	TotalTeams int            `json:"total_teams"`
}
