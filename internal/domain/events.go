package domain

import "time"

// Event names
const (
	EventSubmissionPending  = "submission:pending"
	EventSubmissionResult   = "submission:result"
	EventSubmissionReviewed = "submission:reviewed"
	EventLevelUnlocked      = "level:unlocked"
	EventLeaderboardUpdate  = "leaderboard:update"
	EventGameStarted        = "game:started"
	EventGamePaused         = "game:paused"
	EventGameReset          = "game:reset"
	EventGameWinner         = "game:winner"
)

// Audience says who should receive an event
type Audience string

const (
	AudienceAdmin        Audience = "admin"
	AudienceTeam         Audience = "team"
	AudienceTeamAndAdmin Audience = "team_admin"
	AudienceAll          Audience = "all"
)

// Event describes something that happened after a state change committed.
// Events are delivered best-effort.
type Event struct {
	Name      string    `json:"name"`
	Audience  Audience  `json:"audience"`
	TeamID    string    `json:"team_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SubmissionEventPayload is carried by submission events
type SubmissionEventPayload struct {
	SubmissionID    string           `json:"submission_id"`
	TeamName        string           `json:"team_name,omitempty"`
	LevelNumber     int              `json:"level_number"`
	Status          SubmissionStatus `json:"status"`
	SimilarityScore float64          `json:"similarity_score"`
	AutoDecision    bool             `json:"auto_decision"`
	ReviewerID      string           `json:"reviewer_id,omitempty"`
	Reason          string           `json:"reason,omitempty"`
}

// LevelUnlockedPayload is carried by level:unlocked
type LevelUnlockedPayload struct {
	NextLevelNumber int `json:"next_level_number"`
}

// WinnerPayload is carried by game:winner
type WinnerPayload struct {
	TeamID      string    `json:"team_id"`
	TeamName    string    `json:"team_name"`
	CompletedAt time.Time `json:"completed_at"`
}

// EventEnvelope carries an event between instances. Origin identifies the
// instance that produced it so relays can skip their own events.
type EventEnvelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}
