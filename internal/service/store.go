package service

import (
	"context"
	"time"

	"github.com/photo-hunt/internal/domain"
)

// TeamStore persists teams. UpdateTeam is a compare-and-swap on
// team.Version: it fails with domain.ErrVersionConflict when the stored
// version differs and bumps team.Version on success.
type TeamStore interface {
	CreateTeam(ctx context.Context, team *domain.Team) error
	GetTeam(ctx context.Context, teamID string) (*domain.Team, error)
	GetTeamByName(ctx context.Context, name string) (*domain.Team, error)
	ListTeams(ctx context.Context) ([]domain.Team, error)
	UpdateTeam(ctx context.Context, team *domain.Team) error
}

// LevelStore persists the level catalog
type LevelStore interface {
	CreateLevel(ctx context.Context, level *domain.Level) error
	GetLevel(ctx context.Context, levelNumber int) (*domain.Level, error)
	ListLevels(ctx context.Context) ([]domain.Level, error)
	// UpdateLevel sets the non-nil fields and appends images to the pool.
	UpdateLevel(ctx context.Context, levelNumber int, hint, description *string, images []domain.LevelImage) (*domain.Level, error)
	DeleteLevel(ctx context.Context, levelNumber int) error
}

// SubmissionStore persists submissions.
//
// CreateSubmission fails with domain.ErrDuplicateSubmission when the team
// already has a pending or approved submission for the level.
// DecideSubmission moves a pending submission to a terminal status and
// fails with domain.ErrNotPending when it is no longer pending.
type SubmissionStore interface {
	CreateSubmission(ctx context.Context, sub *domain.Submission) error
	GetSubmission(ctx context.Context, submissionID string) (*domain.Submission, error)
	FindActiveSubmission(ctx context.Context, teamID string, levelNumber int) (*domain.Submission, error)
	LatestSubmission(ctx context.Context, teamID string, levelNumber int) (*domain.Submission, error)
	ListSubmissionsByTeam(ctx context.Context, teamID string) ([]domain.Submission, error)
	ListSubmissionsByStatus(ctx context.Context, status domain.SubmissionStatus) ([]domain.Submission, error)
	DecideSubmission(ctx context.Context, submissionID string, status domain.SubmissionStatus, auto bool, reviewer *domain.Reviewer) (*domain.Submission, error)
	FirstSubmissionTimes(ctx context.Context) (map[string]time.Time, error)
}

// GameStateStore persists the game singleton. GetGameState creates the
// row on first use. UpdateGameState is a compare-and-swap on Version.
// DeclareWinner sets the winner only while none is set and reports
// whether this call won. ResetGame stops the game, clears every team's
// progression and deletes all submissions as one unit.
type GameStateStore interface {
	GetGameState(ctx context.Context) (*domain.GameState, error)
	UpdateGameState(ctx context.Context, state *domain.GameState) error
	DeclareWinner(ctx context.Context, teamID string, at time.Time) (bool, error)
	ResetGame(ctx context.Context, at time.Time) (*domain.GameState, error)
}

// Store is the full persistence contract of the engine
type Store interface {
	TeamStore
	LevelStore
	SubmissionStore
	GameStateStore
	Ping(ctx context.Context) error
}

// SimilarityOracle scores a candidate photograph against a reference
// image. Scores are in [0,100].
type SimilarityOracle interface {
	Score(ctx context.Context, referenceRef, candidateRef string) (float64, error)
}

// Publisher delivers domain events to one transport
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// StandingsCache holds the latest leaderboard snapshot for fast reads
type StandingsCache interface {
	ReplaceStandings(ctx context.Context, standings []domain.TeamStanding) error
	TopStandings(ctx context.Context, n int) ([]domain.TeamStanding, error)
	StandingOf(ctx context.Context, teamID string) (*domain.TeamStanding, error)
}
