// Package memory is an in-process implementation of the engine's store.
// It honours the same conditional-update contract as the postgres store
// and is meant for tests and single-instance local runs.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/photo-hunt/internal/domain"
)

// Store keeps all records behind one lock and hands out copies
type Store struct {
	mu          sync.RWMutex
	teams       map[string]*domain.Team
	levels      map[int]*domain.Level
	submissions map[string]*domain.Submission
	game        *domain.GameState
}

// New creates an empty store
func New() *Store {
	return &Store{
		teams:       make(map[string]*domain.Team),
		levels:      make(map[int]*domain.Level),
		submissions: make(map[string]*domain.Submission),
	}
}

// Ping always succeeds
func (s *Store) Ping(context.Context) error { return nil }

// CreateTeam inserts a team with version 1
func (s *Store) CreateTeam(_ context.Context, team *domain.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.teams[team.ID]; ok {
		return domain.ErrTeamNameTaken
	}
	for _, t := range s.teams {
		if t.Name == team.Name {
			return domain.ErrTeamNameTaken
		}
	}
	team.Version = 1
	s.teams[team.ID] = team.Clone()
	return nil
}

// GetTeam returns a copy of the team
func (s *Store) GetTeam(_ context.Context, teamID string) (*domain.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.teams[teamID]
	if !ok {
		return nil, domain.ErrTeamNotFound
	}
	return t.Clone(), nil
}

// GetTeamByName looks a team up by its normalized name
func (s *Store) GetTeamByName(_ context.Context, name string) (*domain.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.teams {
		if t.Name == name {
			return t.Clone(), nil
		}
	}
	return nil, domain.ErrTeamNotFound
}

// ListTeams returns teams in registration order
func (s *Store) ListTeams(context.Context) ([]domain.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	teams := make([]domain.Team, 0, len(s.teams))
	for _, t := range s.teams {
		teams = append(teams, *t.Clone())
	}
	slices.SortFunc(teams, func(a, b domain.Team) int {
		if c := a.RegisteredAt.Compare(b.RegisteredAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return teams, nil
}

// UpdateTeam writes the team if its version is still current
func (s *Store) UpdateTeam(_ context.Context, team *domain.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.teams[team.ID]
	if !ok {
		return domain.ErrTeamNotFound
	}
	if current.Version != team.Version {
		return domain.ErrVersionConflict
	}
	team.Version++
	s.teams[team.ID] = team.Clone()
	return nil
}

// CreateLevel inserts a level
func (s *Store) CreateLevel(_ context.Context, level *domain.Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.levels[level.LevelNumber]; ok {
		return domain.ErrLevelExists
	}
	s.levels[level.LevelNumber] = level.Clone()
	return nil
}

// GetLevel returns a copy of the level
func (s *Store) GetLevel(_ context.Context, levelNumber int) (*domain.Level, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.levels[levelNumber]
	if !ok {
		return nil, domain.ErrLevelNotFound
	}
	return l.Clone(), nil
}

// ListLevels returns levels ordered by number
func (s *Store) ListLevels(context.Context) ([]domain.Level, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	levels := make([]domain.Level, 0, len(s.levels))
	for _, l := range s.levels {
		levels = append(levels, *l.Clone())
	}
	slices.SortFunc(levels, func(a, b domain.Level) int {
		return cmp.Compare(a.LevelNumber, b.LevelNumber)
	})
	return levels, nil
}

// UpdateLevel sets the given fields and appends images
func (s *Store) UpdateLevel(_ context.Context, levelNumber int, hint, description *string, images []domain.LevelImage) (*domain.Level, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.levels[levelNumber]
	if !ok {
		return nil, domain.ErrLevelNotFound
	}
	l := current.Clone()
	if hint != nil {
		l.Hint = *hint
	}
	if description != nil {
		l.Description = *description
	}
	l.ImagesPool = append(l.ImagesPool, images...)
	s.levels[levelNumber] = l
	return l.Clone(), nil
}

// DeleteLevel removes a level
func (s *Store) DeleteLevel(_ context.Context, levelNumber int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.levels[levelNumber]; !ok {
		return domain.ErrLevelNotFound
	}
	delete(s.levels, levelNumber)
	return nil
}

// CreateSubmission inserts a submission unless an active one exists for
// the same team and level
func (s *Store) CreateSubmission(_ context.Context, sub *domain.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.Status.IsActive() && s.activeLocked(sub.TeamID, sub.LevelNumber) != nil {
		return domain.ErrDuplicateSubmission
	}
	s.submissions[sub.ID] = sub.Clone()
	return nil
}

// GetSubmission returns a copy of the submission
func (s *Store) GetSubmission(_ context.Context, submissionID string) (*domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.submissions[submissionID]
	if !ok {
		return nil, domain.ErrSubmissionNotFound
	}
	return sub.Clone(), nil
}

// FindActiveSubmission returns the pending or approved submission for a
// team and level
func (s *Store) FindActiveSubmission(_ context.Context, teamID string, levelNumber int) (*domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub := s.activeLocked(teamID, levelNumber); sub != nil {
		return sub.Clone(), nil
	}
	return nil, domain.ErrSubmissionNotFound
}

func (s *Store) activeLocked(teamID string, levelNumber int) *domain.Submission {
	for _, sub := range s.submissions {
		if sub.TeamID == teamID && sub.LevelNumber == levelNumber && sub.Status.IsActive() {
			return sub
		}
	}
	return nil
}

// LatestSubmission returns the newest submission for a team and level
func (s *Store) LatestSubmission(_ context.Context, teamID string, levelNumber int) (*domain.Submission, error) {
	subs := s.filter(func(sub *domain.Submission) bool {
		return sub.TeamID == teamID && sub.LevelNumber == levelNumber
	})
	if len(subs) == 0 {
		return nil, domain.ErrSubmissionNotFound
	}
	return &subs[0], nil
}

// ListSubmissionsByTeam returns a team's submissions, newest first
func (s *Store) ListSubmissionsByTeam(_ context.Context, teamID string) ([]domain.Submission, error) {
	return s.filter(func(sub *domain.Submission) bool { return sub.TeamID == teamID }), nil
}

// ListSubmissionsByStatus returns submissions in a status, newest first
func (s *Store) ListSubmissionsByStatus(_ context.Context, status domain.SubmissionStatus) ([]domain.Submission, error) {
	return s.filter(func(sub *domain.Submission) bool { return sub.Status == status }), nil
}

func (s *Store) filter(keep func(*domain.Submission) bool) []domain.Submission {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Submission{}
	for _, sub := range s.submissions {
		if keep(sub) {
			out = append(out, *sub.Clone())
		}
	}
	slices.SortFunc(out, func(a, b domain.Submission) int {
		if c := b.SubmittedAt.Compare(a.SubmittedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out
}

// DecideSubmission moves a pending submission to status
func (s *Store) DecideSubmission(_ context.Context, submissionID string, status domain.SubmissionStatus, auto bool, reviewer *domain.Reviewer) (*domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[submissionID]
	if !ok {
		return nil, domain.ErrSubmissionNotFound
	}
	if sub.Status != domain.SubmissionPending {
		return nil, domain.ErrNotPending
	}
	sub.Status = status
	sub.AutoDecision = auto
	if reviewer != nil {
		r := *reviewer
		sub.Reviewer = &r
	}
	return sub.Clone(), nil
}

// FirstSubmissionTimes returns each team's earliest submission time
func (s *Store) FirstSubmissionTimes(context.Context) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	first := make(map[string]time.Time)
	for _, sub := range s.submissions {
		if t, ok := first[sub.TeamID]; !ok || sub.SubmittedAt.Before(t) {
			first[sub.TeamID] = sub.SubmittedAt
		}
	}
	return first, nil
}

// GetGameState returns the game state, creating it on first use
func (s *Store) GetGameState(context.Context) (*domain.GameState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.gameLocked().Clone(), nil
}

func (s *Store) gameLocked() *domain.GameState {
	if s.game == nil {
		s.game = &domain.GameState{Version: 1, UpdatedAt: time.Now()}
	}
	return s.game
}

// UpdateGameState writes the state if its version is still current
func (s *Store) UpdateGameState(_ context.Context, state *domain.GameState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gameLocked().Version != state.Version {
		return domain.ErrVersionConflict
	}
	state.Version++
	s.game = state.Clone()
	return nil
}

// DeclareWinner sets the winner if none is set yet
func (s *Store) DeclareWinner(_ context.Context, teamID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.gameLocked()
	if g.HasWinner() {
		return false, nil
	}
	g.WinnerTeamID = teamID
	g.WinnerDeclaredAt = &at
	g.UpdatedAt = at
	g.Version++
	return true, nil
}

// ResetGame stops the game, resets every team and drops all submissions
func (s *Store) ResetGame(_ context.Context, at time.Time) (*domain.GameState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.gameLocked()
	s.game = &domain.GameState{Version: g.Version + 1, UpdatedAt: at}
	for _, t := range s.teams {
		t.ResetProgress()
		t.Version++
	}
	clear(s.submissions)
	return s.game.Clone(), nil
}
