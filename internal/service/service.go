package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"

	"github.com/photo-hunt/internal/config"
	"github.com/photo-hunt/internal/domain"
)

// Options wires the engine to its collaborators. Cache, Clock, Random and
// Publishers are optional.
type Options struct {
	Store       Store
	Oracle      SimilarityOracle
	Cache       StandingsCache
	Publishers  []Publisher
	Clock       clockwork.Clock
	Random      RandomSource
	Game        config.GameConfig
	Leaderboard config.LeaderboardConfig
	Logger      *slog.Logger
}

// Service is the progression and arbitration engine plus the team, level
// and query operations the routing layer needs.
type Service struct {
	Assignment  *AssignmentEngine
	Arbiter     *Arbiter
	Progression *ProgressionController
	Ranking     *RankingEngine
	Game        *GameController
	Events      *Fanout

	store      Store
	clock      clockwork.Clock
	finalLevel int
	logger     *slog.Logger
}

// New builds the engine
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	finalLevel := opts.Game.FinalLevel()

	events := NewFanout(logger, opts.Publishers...)
	teams := newTeamMutator(opts.Store, opts.Game.TeamLockRetries, logger)

	ranking := &RankingEngine{
		teams:       opts.Store,
		submissions: opts.Store,
		cache:       opts.Cache,
		events:      events,
		clock:       clock,
		limits:      opts.Leaderboard,
		invalidated: make(chan struct{}, 1),
		logger:      logger.With("component", "ranking"),
	}
	game := &GameController{
		store:      opts.Store,
		levels:     opts.Store,
		ranking:    ranking,
		events:     events,
		clock:      clock,
		finalLevel: finalLevel,
		logger:     logger.With("component", "game"),
	}
	assignment := newAssignmentEngine(opts.Store, teams, clock, opts.Random, finalLevel, logger.With("component", "assignment"))
	progression := &ProgressionController{
		teams:      teams,
		assignment: assignment,
		game:       game,
		clock:      clock,
		finalLevel: finalLevel,
		logger:     logger.With("component", "progression"),
	}
	arbiter := &Arbiter{
		teams:       teams,
		levels:      opts.Store,
		submissions: opts.Store,
		oracle:      opts.Oracle,
		game:        game,
		progression: progression,
		ranking:     ranking,
		events:      events,
		clock:       clock,
		threshold:   opts.Game.Threshold,
		logger:      logger.With("component", "arbiter"),
	}

	return &Service{
		Assignment:  assignment,
		Arbiter:     arbiter,
		Progression: progression,
		Ranking:     ranking,
		Game:        game,
		Events:      events,
		store:       opts.Store,
		clock:       clock,
		finalLevel:  finalLevel,
		logger:      logger,
	}
}

// Ping checks the store is reachable
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// RegisterTeam creates a team at level 1. Names are unique ignoring case.
func (s *Service) RegisterTeam(ctx context.Context, req domain.RegisterTeamRequest) (*domain.Team, error) {
	name := domain.NormalizeTeamName(req.TeamName)
	var issues []string
	if name == "" {
		issues = append(issues, "team name is required")
	}
	if req.Password == "" {
		issues = append(issues, "password is required")
	}
	if strings.TrimSpace(req.Leader.Name) == "" {
		issues = append(issues, "leader name is required")
	}
	if len(req.Members) == 0 {
		issues = append(issues, "at least one member is required")
	}
	if len(issues) > 0 {
		return nil, &domain.ValidationError{Message: "invalid team registration", Issues: issues}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, domain.ErrInvalidRequest.Wrap(err)
	}

	team := &domain.Team{
		ID:           uuid.NewString(),
		Name:         name,
		PasswordHash: string(hash),
		Leader:       req.Leader,
		Members:      req.Members,
		CurrentLevel: 1,
		RegisteredAt: s.clock.Now(),
	}
	if err := s.store.CreateTeam(ctx, team); err != nil {
		return nil, err
	}

	s.logger.Info("team registered", "team_id", team.ID, "team_name", team.Name)
	s.Ranking.Invalidate()
	return team, nil
}

// Authenticate checks a team's credentials. A wrong password reports the
// team as not found.
func (s *Service) Authenticate(ctx context.Context, name, password string) (*domain.Team, error) {
	team, err := s.store.GetTeamByName(ctx, domain.NormalizeTeamName(name))
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(team.PasswordHash), []byte(password)); err != nil {
		return nil, domain.ErrTeamNotFound
	}
	return team, nil
}

// CreateLevel adds a level to the catalog. The last level is final.
func (s *Service) CreateLevel(ctx context.Context, req domain.CreateLevelRequest) (*domain.Level, error) {
	if req.LevelNumber < 1 || req.LevelNumber > s.finalLevel {
		return nil, domain.ErrInvalidLevel
	}
	if strings.TrimSpace(req.Hint) == "" {
		return nil, domain.ErrInvalidRequest.Wrap(errors.New("hint is required"))
	}
	images, err := s.newImages(req.Images)
	if err != nil {
		return nil, err
	}

	level := &domain.Level{
		LevelNumber: req.LevelNumber,
		IsFinal:     req.LevelNumber == s.finalLevel,
		Hint:        req.Hint,
		Description: req.Description,
		ImagesPool:  images,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.store.CreateLevel(ctx, level); err != nil {
		return nil, err
	}
	s.logger.Info("level created", "level", level.LevelNumber, "images", len(images))
	return level, nil
}

// UpdateLevel edits a level's text and appends images to its pool
func (s *Service) UpdateLevel(ctx context.Context, levelNumber int, req domain.UpdateLevelRequest) (*domain.Level, error) {
	if req.Hint != nil && strings.TrimSpace(*req.Hint) == "" {
		return nil, domain.ErrInvalidRequest.Wrap(errors.New("hint cannot be empty"))
	}
	images, err := s.newImages(req.Images)
	if err != nil {
		return nil, err
	}
	return s.store.UpdateLevel(ctx, levelNumber, req.Hint, req.Description, images)
}

// DeleteLevel removes a level. Not allowed while the game runs.
func (s *Service) DeleteLevel(ctx context.Context, levelNumber int) error {
	if err := s.Game.RequireRunning(ctx); err == nil {
		return domain.ErrGameRunning
	} else if !errors.Is(err, domain.ErrGameNotRunning) {
		return err
	}
	return s.store.DeleteLevel(ctx, levelNumber)
}

// GetLevel returns one level
func (s *Service) GetLevel(ctx context.Context, levelNumber int) (*domain.Level, error) {
	return s.store.GetLevel(ctx, levelNumber)
}

// ListLevels returns the catalog ordered by level number
func (s *Service) ListLevels(ctx context.Context) ([]domain.Level, error) {
	return s.store.ListLevels(ctx)
}

func (s *Service) newImages(in []domain.NewLevelImage) ([]domain.LevelImage, error) {
	images := make([]domain.LevelImage, 0, len(in))
	for i, img := range in {
		if strings.TrimSpace(img.URL) == "" {
			return nil, domain.ErrInvalidRequest.Wrap(fmt.Errorf("image %d has no url", i))
		}
		images = append(images, domain.LevelImage{
			ID:       uuid.NewString(),
			URL:      img.URL,
			Metadata: img.Metadata,
		})
	}
	return images, nil
}

// GetProgress describes where a team stands. While the game runs, a
// missing assignment for the current level is created on the way.
func (s *Service) GetProgress(ctx context.Context, teamID string) (*domain.TeamProgress, error) {
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	state, err := s.Game.State(ctx)
	if err != nil {
		return nil, err
	}

	if state.IsRunning {
		if team, err = s.catchUp(ctx, team); err != nil {
			return nil, err
		}
	}
	if team.HasCompleted(s.finalLevel) && !state.HasWinner() {
		result, err := s.Progression.OnLevelApproved(ctx, team.ID, s.finalLevel)
		if err != nil {
			s.logger.Warn("winner declaration failed again", "team_id", team.ID, "error", err)
		} else if result.Winner {
			state.WinnerTeamID = team.ID
		}
	}

	progress := &domain.TeamProgress{
		TeamID:          team.ID,
		TeamName:        team.Name,
		CurrentLevel:    team.CurrentLevel,
		CompletedLevels: len(team.CompletedLevels),
		TotalLevels:     s.finalLevel,
		Finished:        team.HasCompleted(s.finalLevel),
		IsWinner:        state.WinnerTeamID == team.ID,
	}
	if a, ok := team.Assignment(team.CurrentLevel); ok {
		level, err := s.store.GetLevel(ctx, a.LevelNumber)
		if err != nil {
			s.logger.Warn("assigned level missing", "team_id", team.ID, "level", a.LevelNumber, "error", err)
			return progress, nil
		}
		view := &domain.AssignedImageView{
			ImageID:     a.ImageID,
			Hint:        level.Hint,
			Description: level.Description,
		}
		if img, ok := level.Image(a.ImageID); ok {
			view.URL = img.URL
		}
		progress.AssignedImage = view
	}
	return progress, nil
}

// catchUp assigns the current level if needed, and advances a team whose
// current level was completed without unlocking the next one.
func (s *Service) catchUp(ctx context.Context, team *domain.Team) (*domain.Team, error) {
	changed := false
	if team.HasCompleted(team.CurrentLevel) {
		if team.CurrentLevel >= s.finalLevel {
			return team, nil
		}
		if _, err := s.Assignment.Advance(ctx, team.ID); err != nil {
			return nil, err
		}
		changed = true
	} else if _, ok := team.Assignment(team.CurrentLevel); !ok {
		if _, err := s.Assignment.Assign(ctx, team.ID, team.CurrentLevel); err != nil {
			return nil, err
		}
		changed = true
	}
	if !changed {
		return team, nil
	}
	return s.store.GetTeam(ctx, team.ID)
}

// SubmissionHistory lists a team's submissions, newest first
func (s *Service) SubmissionHistory(ctx context.Context, teamID string) ([]domain.Submission, error) {
	if _, err := s.store.GetTeam(ctx, teamID); err != nil {
		return nil, err
	}
	return s.store.ListSubmissionsByTeam(ctx, teamID)
}

// CurrentSubmissionStatus returns the latest submission for the team's
// current level, if any
func (s *Service) CurrentSubmissionStatus(ctx context.Context, teamID string) (*domain.SubmissionStatusView, error) {
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	view := &domain.SubmissionStatusView{CurrentLevel: team.CurrentLevel}
	sub, err := s.store.LatestSubmission(ctx, teamID, team.CurrentLevel)
	switch {
	case err == nil:
		view.HasSubmission = true
		view.Submission = sub
	case !domain.IsNotFoundError(err):
		return nil, err
	}
	return view, nil
}

// PendingSubmissions is the review queue, newest first
func (s *Service) PendingSubmissions(ctx context.Context) ([]domain.Submission, error) {
	return s.store.ListSubmissionsByStatus(ctx, domain.SubmissionPending)
}
