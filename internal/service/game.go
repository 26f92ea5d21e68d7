package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/photo-hunt/internal/domain"
)

const gameStateRetries = 5

// GameController owns the run/pause/reset/winner singleton
type GameController struct {
	store      GameStateStore
	levels     LevelStore
	ranking    *RankingEngine
	events     *Fanout
	clock      clockwork.Clock
	finalLevel int
	logger     *slog.Logger
}

// State returns the current game state
func (g *GameController) State(ctx context.Context) (*domain.GameState, error) {
	return g.store.GetGameState(ctx)
}

// RequireRunning fails with domain.ErrGameNotRunning unless the game runs
func (g *GameController) RequireRunning(ctx context.Context) error {
	state, err := g.store.GetGameState(ctx)
	if err != nil {
		return fmt.Errorf("getting game state: %w", err)
	}
	if !state.IsRunning {
		return domain.ErrGameNotRunning
	}
	return nil
}

// Start opens the game for submissions once every level has images. A
// winner left over from a previous round is cleared. Starting a running
// game returns its state unchanged.
func (g *GameController) Start(ctx context.Context) (*domain.GameState, error) {
	if err := g.checkLevels(ctx); err != nil {
		return nil, err
	}

	now := g.clock.Now()
	state, changed, err := g.transition(ctx, func(s *domain.GameState) bool {
		if s.IsRunning {
			return false
		}
		s.IsRunning = true
		s.StartedAt = &now
		s.PausedAt = nil
		s.WinnerTeamID = ""
		s.WinnerDeclaredAt = nil
		return true
	})
	if err != nil {
		return nil, err
	}
	if changed {
		g.logger.Info("game started", "started_at", now)
		g.events.Emit(ctx, newEvent(domain.EventGameStarted, domain.AudienceAll, "", state, now))
	}
	return state, nil
}

// Pause stops accepting submissions. Progression is kept.
func (g *GameController) Pause(ctx context.Context) (*domain.GameState, error) {
	now := g.clock.Now()
	state, changed, err := g.transition(ctx, func(s *domain.GameState) bool {
		if !s.IsRunning {
			return false
		}
		s.IsRunning = false
		s.PausedAt = &now
		return true
	})
	if err != nil {
		return nil, err
	}
	if changed {
		g.logger.Info("game paused", "paused_at", now)
		g.events.Emit(ctx, newEvent(domain.EventGamePaused, domain.AudienceAll, "", state, now))
	}
	return state, nil
}

// Reset stops the game and wipes all progression and submissions
func (g *GameController) Reset(ctx context.Context) (*domain.GameState, error) {
	now := g.clock.Now()
	state, err := g.store.ResetGame(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("resetting game: %w", err)
	}
	g.logger.Info("game reset")
	g.events.Emit(ctx, newEvent(domain.EventGameReset, domain.AudienceAll, "", state, now))
	g.ranking.Invalidate()
	return state, nil
}

// declareWinner records team as the winner if nobody has won yet. Only the
// call that wins emits the winner event.
func (g *GameController) declareWinner(ctx context.Context, team *domain.Team, completedAt time.Time) (bool, error) {
	won, err := g.store.DeclareWinner(ctx, team.ID, completedAt)
	if err != nil {
		return false, fmt.Errorf("declaring winner: %w", err)
	}
	if !won {
		g.logger.Info("final level completed after winner was declared", "team_id", team.ID)
		return false, nil
	}

	g.logger.Info("winner declared", "team_id", team.ID, "team_name", team.Name)
	g.events.Emit(ctx, newEvent(domain.EventGameWinner, domain.AudienceAll, team.ID, domain.WinnerPayload{
		TeamID:      team.ID,
		TeamName:    team.Name,
		CompletedAt: completedAt,
	}, completedAt))
	return true, nil
}

// transition applies fn to the stored state with compare-and-swap,
// retrying when another writer got there first.
func (g *GameController) transition(ctx context.Context, fn func(*domain.GameState) bool) (*domain.GameState, bool, error) {
	for range gameStateRetries {
		state, err := g.store.GetGameState(ctx)
		if err != nil {
			return nil, false, fmt.Errorf("getting game state: %w", err)
		}
		if !fn(state) {
			return state, false, nil
		}
		state.UpdatedAt = g.clock.Now()
		err = g.store.UpdateGameState(ctx, state)
		if err == nil {
			return state, true, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, false, fmt.Errorf("updating game state: %w", err)
		}
	}
	return nil, false, domain.ErrVersionConflict
}

// checkLevels lists every level that could not hand out an image
func (g *GameController) checkLevels(ctx context.Context) error {
	levels, err := g.levels.ListLevels(ctx)
	if err != nil {
		return fmt.Errorf("listing levels: %w", err)
	}
	poolSize := make(map[int]int, len(levels))
	for _, l := range levels {
		poolSize[l.LevelNumber] = len(l.ImagesPool)
	}

	var issues []string
	for n := 1; n <= g.finalLevel; n++ {
		if poolSize[n] > 0 {
			continue
		}
		if n == g.finalLevel {
			issues = append(issues, fmt.Sprintf("Final level (%d) has no images", n))
		} else {
			issues = append(issues, fmt.Sprintf("Level %d has no images in pool", n))
		}
	}
	if len(issues) > 0 {
		return &domain.ValidationError{Message: "cannot start game", Issues: issues}
	}
	return nil
}
