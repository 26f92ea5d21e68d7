package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/photo-hunt/internal/domain"
)

// ProgressionResult describes what an approval did to a team
type ProgressionResult struct {
	Team *domain.Team
	// Completed is false when the level had already been completed.
	Completed bool
	NextLevel int
	Final     bool
	Winner    bool
}

// ProgressionController records completed levels and moves teams forward
type ProgressionController struct {
	teams      *teamMutator
	assignment *AssignmentEngine
	game       *GameController
	clock      clockwork.Clock
	finalLevel int
	logger     *slog.Logger
}

// OnLevelApproved marks levelNumber completed for the team. Non-final
// levels unlock the next one in the same write; the final level triggers
// winner determination instead. Calling it again for a completed level
// does nothing, except that a finished team is offered the win again when
// no winner was recorded.
func (p *ProgressionController) OnLevelApproved(ctx context.Context, teamID string, levelNumber int) (*ProgressionResult, error) {
	team, err := p.teams.teams.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	final := levelNumber == p.finalLevel
	if team.HasCompleted(levelNumber) {
		result := &ProgressionResult{Team: team, Final: final}
		if final {
			won, err := p.retryWinner(ctx, team)
			result.Winner = won
			return result, err
		}
		return result, nil
	}

	var next domain.Assignment
	var pickErr error
	if !final {
		var ok bool
		if next, ok = team.Assignment(levelNumber + 1); !ok {
			next, pickErr = p.assignment.pick(ctx, levelNumber+1)
		}
	}

	completedAt := p.clock.Now()
	var result ProgressionResult
	updated, err := p.teams.mutate(ctx, teamID, func(t *domain.Team) (bool, error) {
		result = ProgressionResult{Final: final}
		if t.HasCompleted(levelNumber) {
			return false, nil
		}
		if levelNumber > t.CurrentLevel {
			return false, domain.ErrLevelNotReached
		}
		t.CompletedLevels = append(t.CompletedLevels, domain.CompletedLevel{
			LevelNumber: levelNumber,
			CompletedAt: completedAt,
		})
		result.Completed = true
		if !final && pickErr == nil && t.CurrentLevel == levelNumber {
			advanceTo(t, next)
			result.NextLevel = next.LevelNumber
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("recording level %d completion: %w", levelNumber, err)
	}
	result.Team = updated

	if !result.Completed {
		return &result, nil
	}

	p.logger.Info("level completed",
		"team_id", teamID,
		"level", levelNumber,
		"next_level", result.NextLevel,
	)

	if pickErr != nil {
		return &result, fmt.Errorf("unlocking level %d: %w", levelNumber+1, pickErr)
	}

	if final {
		won, err := p.game.declareWinner(ctx, updated, completedAt)
		if err != nil {
			return &result, err
		}
		result.Winner = won
	}
	return &result, nil
}

// retryWinner declares a team that already finished the final level when
// an earlier declaration did not land. It is a no-op once anyone has won.
func (p *ProgressionController) retryWinner(ctx context.Context, team *domain.Team) (bool, error) {
	state, err := p.game.State(ctx)
	if err != nil {
		return false, err
	}
	if state.HasWinner() {
		return false, nil
	}
	completedAt, _ := team.CompletionTime(p.finalLevel)
	p.logger.Warn("retrying winner declaration", "team_id", team.ID)
	return p.game.declareWinner(ctx, team, completedAt)
}
