package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/jonboulle/clockwork"

	"github.com/photo-hunt/internal/domain"
)

// RandomSource returns a uniform integer in [0,n)
type RandomSource func(n int) int

// AssignmentEngine binds reference images to teams, one per level
type AssignmentEngine struct {
	levels     LevelStore
	teams      *teamMutator
	clock      clockwork.Clock
	random     RandomSource
	finalLevel int
	logger     *slog.Logger
}

func newAssignmentEngine(levels LevelStore, teams *teamMutator, clock clockwork.Clock, random RandomSource, finalLevel int, logger *slog.Logger) *AssignmentEngine {
	if random == nil {
		random = rand.IntN
	}
	return &AssignmentEngine{
		levels:     levels,
		teams:      teams,
		clock:      clock,
		random:     random,
		finalLevel: finalLevel,
		logger:     logger,
	}
}

// Assign returns the team's image for levelNumber, picking one on first
// call. Concurrent callers all observe the first persisted pick.
func (a *AssignmentEngine) Assign(ctx context.Context, teamID string, levelNumber int) (domain.Assignment, error) {
	team, err := a.teams.teams.GetTeam(ctx, teamID)
	if err != nil {
		return domain.Assignment{}, err
	}
	if existing, ok := team.Assignment(levelNumber); ok {
		return existing, nil
	}

	candidate, err := a.pick(ctx, levelNumber)
	if err != nil {
		return domain.Assignment{}, err
	}

	var assigned domain.Assignment
	_, err = a.teams.mutate(ctx, teamID, func(t *domain.Team) (bool, error) {
		var added bool
		assigned, added = assignTo(t, candidate)
		return added, nil
	})
	if err != nil {
		return domain.Assignment{}, fmt.Errorf("assigning level %d: %w", levelNumber, err)
	}

	a.logger.Debug("level assigned",
		"team_id", teamID,
		"level", levelNumber,
		"image_id", assigned.ImageID,
	)
	return assigned, nil
}

// Advance moves the team to the level after its current one and returns
// the assignment for it.
func (a *AssignmentEngine) Advance(ctx context.Context, teamID string) (domain.Assignment, error) {
	team, err := a.teams.teams.GetTeam(ctx, teamID)
	if err != nil {
		return domain.Assignment{}, err
	}
	next := team.CurrentLevel + 1
	if next > a.finalLevel {
		return domain.Assignment{}, domain.ErrLevelRangeExceeded
	}

	candidate, ok := team.Assignment(next)
	if !ok {
		if candidate, err = a.pick(ctx, next); err != nil {
			return domain.Assignment{}, err
		}
	}

	var assigned domain.Assignment
	_, err = a.teams.mutate(ctx, teamID, func(t *domain.Team) (bool, error) {
		if t.CurrentLevel >= next {
			// Someone else advanced the team while we were picking.
			assigned, _ = t.Assignment(next)
			return false, nil
		}
		assigned = advanceTo(t, candidate)
		return true, nil
	})
	if err != nil {
		return domain.Assignment{}, fmt.Errorf("advancing to level %d: %w", next, err)
	}
	return assigned, nil
}

// pick chooses an image from a snapshot of the level's pool without
// persisting it. The final level always hands out the first image.
func (a *AssignmentEngine) pick(ctx context.Context, levelNumber int) (domain.Assignment, error) {
	if levelNumber < 1 || levelNumber > a.finalLevel {
		return domain.Assignment{}, domain.ErrLevelNotFound
	}
	level, err := a.levels.GetLevel(ctx, levelNumber)
	if err != nil {
		return domain.Assignment{}, err
	}
	pool := level.ImagesPool
	if len(pool) == 0 {
		return domain.Assignment{}, domain.ErrEmptyImagePool
	}

	idx := 0
	if levelNumber != a.finalLevel {
		idx = a.random(len(pool))
		if idx < 0 || idx >= len(pool) {
			return domain.Assignment{}, fmt.Errorf("random source returned %d for pool of %d", idx, len(pool))
		}
	}

	return domain.Assignment{
		LevelNumber: levelNumber,
		ImageID:     pool[idx].ID,
		AssignedAt:  a.clock.Now(),
	}, nil
}

// assignTo records candidate on the team unless the level already has an
// assignment, which always wins.
func assignTo(t *domain.Team, candidate domain.Assignment) (domain.Assignment, bool) {
	if existing, ok := t.Assignment(candidate.LevelNumber); ok {
		return existing, false
	}
	t.AssignedImages = append(t.AssignedImages, candidate)
	return candidate, true
}

// advanceTo is the only place a team's current level increases.
func advanceTo(t *domain.Team, next domain.Assignment) domain.Assignment {
	assigned, _ := assignTo(t, next)
	t.CurrentLevel = next.LevelNumber
	return assigned
}
