package service

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/jonboulle/clockwork"

	"github.com/photo-hunt/internal/config"
	"github.com/photo-hunt/internal/domain"
)

// RankingEngine orders teams by levels completed, then elapsed time.
// Standings are snapshots and may trail the mutation that triggered them.
type RankingEngine struct {
	teams       TeamStore
	submissions SubmissionStore
	cache       StandingsCache
	events      *Fanout
	clock       clockwork.Clock
	limits      config.LeaderboardConfig
	invalidated chan struct{}
	logger      *slog.Logger
}

// Compute builds the leaderboard from current team state
func (r *RankingEngine) Compute(ctx context.Context) ([]domain.TeamStanding, error) {
	teams, err := r.teams.ListTeams(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing teams: %w", err)
	}
	firstSubmissions, err := r.submissions.FirstSubmissionTimes(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting first submission times: %w", err)
	}

	standings := make([]domain.TeamStanding, 0, len(teams))
	for i := range teams {
		t := &teams[i]
		s := domain.TeamStanding{
			TeamID:          t.ID,
			TeamName:        t.Name,
			LevelsCompleted: len(t.CompletedLevels),
			CurrentLevel:    t.CurrentLevel,
		}
		if last, ok := t.LastCompletion(); ok {
			s.CompletedAt = &last
			if first, ok := firstSubmissions[t.ID]; ok {
				s.TotalTimeMs = max(last.Sub(first).Milliseconds(), 0)
			}
		}
		s.TotalTimeFormatted = domain.FormatDuration(s.TotalTimeMs)
		standings = append(standings, s)
	}

	slices.SortStableFunc(standings, func(a, b domain.TeamStanding) int {
		if c := cmp.Compare(b.LevelsCompleted, a.LevelsCompleted); c != 0 {
			return c
		}
		return cmp.Compare(a.TotalTimeMs, b.TotalTimeMs)
	})
	for i := range standings {
		standings[i].Rank = int64(i + 1)
	}
	return standings, nil
}

// Refresh computes the leaderboard, stores it in the standings cache and
// broadcasts it.
func (r *RankingEngine) Refresh(ctx context.Context) ([]domain.TeamStanding, error) {
	standings, err := r.Compute(ctx)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		if err := r.cache.ReplaceStandings(ctx, standings); err != nil {
			r.logger.Warn("failed to cache standings", "error", err)
		}
	}
	r.events.Emit(ctx, newEvent(domain.EventLeaderboardUpdate, domain.AudienceAdmin, "", domain.LeaderboardUpdate{
		Standings:  standings,
		TotalTeams: len(standings),
	}, r.clock.Now()))
	return standings, nil
}

// Invalidate asks for a refresh. Requests coalesce until the refresher
// picks them up.
func (r *RankingEngine) Invalidate() {
	select {
	case r.invalidated <- struct{}{}:
	default:
	}
}

// Invalidated fires after Invalidate has been called
func (r *RankingEngine) Invalidated() <-chan struct{} {
	return r.invalidated
}

// TopTeams returns the best n standings
func (r *RankingEngine) TopTeams(ctx context.Context, n int) ([]domain.TeamStanding, error) {
	if n <= 0 {
		n = r.limits.DefaultLimit
	}
	if r.limits.MaxLimit > 0 && n > r.limits.MaxLimit {
		n = r.limits.MaxLimit
	}

	if r.cache != nil {
		standings, err := r.cache.TopStandings(ctx, n)
		if err == nil && len(standings) > 0 {
			return standings, nil
		}
		if err != nil {
			r.logger.Warn("standings cache read failed, computing", "error", err)
		}
	}

	standings, err := r.Compute(ctx)
	if err != nil {
		return nil, err
	}
	if len(standings) > n {
		standings = standings[:n]
	}
	return standings, nil
}

// TeamRank returns one team's standing, rank 1 being the leader
func (r *RankingEngine) TeamRank(ctx context.Context, teamID string) (*domain.TeamStanding, error) {
	if r.cache != nil {
		standing, err := r.cache.StandingOf(ctx, teamID)
		if err == nil {
			return standing, nil
		}
		if !domain.IsNotFoundError(err) {
			r.logger.Warn("standings cache read failed, computing", "error", err)
		}
	}

	standings, err := r.Compute(ctx)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(standings, func(s domain.TeamStanding) bool { return s.TeamID == teamID })
	if i < 0 {
		return nil, domain.ErrStandingNotFound
	}
	return &standings[i], nil
}
