package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/photo-hunt/internal/domain"
)

// keyedMutex hands out one mutex per key and forgets it once nobody holds
// or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// teamMutator serializes read-modify-write cycles on a team record.
// Within a process the keyed mutex orders writers; across processes the
// store's version check rejects stale writes and the cycle is retried.
type teamMutator struct {
	teams   TeamStore
	locks   keyedMutex
	retries int
	logger  *slog.Logger
}

func newTeamMutator(teams TeamStore, retries int, logger *slog.Logger) *teamMutator {
	if retries < 1 {
		retries = 1
	}
	return &teamMutator{teams: teams, retries: retries, logger: logger}
}

// mutate loads the team, applies fn and writes the result back if fn
// reports a change. fn may run more than once and must only touch the team
// it is given.
func (m *teamMutator) mutate(ctx context.Context, teamID string, fn func(*domain.Team) (bool, error)) (*domain.Team, error) {
	unlock := m.locks.lock(teamID)
	defer unlock()

	for attempt := 1; attempt <= m.retries; attempt++ {
		team, err := m.teams.GetTeam(ctx, teamID)
		if err != nil {
			return nil, err
		}

		changed, err := fn(team)
		if err != nil {
			return nil, err
		}
		if !changed {
			return team, nil
		}

		err = m.teams.UpdateTeam(ctx, team)
		if err == nil {
			return team, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, fmt.Errorf("updating team: %w", err)
		}
		m.logger.Debug("team version conflict, retrying",
			"team_id", teamID,
			"attempt", attempt,
		)
	}
	return nil, domain.ErrVersionConflict
}
