package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/photo-hunt/internal/domain"
)

const gameColumns = `is_running, started_at, paused_at, winner_team_id, winner_declared_at, version, updated_at`

// GetGameState retrieves the game singleton, creating it on first use
func (r *Repository) GetGameState(ctx context.Context) (*domain.GameState, error) {
	query := `SELECT ` + gameColumns + ` FROM game_state WHERE id = 1`
	state, err := scanGameState(r.pool.QueryRow(ctx, query))
	if errors.Is(err, pgx.ErrNoRows) {
		if err := r.ensureGameState(ctx); err != nil {
			return nil, err
		}
		state, err = scanGameState(r.pool.QueryRow(ctx, query))
	}
	if err != nil {
		return nil, fmt.Errorf("getting game state: %w", err)
	}
	return state, nil
}

// ensureGameState inserts the singleton row; concurrent callers create it
// once
func (r *Repository) ensureGameState(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO game_state (id, is_running, version, updated_at)
		VALUES (1, FALSE, 1, $1)
		ON CONFLICT (id) DO NOTHING
	`, time.Now())
	if err != nil {
		return fmt.Errorf("creating game state: %w", err)
	}
	return nil
}

// UpdateGameState writes the run state if its version is unchanged. The
// winner fields are only written by DeclareWinner and ResetGame, except
// that a start may clear them.
func (r *Repository) UpdateGameState(ctx context.Context, state *domain.GameState) error {
	query := `
		UPDATE game_state
		SET is_running = $2, started_at = $3, paused_at = $4,
			winner_team_id = CASE WHEN $5::text IS NULL THEN NULL ELSE winner_team_id END,
			winner_declared_at = CASE WHEN $5::text IS NULL THEN NULL ELSE winner_declared_at END,
			version = version + 1, updated_at = $6
		WHERE id = 1 AND version = $1
	`
	result, err := r.pool.Exec(ctx, query,
		state.Version,
		state.IsRunning,
		state.StartedAt,
		state.PausedAt,
		nullable(state.WinnerTeamID),
		state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating game state: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	state.Version++
	return nil
}

// DeclareWinner sets the winner only while none is recorded
func (r *Repository) DeclareWinner(ctx context.Context, teamID string, at time.Time) (bool, error) {
	if err := r.ensureGameState(ctx); err != nil {
		return false, err
	}
	result, err := r.pool.Exec(ctx, `
		UPDATE game_state
		SET winner_team_id = $1, winner_declared_at = $2, updated_at = $2, version = version + 1
		WHERE id = 1 AND winner_team_id IS NULL
	`, teamID, at)
	if err != nil {
		return false, fmt.Errorf("declaring winner: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// ResetGame stops the game, resets all teams and deletes all submissions
// in one transaction
func (r *Repository) ResetGame(ctx context.Context, at time.Time) (*domain.GameState, error) {
	if err := r.ensureGameState(ctx); err != nil {
		return nil, err
	}

	var state *domain.GameState
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		// Lock the singleton first so concurrent resets and winner
		// declarations queue behind this transaction.
		if _, err := tx.Exec(ctx, `SELECT 1 FROM game_state WHERE id = 1 FOR UPDATE`); err != nil {
			return fmt.Errorf("locking game state: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM submissions`); err != nil {
			return fmt.Errorf("deleting submissions: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE teams
			SET current_level = 1, assigned_images = '[]', completed_levels = '[]',
				last_submission_at = NULL, version = version + 1
		`); err != nil {
			return fmt.Errorf("resetting teams: %w", err)
		}

		var err error
		state, err = scanGameState(tx.QueryRow(ctx, `
			UPDATE game_state
			SET is_running = FALSE, started_at = NULL, paused_at = NULL,
				winner_team_id = NULL, winner_declared_at = NULL,
				version = version + 1, updated_at = $1
			WHERE id = 1
			RETURNING `+gameColumns, at))
		if err != nil {
			return fmt.Errorf("resetting game state: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("game data reset")
	return state, nil
}

func scanGameState(row pgx.Row) (*domain.GameState, error) {
	var state domain.GameState
	var winner *string
	err := row.Scan(
		&state.IsRunning,
		&state.StartedAt,
		&state.PausedAt,
		&winner,
		&state.WinnerDeclaredAt,
		&state.Version,
		&state.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if winner != nil {
		state.WinnerTeamID = *winner
	}
	return &state, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
