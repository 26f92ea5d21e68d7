package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/photo-hunt/internal/domain"
)

const teamColumns = `id, name, password_hash, leader, members, current_level,
	assigned_images, completed_levels, registered_at, last_submission_at, version`

// CreateTeam inserts a new team
func (r *Repository) CreateTeam(ctx context.Context, team *domain.Team) error {
	leader, members, assigned, completed, err := encodeTeam(team)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO teams (` + teamColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
	`
	_, err = r.pool.Exec(ctx, query,
		team.ID,
		team.Name,
		team.PasswordHash,
		leader,
		members,
		team.CurrentLevel,
		assigned,
		completed,
		team.RegisteredAt,
		team.LastSubmissionAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrTeamNameTaken
		}
		return fmt.Errorf("creating team: %w", err)
	}
	team.Version = 1
	return nil
}

// GetTeam retrieves a team by ID
func (r *Repository) GetTeam(ctx context.Context, teamID string) (*domain.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams WHERE id = $1`
	return r.getTeam(ctx, query, teamID)
}

// GetTeamByName retrieves a team by its normalized name
func (r *Repository) GetTeamByName(ctx context.Context, name string) (*domain.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams WHERE name = $1`
	return r.getTeam(ctx, query, name)
}

func (r *Repository) getTeam(ctx context.Context, query string, arg any) (*domain.Team, error) {
	team, err := scanTeam(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTeamNotFound
		}
		return nil, fmt.Errorf("getting team: %w", err)
	}
	return team, nil
}

// ListTeams retrieves all teams in registration order
func (r *Repository) ListTeams(ctx context.Context) ([]domain.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams ORDER BY registered_at, id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing teams: %w", err)
	}
	defer rows.Close()

	teams := []domain.Team{}
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning team: %w", err)
		}
		teams = append(teams, *team)
	}
	return teams, rows.Err()
}

// UpdateTeam writes the team's progression if its version is unchanged
func (r *Repository) UpdateTeam(ctx context.Context, team *domain.Team) error {
	_, _, assigned, completed, err := encodeTeam(team)
	if err != nil {
		return err
	}

	query := `
		UPDATE teams
		SET current_level = $3, assigned_images = $4, completed_levels = $5,
			last_submission_at = $6, version = version + 1
		WHERE id = $1 AND version = $2
	`
	result, err := r.pool.Exec(ctx, query,
		team.ID,
		team.Version,
		team.CurrentLevel,
		assigned,
		completed,
		team.LastSubmissionAt,
	)
	if err != nil {
		return fmt.Errorf("updating team: %w", err)
	}
	if result.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM teams WHERE id = $1)`, team.ID).Scan(&exists); err != nil {
			return fmt.Errorf("checking team existence: %w", err)
		}
		if !exists {
			return domain.ErrTeamNotFound
		}
		return domain.ErrVersionConflict
	}
	team.Version++
	return nil
}

func encodeTeam(team *domain.Team) (leader, members, assigned, completed []byte, err error) {
	if leader, err = json.Marshal(team.Leader); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshaling leader: %w", err)
	}
	if members, err = json.Marshal(nonNil(team.Members)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshaling members: %w", err)
	}
	if assigned, err = json.Marshal(nonNil(team.AssignedImages)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshaling assigned images: %w", err)
	}
	if completed, err = json.Marshal(nonNil(team.CompletedLevels)); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshaling completed levels: %w", err)
	}
	return leader, members, assigned, completed, nil
}

func scanTeam(row pgx.Row) (*domain.Team, error) {
	var team domain.Team
	var leader, members, assigned, completed []byte
	err := row.Scan(
		&team.ID,
		&team.Name,
		&team.PasswordHash,
		&leader,
		&members,
		&team.CurrentLevel,
		&assigned,
		&completed,
		&team.RegisteredAt,
		&team.LastSubmissionAt,
		&team.Version,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(leader, &team.Leader); err != nil {
		return nil, fmt.Errorf("unmarshaling leader: %w", err)
	}
	if err := json.Unmarshal(members, &team.Members); err != nil {
		return nil, fmt.Errorf("unmarshaling members: %w", err)
	}
	if err := json.Unmarshal(assigned, &team.AssignedImages); err != nil {
		return nil, fmt.Errorf("unmarshaling assigned images: %w", err)
	}
	if err := json.Unmarshal(completed, &team.CompletedLevels); err != nil {
		return nil, fmt.Errorf("unmarshaling completed levels: %w", err)
	}
	return &team, nil
}

// nonNil keeps empty slices encoding as [] rather than null
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
