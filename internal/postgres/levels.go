package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/photo-hunt/internal/domain"
)

const levelColumns = `level_number, is_final, hint, description, images_pool, created_at`

// CreateLevel inserts a level
func (r *Repository) CreateLevel(ctx context.Context, level *domain.Level) error {
	pool, err := json.Marshal(nonNil(level.ImagesPool))
	if err != nil {
		return fmt.Errorf("marshaling images: %w", err)
	}

	query := `INSERT INTO levels (` + levelColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = r.pool.Exec(ctx, query,
		level.LevelNumber,
		level.IsFinal,
		level.Hint,
		level.Description,
		pool,
		level.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrLevelExists
		}
		return fmt.Errorf("creating level: %w", err)
	}
	return nil
}

// GetLevel retrieves a level by number
func (r *Repository) GetLevel(ctx context.Context, levelNumber int) (*domain.Level, error) {
	query := `SELECT ` + levelColumns + ` FROM levels WHERE level_number = $1`
	level, err := scanLevel(r.pool.QueryRow(ctx, query, levelNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrLevelNotFound
		}
		return nil, fmt.Errorf("getting level: %w", err)
	}
	return level, nil
}

// ListLevels retrieves all levels ordered by number
func (r *Repository) ListLevels(ctx context.Context) ([]domain.Level, error) {
	query := `SELECT ` + levelColumns + ` FROM levels ORDER BY level_number`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing levels: %w", err)
	}
	defer rows.Close()

	levels := []domain.Level{}
	for rows.Next() {
		level, err := scanLevel(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning level: %w", err)
		}
		levels = append(levels, *level)
	}
	return levels, rows.Err()
}

// UpdateLevel sets the non-nil fields and appends images to the pool in a
// single statement
func (r *Repository) UpdateLevel(ctx context.Context, levelNumber int, hint, description *string, images []domain.LevelImage) (*domain.Level, error) {
	added, err := json.Marshal(nonNil(images))
	if err != nil {
		return nil, fmt.Errorf("marshaling images: %w", err)
	}

	query := `
		UPDATE levels
		SET hint = COALESCE($2, hint),
			description = COALESCE($3, description),
			images_pool = images_pool || $4::jsonb
		WHERE level_number = $1
		RETURNING ` + levelColumns
	level, err := scanLevel(r.pool.QueryRow(ctx, query, levelNumber, hint, description, added))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrLevelNotFound
		}
		return nil, fmt.Errorf("updating level: %w", err)
	}
	return level, nil
}

// DeleteLevel removes a level
func (r *Repository) DeleteLevel(ctx context.Context, levelNumber int) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM levels WHERE level_number = $1`, levelNumber)
	if err != nil {
		return fmt.Errorf("deleting level: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrLevelNotFound
	}
	return nil
}

func scanLevel(row pgx.Row) (*domain.Level, error) {
	var level domain.Level
	var pool []byte
	err := row.Scan(
		&level.LevelNumber,
		&level.IsFinal,
		&level.Hint,
		&level.Description,
		&pool,
		&level.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(pool, &level.ImagesPool); err != nil {
		return nil, fmt.Errorf("unmarshaling images: %w", err)
	}
	return &level, nil
}
