package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/photo-hunt/internal/config"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks the database is reachable
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS teams (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			leader JSONB NOT NULL DEFAULT '{}',
			members JSONB NOT NULL DEFAULT '[]',
			current_level INT NOT NULL DEFAULT 1,
			assigned_images JSONB NOT NULL DEFAULT '[]',
			completed_levels JSONB NOT NULL DEFAULT '[]',
			registered_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_submission_at TIMESTAMPTZ,
			version BIGINT NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS levels (
			level_number INT PRIMARY KEY,
			is_final BOOLEAN NOT NULL DEFAULT FALSE,
			hint TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			images_pool JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS submissions (
			id VARCHAR(64) PRIMARY KEY,
			team_id VARCHAR(64) NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
			level_number INT NOT NULL,
			assigned_image_id VARCHAR(64) NOT NULL,
			submitted_image_ref TEXT NOT NULL,
			similarity_score DOUBLE PRECISION NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'pending',
			auto_decision BOOLEAN NOT NULL DEFAULT FALSE,
			reviewer_id VARCHAR(64),
			review_reason TEXT,
			reviewed_at TIMESTAMPTZ,
			submitted_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS game_state (
			id INT PRIMARY KEY CHECK (id = 1),
			is_running BOOLEAN NOT NULL DEFAULT FALSE,
			started_at TIMESTAMPTZ,
			paused_at TIMESTAMPTZ,
			winner_team_id VARCHAR(64),
			winner_declared_at TIMESTAMPTZ,
			version BIGINT NOT NULL DEFAULT 1,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_submissions_active
			ON submissions(team_id, level_number) WHERE status IN ('pending', 'approved')`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_team ON submissions(team_id, submitted_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(status, submitted_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// isUniqueViolation reports whether err is a unique constraint violation
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
