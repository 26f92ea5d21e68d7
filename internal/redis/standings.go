package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/photo-hunt/internal/config"
	"github.com/photo-hunt/internal/domain"
)

// StandingsCache keeps the latest leaderboard snapshot in Redis: a sorted
// set ordered by rank plus a hash holding each team's standing.
type StandingsCache struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewStandingsCache creates a new Redis standings cache
func NewStandingsCache(cfg *config.RedisConfig, logger *slog.Logger) (*StandingsCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &StandingsCache{
		client: client,
		prefix: cfg.KeyPrefix,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (c *StandingsCache) Close() error {
	return c.client.Close()
}

// Ping checks the connection
func (c *StandingsCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// rankKey returns the key of the sorted set scored by rank
func (c *StandingsCache) rankKey() string {
	return fmt.Sprintf("%s:standings:rank", c.prefix)
}

// dataKey returns the key of the hash of encoded standings
func (c *StandingsCache) dataKey() string {
	return fmt.Sprintf("%s:standings:data", c.prefix)
}

// ReplaceStandings swaps the cached snapshot for standings in one
// transaction, so readers never see a mix of two snapshots.
func (c *StandingsCache) ReplaceStandings(ctx context.Context, standings []domain.TeamStanding) error {
	members := make([]redis.Z, 0, len(standings))
	fields := make(map[string]any, len(standings))
	for _, s := range standings {
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("encoding standing: %w", err)
		}
		members = append(members, redis.Z{Score: float64(s.Rank), Member: s.TeamID})
		fields[s.TeamID] = data
	}

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.rankKey(), c.dataKey())
		if len(members) > 0 {
			pipe.ZAdd(ctx, c.rankKey(), members...)
			pipe.HSet(ctx, c.dataKey(), fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replacing standings: %w", err)
	}
	return nil
}

// TopStandings returns the first n cached standings in rank order
func (c *StandingsCache) TopStandings(ctx context.Context, n int) ([]domain.TeamStanding, error) {
	teamIDs, err := c.client.ZRange(ctx, c.rankKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top standings: %w", err)
	}
	if len(teamIDs) == 0 {
		return []domain.TeamStanding{}, nil
	}

	values, err := c.client.HMGet(ctx, c.dataKey(), teamIDs...).Result()
	if err != nil {
		return nil, fmt.Errorf("getting standing data: %w", err)
	}

	standings := make([]domain.TeamStanding, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			c.logger.Warn("standing missing from cache", "team_id", teamIDs[i])
			continue
		}
		var s domain.TeamStanding
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("decoding standing: %w", err)
		}
		standings = append(standings, s)
	}
	return standings, nil
}

// StandingOf returns one team's cached standing
func (c *StandingsCache) StandingOf(ctx context.Context, teamID string) (*domain.TeamStanding, error) {
	raw, err := c.client.HGet(ctx, c.dataKey(), teamID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrStandingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting standing: %w", err)
	}

	var s domain.TeamStanding
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decoding standing: %w", err)
	}
	return &s, nil
}

// Count returns the number of cached standings
func (c *StandingsCache) Count(ctx context.Context) (int64, error) {
	count, err := c.client.ZCard(ctx, c.rankKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("getting count: %w", err)
	}
	return count, nil
}
