package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Store       StoreConfig       `yaml:"store"`
	Redis       RedisConfig       `yaml:"redis"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	NATS        NATSConfig        `yaml:"nats"`
	Oracle      OracleConfig      `yaml:"oracle"`
	Game        GameConfig        `yaml:"game"`
	Refresh     RefreshConfig     `yaml:"refresh"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port" env:"PHOTOHUNT_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	CORSOrigins  []string      `yaml:"cors_origins" env:"PHOTOHUNT_CORS_ORIGINS"`
	// AdminKey guards the admin push room. Empty leaves it open.
	AdminKey     string        `yaml:"admin_key" env:"PHOTOHUNT_ADMIN_KEY"`
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Driver string `yaml:"driver" env:"PHOTOHUNT_STORE_DRIVER"`
}

// Store drivers
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled" env:"PHOTOHUNT_REDIS_ENABLED"`
	Addr         string        `yaml:"addr" env:"PHOTOHUNT_REDIS_ADDR"`
	Password     string        `yaml:"password" env:"PHOTOHUNT_REDIS_PASSWORD"`
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"key_prefix"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host" env:"PHOTOHUNT_POSTGRES_HOST"`
	Port            int           `yaml:"port" env:"PHOTOHUNT_POSTGRES_PORT"`
	User            string        `yaml:"user" env:"PHOTOHUNT_POSTGRES_USER"`
	Password        string        `yaml:"password" env:"PHOTOHUNT_POSTGRES_PASSWORD"`
	Database        string        `yaml:"database" env:"PHOTOHUNT_POSTGRES_DATABASE"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled" env:"PHOTOHUNT_KAFKA_ENABLED"`
	Brokers      []string      `yaml:"brokers" env:"PHOTOHUNT_KAFKA_BROKERS"`
	Topic        string        `yaml:"topic"`
	GroupID      string        `yaml:"group_id"`
	Relay        bool          `yaml:"relay"`
	FlushTimeout time.Duration `yaml:"flush_timeout"`
}

// NATSConfig holds NATS connection configuration
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled" env:"PHOTOHUNT_NATS_ENABLED"`
	URL           string `yaml:"url" env:"PHOTOHUNT_NATS_URL"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// OracleConfig configures the similarity scoring service client
type OracleConfig struct {
	URL            string        `yaml:"url" env:"PHOTOHUNT_ORACLE_URL"`
	Timeout        time.Duration `yaml:"timeout" env:"PHOTOHUNT_ORACLE_TIMEOUT"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
}

// GameConfig holds the rules of the hunt
type GameConfig struct {
	Threshold       float64 `yaml:"threshold" env:"PHOTOHUNT_AUTO_APPROVAL_THRESHOLD"`
	LevelCount      int     `yaml:"level_count" env:"PHOTOHUNT_LEVEL_COUNT"`
	TeamLockRetries int     `yaml:"team_lock_retries"`
}

// FinalLevel returns the number of the final level
func (c GameConfig) FinalLevel() int {
	return c.LevelCount
}

// RefreshConfig holds leaderboard refresher configuration
type RefreshConfig struct {
	Interval time.Duration `yaml:"interval"`
	Enabled  bool          `yaml:"enabled"`
}

// LeaderboardConfig holds leaderboard query limits
type LeaderboardConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level" env:"PHOTOHUNT_LOG_LEVEL"`
}

// SlogLevel maps the configured level name to a slog.Level
func (c LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.Level))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Load reads configuration from a YAML file, then applies environment
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	// Apply defaults
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyEnv overrides fields tagged with env from the process environment.
// Unset variables leave the current value alone.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	return nil
}

// Validate rejects configurations the game cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Game.Threshold < 0 || c.Game.Threshold > 100 {
		errs = append(errs, fmt.Errorf("game.threshold must be within [0,100], got %v", c.Game.Threshold))
	}
	if c.Game.LevelCount < 1 {
		errs = append(errs, fmt.Errorf("game.level_count must be at least 1, got %d", c.Game.LevelCount))
	}
	switch c.Store.Driver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("store.driver must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.Store.Driver))
	}
	// The refresher is the only writer of the standings cache
	if c.Redis.Enabled && !c.Refresh.Enabled {
		errs = append(errs, errors.New("redis.enabled requires refresh.enabled"))
	}
	return errors.Join(errs...)
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}

	if c.Store.Driver == "" {
		c.Store.Driver = StoreDriverPostgres
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "photohunt"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 50
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 5
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 50
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 5
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "photohunt-events"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "photohunt-relay"
	}
	if c.Kafka.FlushTimeout == 0 {
		c.Kafka.FlushTimeout = 100 * time.Millisecond
	}

	// NATS defaults
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "photohunt.events"
	}

	// Oracle defaults
	if c.Oracle.URL == "" {
		c.Oracle.URL = "http://localhost:8090/similarity"
	}
	if c.Oracle.Timeout == 0 {
		c.Oracle.Timeout = 10 * time.Second
	}
	if c.Oracle.AttemptTimeout == 0 {
		c.Oracle.AttemptTimeout = 4 * time.Second
	}
	if c.Oracle.MaxAttempts == 0 {
		c.Oracle.MaxAttempts = 3
	}
	if c.Oracle.InitialBackoff == 0 {
		c.Oracle.InitialBackoff = 200 * time.Millisecond
	}

	// Game defaults
	if c.Game.Threshold == 0 {
		c.Game.Threshold = 75
	}
	if c.Game.LevelCount == 0 {
		c.Game.LevelCount = 9
	}
	if c.Game.TeamLockRetries == 0 {
		c.Game.TeamLockRetries = 5
	}

	// Refresh defaults
	if c.Refresh.Interval == 0 {
		c.Refresh.Interval = 15 * time.Second
	}

	// Leaderboard defaults
	if c.Leaderboard.DefaultLimit == 0 {
		c.Leaderboard.DefaultLimit = 10
	}
	if c.Leaderboard.MaxLimit == 0 {
		c.Leaderboard.MaxLimit = 500
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Refresh.Enabled = true
	return cfg
}
