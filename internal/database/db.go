package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"binary-options-bot/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger *logging.Logger
}

// Config holds database configuration
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// NewDB creates a new database connection
func NewDB(cfg Config, logger *logging.Logger) (*DB, error) {
	if logger == nil {
		logger = logging.WithComponent("database")
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger.Info("connected to PostgreSQL", "database", cfg.Database)
	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS binary_trades (
			id SERIAL PRIMARY KEY,
			order_id VARCHAR(64) NOT NULL UNIQUE,
			asset VARCHAR(32) NOT NULL,
			direction VARCHAR(4) NOT NULL,
			stake DECIMAL(20, 8) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			expiration_minutes INT NOT NULL,
			confidence DECIMAL(6, 4),
			entry_time TIMESTAMP NOT NULL,
			settle_time TIMESTAMP,
			status VARCHAR(16) NOT NULL DEFAULT 'OPEN',
			profit DECIMAL(20, 8),
			estimated BOOLEAN DEFAULT FALSE,
			martingale_step INT DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_binary_trades_asset ON binary_trades(asset)`,
		`CREATE INDEX IF NOT EXISTS idx_binary_trades_status ON binary_trades(status)`,
		`CREATE INDEX IF NOT EXISTS idx_binary_trades_entry_time ON binary_trades(entry_time)`,

		`CREATE TABLE IF NOT EXISTS experiences (
			id SERIAL PRIMARY KEY,
			asset VARCHAR(32) NOT NULL,
			state JSONB NOT NULL,
			action SMALLINT NOT NULL,
			reward DECIMAL(20, 8) NOT NULL,
			next_state JSONB,
			shadow BOOLEAN DEFAULT FALSE,
			metadata JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_experiences_asset ON experiences(asset)`,
		`CREATE INDEX IF NOT EXISTS idx_experiences_created_at ON experiences(created_at)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info("database migrations complete", "count", len(migrations))
	return nil
}
