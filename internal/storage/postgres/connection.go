package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/indago/internal/common"
)

// PostgresDB manages the connection pool to the registry database.
type PostgresDB struct {
	pool   *pgxpool.Pool
	logger arbor.ILogger
	config *common.DatabaseConfig
}

// NewPostgresDB creates a connection pool and verifies it with a ping.
func NewPostgresDB(logger arbor.ILogger, config *common.DatabaseConfig) (*PostgresDB, error) {
	poolConfig, err := pgxpool.ParseConfig(config.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info().
		Str("host", config.Host).
		Str("database", config.Name).
		Msg("Postgres connection pool initialized")

	return &PostgresDB{
		pool:   pool,
		logger: logger,
		config: config,
	}, nil
}

// Pool returns the underlying connection pool
func (p *PostgresDB) Pool() *pgxpool.Pool {
	return p.pool
}

// Ping verifies the database connection
func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the connection pool
func (p *PostgresDB) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}
