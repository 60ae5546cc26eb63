package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Config holds journal persistence configuration.
type Config struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout" json:"query_timeout"`
	QueueSize       int           `yaml:"queue_size" json:"queue_size"`
}

// DefaultConfig returns journal defaults. Persistence is off until a DSN
// is configured explicitly.
func DefaultConfig() Config {
	return Config{
		Enabled:         false,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    30 * time.Second,
		QueueSize:       256,
	}
}

// Schema creates the journal tables when they do not exist yet.
const Schema = `
CREATE TABLE IF NOT EXISTS alphaguard_trades (
	id          TEXT PRIMARY KEY,
	position_id TEXT NOT NULL,
	alpha_id    TEXT NOT NULL DEFAULT '',
	symbol      TEXT NOT NULL,
	side        TEXT NOT NULL,
	volume      DOUBLE PRECISION NOT NULL,
	profit      DOUBLE PRECISION NOT NULL,
	reason      TEXT NOT NULL,
	closed_at   TIMESTAMPTZ NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS alphaguard_allocations (
	alpha_id   TEXT NOT NULL,
	weight     DOUBLE PRECISION NOT NULL,
	score      DOUBLE PRECISION NOT NULL,
	excluded   BOOLEAN NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	decided_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_alphaguard_trades_closed_at
	ON alphaguard_trades (closed_at DESC);
CREATE INDEX IF NOT EXISTS idx_alphaguard_allocations_decided_at
	ON alphaguard_allocations (decided_at DESC);
`

// Postgres stores journal records in PostgreSQL.
type Postgres struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPostgres wraps an existing connection. Open is the usual entry point;
// this constructor exists for tests and shared pools.
func NewPostgres(db *sqlx.DB, timeout time.Duration) *Postgres {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Postgres{db: db, timeout: timeout}
}

// Open connects to PostgreSQL and ensures the schema. With persistence
// disabled it returns the Nop store.
func Open(cfg Config) (Store, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("journal DSN is required when persistence is enabled")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure journal schema: %w", err)
	}

	return NewPostgres(db, cfg.QueryTimeout), nil
}

func (s *Postgres) SaveTrade(ctx context.Context, rec TradeRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		INSERT INTO alphaguard_trades (id, position_id, alpha_id, symbol, side, volume, profit, reason, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.PositionID, rec.AlphaID, rec.Symbol, rec.Side,
		rec.Volume, rec.Profit, rec.Reason, rec.ClosedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate trade %s: %w", rec.ID, err)
		}
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	return nil
}

func (s *Postgres) SaveAllocations(ctx context.Context, recs []AllocationRecord) error {
	if len(recs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO alphaguard_allocations (alpha_id, weight, score, excluded, reason, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx,
			rec.AlphaID, rec.Weight, rec.Score, rec.Excluded, rec.Reason, rec.DecidedAt); err != nil {
			return fmt.Errorf("failed to insert allocation for %s: %w", rec.AlphaID, err)
		}
	}

	return tx.Commit()
}

func (s *Postgres) ListTrades(ctx context.Context, limit int) ([]TradeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT id, position_id, alpha_id, symbol, side, volume, profit, reason, closed_at
		FROM alphaguard_trades
		ORDER BY closed_at DESC
		LIMIT $1`

	var out []TradeRecord
	if err := s.db.SelectContext(ctx, &out, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	return out, nil
}

func (s *Postgres) Close() error { return s.db.Close() }
