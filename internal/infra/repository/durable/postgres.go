package durable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const analysesDDL = `CREATE TABLE IF NOT EXISTS analyses (
	id TEXT PRIMARY KEY,
	payload JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresKV backs the durable store's metadata with a single upsert table.
type PostgresKV struct {
	db *sql.DB
}

// NewPostgresKV opens the database and ensures the analyses table exists.
func NewPostgresKV(ctx context.Context, dsn string) (*PostgresKV, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, analysesDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure analyses table: %w", err)
	}
	return &PostgresKV{db: db}, nil
}

// Get implements KV.
func (p *PostgresKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx, `SELECT payload FROM analyses WHERE id = $1`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select analysis: %w", err)
	}
	return payload, true, nil
}

// Put implements KV.
func (p *PostgresKV) Put(ctx context.Context, key string, value []byte) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO analyses (id, payload, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("upsert analysis: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (p *PostgresKV) Close() error { return p.db.Close() }

// IsThrottle classifies transient backpressure from either backend: S3-style
// throttling codes and Postgres insufficient-resources states (class 53).
// Only these retry; permanent failures must surface on the first attempt.
func IsThrottle(err error) bool {
	var api smithy.APIError
	if errors.As(err, &api) {
		switch api.ErrorCode() {
		case "SlowDown", "ThrottlingException", "TooManyRequestsException", "RequestLimitExceeded":
			return true
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "53")
	}
	return false
}
