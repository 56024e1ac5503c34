package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"helmsman/pkg/journal"
)

// Store persists advisories and dispatched orders to Postgres for later
// analysis. The engine runs fine without it; wiring is gated on a DSN being
// configured.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("repo: dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("repo: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("repo: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// InitSchema creates the audit tables when they do not exist yet.
func (s *Store) InitSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS advisories (
    id           BIGSERIAL PRIMARY KEY,
    ts           TIMESTAMPTZ NOT NULL,
    symbol       TEXT NOT NULL,
    cycle_number BIGINT NOT NULL,
    action       TEXT NOT NULL,
    confidence   DOUBLE PRECISION NOT NULL,
    size_hint    DOUBLE PRECISION NOT NULL,
    reasoning    TEXT,
    agent_votes  JSONB
);
CREATE INDEX IF NOT EXISTS advisories_symbol_ts_idx ON advisories (symbol, ts DESC);

CREATE TABLE IF NOT EXISTS orders (
    id        BIGSERIAL PRIMARY KEY,
    ts        TIMESTAMPTZ NOT NULL,
    symbol    TEXT NOT NULL,
    side_code INT NOT NULL,
    side      TEXT NOT NULL,
    size      DOUBLE PRECISION NOT NULL,
    price     DOUBLE PRECISION NOT NULL,
    signal    DOUBLE PRECISION NOT NULL,
    order_id  TEXT,
    error     TEXT
);
CREATE INDEX IF NOT EXISTS orders_symbol_ts_idx ON orders (symbol, ts DESC);`

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("repo: init schema: %w", err)
	}
	return nil
}

// SaveAdvisory inserts one coordinator cycle record.
func (s *Store) SaveAdvisory(ctx context.Context, rec *journal.AdvisoryRecord) error {
	if rec == nil {
		return fmt.Errorf("repo: nil advisory record")
	}
	votes, err := json.Marshal(rec.AgentVotes)
	if err != nil {
		return fmt.Errorf("repo: marshal agent votes: %w", err)
	}
	const q = `
INSERT INTO advisories (ts, symbol, cycle_number, action, confidence, size_hint, reasoning, agent_votes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = s.pool.Exec(ctx, q,
		rec.Timestamp, rec.Symbol, rec.CycleNumber, rec.Action,
		rec.Confidence, rec.SizeHint, rec.Reasoning, votes)
	if err != nil {
		return fmt.Errorf("repo: save advisory: %w", err)
	}
	return nil
}

// SaveOrder inserts one dispatched order record.
func (s *Store) SaveOrder(ctx context.Context, rec *journal.OrderRecord) error {
	if rec == nil {
		return fmt.Errorf("repo: nil order record")
	}
	const q = `
INSERT INTO orders (ts, symbol, side_code, side, size, price, signal, order_id, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.pool.Exec(ctx, q,
		rec.Timestamp, rec.Symbol, rec.SideCode, rec.Side,
		rec.Size, rec.Price, rec.Signal, rec.OrderID, rec.Error)
	if err != nil {
		return fmt.Errorf("repo: save order: %w", err)
	}
	return nil
}

// RecentAdvisories returns advisories for the symbol, newest first.
func (s *Store) RecentAdvisories(ctx context.Context, symbol string, limit int) ([]journal.AdvisoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT ts, symbol, cycle_number, action, confidence, size_hint, COALESCE(reasoning, ''), agent_votes
FROM advisories
WHERE symbol = $1
ORDER BY ts DESC
LIMIT $2`
	rows, err := s.pool.Query(ctx, q, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("repo: recent advisories: %w", err)
	}
	defer rows.Close()

	var out []journal.AdvisoryRecord
	for rows.Next() {
		var rec journal.AdvisoryRecord
		var ts time.Time
		var votes []byte
		if err := rows.Scan(&ts, &rec.Symbol, &rec.CycleNumber, &rec.Action,
			&rec.Confidence, &rec.SizeHint, &rec.Reasoning, &votes); err != nil {
			return nil, fmt.Errorf("repo: scan advisory: %w", err)
		}
		rec.Timestamp = ts
		if len(votes) > 0 {
			if err := json.Unmarshal(votes, &rec.AgentVotes); err != nil {
				return nil, fmt.Errorf("repo: decode agent votes: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecentOrders returns orders for the symbol, newest first.
func (s *Store) RecentOrders(ctx context.Context, symbol string, limit int) ([]journal.OrderRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT ts, symbol, side_code, side, size, price, signal, COALESCE(order_id, ''), COALESCE(error, '')
FROM orders
WHERE symbol = $1
ORDER BY ts DESC
LIMIT $2`
	rows, err := s.pool.Query(ctx, q, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("repo: recent orders: %w", err)
	}
	defer rows.Close()

	var out []journal.OrderRecord
	for rows.Next() {
		var rec journal.OrderRecord
		if err := rows.Scan(&rec.Timestamp, &rec.Symbol, &rec.SideCode, &rec.Side,
			&rec.Size, &rec.Price, &rec.Signal, &rec.OrderID, &rec.Error); err != nil {
			return nil, fmt.Errorf("repo: scan order: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
