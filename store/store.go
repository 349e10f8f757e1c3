package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dhcgn/mhtml/model"
	"github.com/dhcgn/mhtml/state"
)

var ErrNotFound = errors.New("capture not found")

// DB is the subset of *pgxpool.Pool used by Store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a sink upserting each capture into the captures table.
type Store struct {
	db        DB
	logger    *slog.Logger
	closePool func()
}

// Open connects to dsn and prepares the schema. Close releases the pool.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s, err := NewStore(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.closePool = pool.Close
	return s, nil
}

// NewStore creates a store on db. It ensures the captures table exists.
func NewStore(ctx context.Context, db DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure capture schema: %w", err)
	}
	logger.Debug("capture store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS captures (
			id          BIGSERIAL PRIMARY KEY,
			url_hash    TEXT NOT NULL UNIQUE,
			url         TEXT NOT NULL,
			title       TEXT NOT NULL DEFAULT '',
			captured_at TIMESTAMPTZ NOT NULL,
			parts       INTEGER NOT NULL DEFAULT 0,
			skipped     TEXT[] NOT NULL DEFAULT '{}',
			raw         BYTEA NOT NULL,
			created_at  TIMESTAMPTZ DEFAULT NOW(),
			updated_at  TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_captures_captured_at ON captures(captured_at);
	`)
	return err
}

func (s *Store) Name() string {
	return "postgres"
}

// Deliver inserts the capture or replaces an older capture of the same URL.
func (s *Store) Deliver(ctx context.Context, c model.Capture) error {
	hash := c.Hash
	if hash == "" {
		hash = state.Key(c.URL)
	}
	skipped := c.Skipped
	if skipped == nil {
		skipped = []string{}
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO captures (url_hash, url, title, captured_at, parts, skipped, raw)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (url_hash) DO UPDATE SET
			title       = EXCLUDED.title,
			captured_at = EXCLUDED.captured_at,
			parts       = EXCLUDED.parts,
			skipped     = EXCLUDED.skipped,
			raw         = EXCLUDED.raw,
			updated_at  = NOW()
	`, hash, c.URL, c.Title, c.CapturedAt, c.Parts, skipped, c.Raw)
	if err != nil {
		return fmt.Errorf("upsert capture: %w", err)
	}
	s.logger.Debug("stored capture", "url", c.URL, "bytes", len(c.Raw))
	return nil
}

// Get returns the latest capture of url.
func (s *Store) Get(ctx context.Context, url string) (*model.Capture, error) {
	row := s.db.QueryRow(ctx, `
		SELECT url_hash, url, title, captured_at, parts, skipped, raw
		FROM captures
		WHERE url_hash = $1
	`, state.Key(url))

	var c model.Capture
	err := row.Scan(&c.Hash, &c.URL, &c.Title, &c.CapturedAt, &c.Parts, &c.Skipped, &c.Raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", url, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query capture: %w", err)
	}
	return &c, nil
}

func (s *Store) Close() error {
	if s.closePool != nil {
		s.closePool()
		s.closePool = nil
	}
	return nil
}
