package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// MemoryStore keeps the version in memory.
type MemoryStore struct {
	mu      sync.Mutex
	version int
	locked  bool
}

func NewMemoryStore(version int) *MemoryStore {
	return &MemoryStore{version: version}
}

func (s *MemoryStore) AppliedVersion(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version, nil
}

func (s *MemoryStore) SetAppliedVersion(_ context.Context, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = version
	return nil
}

func (s *MemoryStore) Lock(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return ErrLocked
	}
	s.locked = true
	return nil
}

func (s *MemoryStore) Unlock(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = false
	return nil
}

// PostgresStore keeps the version in a single-row migrations_control table
// and serializes runners with a session-level advisory lock, which Postgres
// drops by itself when the holding connection goes away.
type PostgresStore struct {
	db *sql.DB

	mu   sync.Mutex
	conn *sql.Conn
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// advisoryLockKey identifies the migration lock among advisory locks.
const advisoryLockKey int64 = 0x636f6c6c6162

const createControlTable = `
	CREATE TABLE IF NOT EXISTS migrations_control (
		id         INT PRIMARY KEY CHECK (id = 1),
		version    INT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`

// Init creates the control row if missing.
func (s *PostgresStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createControlTable); err != nil {
		return fmt.Errorf("create migrations_control: %w", err)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO migrations_control (id, version) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("seed migrations_control: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppliedVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM migrations_control WHERE id = 1`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}

func (s *PostgresStore) SetAppliedVersion(ctx context.Context, version int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE migrations_control SET version = $1, updated_at = now() WHERE id = 1`, version)
	return err
}

// Lock takes the advisory lock on a dedicated connection and keeps that
// connection until Unlock. A runner that dies while holding it releases it
// with its session.
func (s *PostgresStore) Lock(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return ErrLocked
	}
	if err := s.Init(ctx); err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("migration lock connection: %w", err)
	}
	var won bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, advisoryLockKey).Scan(&won); err != nil {
		_ = conn.Close()
		return fmt.Errorf("migration lock: %w", err)
	}
	if !won {
		_ = conn.Close()
		return ErrLocked
	}
	s.conn = conn
	return nil
}

func (s *PostgresStore) Unlock(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	conn := s.conn
	s.conn = nil
	defer conn.Close()

	var released bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_advisory_unlock($1)`, advisoryLockKey).Scan(&released); err != nil {
		return fmt.Errorf("migration unlock: %w", err)
	}
	if !released {
		return errors.New("migration unlock: lock was not held")
	}
	return nil
}
