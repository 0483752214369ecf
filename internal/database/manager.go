package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"beacon/internal/config"
	"beacon/pkg/interfaces"
	"beacon/pkg/types"
	_ "github.com/mattn/go-sqlite3"
)

// schema is bootstrapped idempotently at startup. The directory is a fixed
// two-table layout: accounts and the API tokens that resolve to them.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	email      TEXT NOT NULL,
	role       TEXT NOT NULL CHECK (role IN ('admin', 'user')),
	active     INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS api_tokens (
	token      TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_api_tokens_user ON api_tokens(user_id);
`

// Manager implements interfaces.UserDirectory over SQLite. Reads go through
// the pooled connections; all writes are funneled through a single writer
// goroutine to avoid SQLite write contention.
type Manager struct {
	db           *sql.DB
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // protects closed
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, bootstraps the schema, and starts the
// writer goroutine.
func NewManager(cfg *config.DatabaseConfig) (*Manager, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite handles concurrent reads well but only one writer.
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(cfg.Timeout * 2)
	db.SetConnMaxIdleTime(cfg.Timeout)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to bootstrap schema: %w", err)
	}

	manager := &Manager{
		db:           db,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- op.operation(m.db)
		case <-m.shutdown:
			// Drain queued writes before exiting.
			for {
				select {
				case op := <-m.writeChannel:
					op.result <- op.operation(m.db)
				default:
					return
				}
			}
		}
	}
}

// execWrite queues a write for the writer goroutine and waits for it.
func (m *Manager) execWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	op := writeOperation{
		operation: operation,
		result:    make(chan error, 1),
	}

	select {
	case m.writeChannel <- op:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-op.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetUserByToken resolves an API token to its owning account. Unknown
// tokens return interfaces.ErrUserNotFound.
func (m *Manager) GetUserByToken(ctx context.Context, token string) (*types.Principal, error) {
	const query = `
		SELECT u.id, u.name, u.email, u.role, u.active
		FROM api_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token = ?`

	var principal types.Principal
	err := m.db.QueryRowContext(ctx, query, token).Scan(
		&principal.ID, &principal.Name, &principal.Email, &principal.Role, &principal.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	return &principal, nil
}

// UpsertUser creates or updates an account.
func (m *Manager) UpsertUser(ctx context.Context, user *types.Principal) error {
	if err := user.Validate(); err != nil {
		return err
	}

	return m.execWrite(ctx, func(db *sql.DB) error {
		const query = `
			INSERT INTO users (id, name, email, role, active) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				email = excluded.email,
				role = excluded.role,
				active = excluded.active`

		_, err := db.ExecContext(ctx, query, user.ID, user.Name, user.Email, user.Role, user.Active)
		if err != nil {
			return fmt.Errorf("failed to upsert user %s: %w", user.ID, err)
		}
		return nil
	})
}

// InsertToken issues an API token for an existing account.
func (m *Manager) InsertToken(ctx context.Context, token, userID string) error {
	if token == "" {
		return ErrEmptyToken
	}

	return m.execWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `INSERT INTO api_tokens (token, user_id) VALUES (?, ?)`, token, userID)
		if err != nil {
			return fmt.Errorf("failed to insert token for %s: %w", userID, err)
		}
		return nil
	})
}

// HealthCheck verifies the database is reachable.
func (m *Manager) HealthCheck(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// Close stops the writer goroutine and closes the database. Safe to call
// once; subsequent writes fail with ErrManagerClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	return m.db.Close()
}
