// Package sqlite implements aegis.TranscriptStore using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	aegis "github.com/Juntar0/aegis"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing and row counts. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements aegis.TranscriptStore backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ aegis.TranscriptStore = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so
// that all goroutines serialize through one connection, eliminating
// SQLITE_BUSY errors caused by concurrent writers opening independent
// connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates the transcript table.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	ddl := `CREATE TABLE IF NOT EXISTS transcript_messages (
		id TEXT PRIMARY KEY,
		user_key TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	idx := `CREATE INDEX IF NOT EXISTS idx_transcript_user_key
		ON transcript_messages(user_key, created_at)`
	if _, err := s.db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	s.logger.Debug("sqlite: init done", "took", time.Since(start))
	return nil
}

// AppendMessage stores one transcript message.
func (s *Store) AppendMessage(ctx context.Context, msg aegis.TranscriptMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcript_messages (id, user_key, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.UserKey, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	s.logger.Debug("sqlite: message appended", "user_key", msg.UserKey, "role", msg.Role)
	return nil
}

// GetMessages returns the most recent messages for a user key, oldest
// first. limit <= 0 returns everything.
func (s *Store) GetMessages(ctx context.Context, userKey string, limit int) ([]aegis.TranscriptMessage, error) {
	query := `SELECT id, user_key, role, content, created_at
		FROM transcript_messages WHERE user_key = ?
		ORDER BY created_at DESC, id DESC`
	args := []any{userKey}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []aegis.TranscriptMessage
	for rows.Next() {
		var m aegis.TranscriptMessage
		if err := rows.Scan(&m.ID, &m.UserKey, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Query returns newest first for the LIMIT; callers want
	// chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// DeleteMessages removes every message for a user key.
func (s *Store) DeleteMessages(ctx context.Context, userKey string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM transcript_messages WHERE user_key = ?`, userKey)
	if err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		s.logger.Debug("sqlite: messages deleted", "user_key", userKey, "rows", n)
	}
	return nil
}

// DB exposes the underlying handle for callers that need raw access.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }
