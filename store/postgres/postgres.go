// Package postgres implements aegis.TranscriptStore using PostgreSQL.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	aegis "github.com/Juntar0/aegis"
)

// Store implements aegis.TranscriptStore backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ aegis.TranscriptStore = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the transcript table.
func (s *Store) Init(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS transcript_messages (
		id TEXT PRIMARY KEY,
		user_key TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	idx := `CREATE INDEX IF NOT EXISTS idx_transcript_user_key
		ON transcript_messages(user_key, created_at)`
	if _, err := s.pool.Exec(ctx, idx); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// AppendMessage stores one transcript message.
func (s *Store) AppendMessage(ctx context.Context, msg aegis.TranscriptMessage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transcript_messages (id, user_key, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.UserKey, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessages returns the most recent messages for a user key, oldest
// first. limit <= 0 returns everything.
func (s *Store) GetMessages(ctx context.Context, userKey string, limit int) ([]aegis.TranscriptMessage, error) {
	query := `SELECT id, user_key, role, content, created_at
		FROM transcript_messages WHERE user_key = $1
		ORDER BY created_at DESC, id DESC`
	args := []any{userKey}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
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

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// DeleteMessages removes every message for a user key.
func (s *Store) DeleteMessages(ctx context.Context, userKey string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM transcript_messages WHERE user_key = $1`, userKey); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *Store) Close() error { return nil }
