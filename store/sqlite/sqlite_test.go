package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	aegis "github.com/Juntar0/aegis"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "aegis.db"))
	t.Cleanup(func() { s.Close() })
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return s
}

func msg(userKey, role, content string, at int64) aegis.TranscriptMessage {
	return aegis.TranscriptMessage{
		ID:        aegis.NewID(),
		UserKey:   userKey,
		Role:      role,
		Content:   content,
		CreatedAt: at,
	}
}

func TestAppendAndGetMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendMessage(ctx, msg("u1", "user", "first", 100)); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := s.AppendMessage(ctx, msg("u1", "assistant", "second", 200)); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := s.AppendMessage(ctx, msg("u2", "user", "other user", 150)); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	msgs, err := s.GetMessages(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	// Chronological order, oldest first.
	if msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Errorf("order wrong: %q, %q", msgs[0].Content, msgs[1].Content)
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("roles wrong: %q, %q", msgs[0].Role, msgs[1].Role)
	}
}

func TestGetMessagesLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		m := msg("u1", "user", fmt.Sprintf("m%d", i), int64(100+i))
		if err := s.AppendMessage(ctx, m); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	msgs, err := s.GetMessages(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	// The limit keeps the newest messages, still oldest first.
	if msgs[0].Content != "m3" || msgs[1].Content != "m4" {
		t.Errorf("limited window = %q, %q", msgs[0].Content, msgs[1].Content)
	}
}

func TestGetMessagesUnknownUser(t *testing.T) {
	s := newTestStore(t)

	msgs, err := s.GetMessages(context.Background(), "nobody", 10)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages for unknown user", len(msgs))
	}
}

func TestDeleteMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendMessage(ctx, msg("u1", "user", "gone", 100)); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := s.AppendMessage(ctx, msg("u2", "user", "kept", 100)); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	if err := s.DeleteMessages(ctx, "u1"); err != nil {
		t.Fatalf("DeleteMessages: %v", err)
	}

	msgs, err := s.GetMessages(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("u1 messages survived delete: %d", len(msgs))
	}

	msgs, err = s.GetMessages(ctx, "u2", 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("u2 messages affected by u1 delete: %d", len(msgs))
	}
}

func TestInitIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}
