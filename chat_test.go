package aegis

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestChat(t *testing.T, provider Provider, opts ...ChatOption) (*ChatAgent, string) {
	t.Helper()
	runner, root := newTestRunner(t)
	return NewChatAgent(provider, runner, opts...), root
}

func TestChatPlainReply(t *testing.T) {
	provider := &scriptedProvider{responses: []ChatResponse{
		textResponse("Hello!"),
	}}
	chat, _ := newTestChat(t, provider)

	reply, err := chat.Chat(context.Background(), "u1", "hi")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply != "Hello!" {
		t.Errorf("reply = %q", reply)
	}

	// System prompt advertises the tools and the TOOL_CALL format.
	prompt := provider.requests[0].Messages[0].Content
	for _, want := range []string{"## Available Tools", "**list_dir(", "**exec_cmd(", "TOOL_CALL:"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestChatTextToolCallLoop(t *testing.T) {
	provider := &scriptedProvider{responses: []ChatResponse{
		textResponse("Let me write that.\nTOOL_CALL: {\"name\": \"write_file\", \"args\": {\"path\": \"memo.txt\", \"content\": \"remember\"}}"),
		textResponse("Saved the memo."),
	}}
	chat, root := newTestChat(t, provider, WithoutNativeCalling())

	reply, err := chat.Chat(context.Background(), "u1", "save a memo")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply != "Saved the memo." {
		t.Errorf("reply = %q", reply)
	}

	data, err := os.ReadFile(filepath.Join(root, "memo.txt"))
	if err != nil {
		t.Fatalf("tool did not run: %v", err)
	}
	if string(data) != "remember" {
		t.Errorf("file content = %q", data)
	}

	// The second request must contain the fed-back tool results.
	last := provider.requests[1].Messages
	feedback := last[len(last)-1]
	if feedback.Role != "user" || !strings.Contains(feedback.Content, "Tool execution results:") {
		t.Errorf("feedback message = %+v", feedback)
	}
	if !strings.Contains(feedback.Content, "Wrote 8 chars to memo.txt") {
		t.Errorf("feedback missing tool output:\n%s", feedback.Content)
	}
}

func TestChatNativeToolCallsWin(t *testing.T) {
	provider := &scriptedProvider{responses: []ChatResponse{
		{
			// Text also contains a TOOL_CALL block; the native call must win.
			Content: "TOOL_CALL: {\"name\": \"read_file\", \"args\": {\"path\": \"ignored.txt\"}}",
			ToolCalls: []ToolCall{{
				Name: "write_file",
				Args: json.RawMessage(`{"path": "native.txt", "content": "x"}`),
			}},
		},
		textResponse("done"),
	}}
	chat, root := newTestChat(t, provider)

	if _, err := chat.Chat(context.Background(), "u1", "go"); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "native.txt")); err != nil {
		t.Error("native tool call not executed")
	}
	if _, err := os.Stat(filepath.Join(root, "ignored.txt")); err == nil {
		t.Error("text tool call executed despite native calls")
	}

	if len(provider.requests[0].Tools) == 0 {
		t.Error("tools not advertised to the provider")
	}
}

func TestChatIterationBound(t *testing.T) {
	loopReply := textResponse("TOOL_CALL: {\"name\": \"list_dir\", \"args\": {\"path\": \".\"}}")
	provider := &scriptedProvider{responses: []ChatResponse{loopReply, loopReply, loopReply}}
	chat, _ := newTestChat(t, provider, WithChatIterations(3), WithoutNativeCalling())

	reply, err := chat.Chat(context.Background(), "u1", "loop forever")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply != "Reached maximum tool execution iterations. Please try a simpler request." {
		t.Errorf("reply = %q", reply)
	}
	if provider.calls != 3 {
		t.Errorf("provider calls = %d, want 3", provider.calls)
	}
}

func TestChatSeparateConversations(t *testing.T) {
	provider := &scriptedProvider{responses: []ChatResponse{
		textResponse("hi alice"),
		textResponse("hi bob"),
	}}
	chat, _ := newTestChat(t, provider)

	if _, err := chat.Chat(context.Background(), "alice", "hello"); err != nil {
		t.Fatal(err)
	}
	if _, err := chat.Chat(context.Background(), "bob", "hello"); err != nil {
		t.Fatal(err)
	}

	// Bob's transcript must not contain Alice's exchange.
	for _, msg := range provider.requests[1].Messages {
		if strings.Contains(msg.Content, "hi alice") {
			t.Error("conversations leaked across user keys")
		}
	}
}

func TestChatResetConversation(t *testing.T) {
	provider := &scriptedProvider{responses: []ChatResponse{
		textResponse("first"),
		textResponse("second"),
	}}
	chat, _ := newTestChat(t, provider)

	if _, err := chat.Chat(context.Background(), "u1", "one"); err != nil {
		t.Fatal(err)
	}
	if err := chat.ResetConversation(context.Background(), "u1"); err != nil {
		t.Fatalf("ResetConversation: %v", err)
	}
	if _, err := chat.Chat(context.Background(), "u1", "two"); err != nil {
		t.Fatal(err)
	}

	// After the reset the second request starts fresh: system + user only.
	if got := len(provider.requests[1].Messages); got != 2 {
		t.Errorf("messages after reset = %d, want 2", got)
	}
}

func TestParseToolCalls(t *testing.T) {
	text := `First step:
TOOL_CALL: {
  "name": "read_file",
  "args": { "path": "a.txt" }
}
Then:
TOOL_CALL: {
  "name": "grep",
  "args": { "pattern": "x" }
}`
	calls := parseToolCalls(text)
	if len(calls) != 2 {
		t.Fatalf("calls = %d", len(calls))
	}
	if calls[0].Name != "read_file" || calls[1].Name != "grep" {
		t.Errorf("names = %q, %q", calls[0].Name, calls[1].Name)
	}

	// Blocks without a name or without args are skipped.
	if got := parseToolCalls(`TOOL_CALL: {"args": {}}`); len(got) != 0 {
		t.Errorf("nameless block parsed: %+v", got)
	}
	if got := parseToolCalls(`TOOL_CALL: {"name": "grep"}`); len(got) != 0 {
		t.Errorf("argless block parsed: %+v", got)
	}
	if got := parseToolCalls("no calls here"); len(got) != 0 {
		t.Errorf("phantom calls: %+v", got)
	}
}

func TestParseToolCallsPaddedMarker(t *testing.T) {
	// Whitespace between the marker and the object must not shift the
	// scan back inside the object, where marker-like text next to a
	// nested name/args pair would look like a second call.
	text := "TOOL_CALL:" + strings.Repeat(" ", 100) +
		`{"name": "write_file", "args": {"path": "TOOL_CALL:", "extra": {"name": "grep", "args": {"pattern": "x"}}}}`

	calls := parseToolCalls(text)
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1: %+v", len(calls), calls)
	}
	if calls[0].Name != "write_file" {
		t.Errorf("name = %q", calls[0].Name)
	}
}
