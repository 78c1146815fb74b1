package aegis

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
)

// scriptedProvider replays a fixed sequence of responses (or errors),
// one per Chat call, and records every request it saw.
type scriptedProvider struct {
	responses []ChatResponse
	errs      []error
	calls     int
	requests  []ChatRequest
}

func (p *scriptedProvider) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	p.requests = append(p.requests, req)
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return ChatResponse{}, p.errs[i]
	}
	if i < len(p.responses) {
		return p.responses[i], nil
	}
	return ChatResponse{}, fmt.Errorf("scripted provider exhausted after %d calls", len(p.responses))
}

// textResponse is shorthand for a plain content-only reply.
func textResponse(content string) ChatResponse {
	return ChatResponse{Content: content}
}

// plannerJSON builds a planner decision reply.
func plannerJSON(needTools bool, calls string, reason string) ChatResponse {
	return textResponse(fmt.Sprintf(
		`{"need_tools": %t, "tool_calls": [%s], "reason_brief": %q, "stop_condition": "done"}`,
		needTools, calls, reason))
}

func newTestRunner(t *testing.T, opts ...ConstraintsOption) (*ToolRunner, string) {
	t.Helper()
	dir := t.TempDir()
	constraints, err := NewConstraints(dir, opts...)
	if err != nil {
		t.Fatalf("NewConstraints: %v", err)
	}
	return NewToolRunner(constraints), constraints.Root()
}

func mustArgs(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return raw
}
