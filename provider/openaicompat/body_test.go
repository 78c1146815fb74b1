package openaicompat

import (
	"encoding/json"
	"testing"

	aegis "github.com/Juntar0/aegis"
)

func TestBuildBody(t *testing.T) {
	messages := []aegis.ChatMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "list the files"},
	}

	req := BuildBody(messages, nil, "test-model")

	if req.Model != "test-model" {
		t.Errorf("expected model test-model, got %s", req.Model)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(req.Messages))
	}
	if req.Messages[0].Role != "system" || req.Messages[0].Content != "be brief" {
		t.Errorf("unexpected first message: %+v", req.Messages[0])
	}
	if len(req.Tools) != 0 {
		t.Errorf("expected no tools, got %d", len(req.Tools))
	}
}

func TestBuildBodyWithOptions(t *testing.T) {
	req := BuildBody(nil, nil, "m",
		WithTemperature(0.7),
		WithTopP(0.9),
		WithMaxTokens(2048),
		WithStop("\n\n"),
		WithSeed(42),
		WithToolChoice("auto"),
	)

	if req.Temperature == nil || *req.Temperature != 0.7 {
		t.Errorf("temperature not set: %v", req.Temperature)
	}
	if req.TopP == nil || *req.TopP != 0.9 {
		t.Errorf("top_p not set: %v", req.TopP)
	}
	if req.MaxTokens != 2048 {
		t.Errorf("max_tokens = %d", req.MaxTokens)
	}
	if len(req.Stop) != 1 || req.Stop[0] != "\n\n" {
		t.Errorf("stop = %v", req.Stop)
	}
	if req.Seed == nil || *req.Seed != 42 {
		t.Errorf("seed not set: %v", req.Seed)
	}
	if req.ToolChoice != "auto" {
		t.Errorf("tool_choice = %v", req.ToolChoice)
	}
}

func TestBuildToolDefs(t *testing.T) {
	tools := []aegis.ToolDefinition{
		{
			Name:        "grep",
			Description: "Search for a substring",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"pattern":{"type":"string"}}}`),
		},
		{
			Name:        "noop",
			Description: "No parameters",
		},
	}

	out := BuildToolDefs(tools)
	if len(out) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(out))
	}
	if out[0].Type != "function" {
		t.Errorf("expected type function, got %s", out[0].Type)
	}
	if out[0].Function.Name != "grep" || out[0].Function.Description != "Search for a substring" {
		t.Errorf("unexpected function: %+v", out[0].Function)
	}
	// Empty parameters fall back to an empty object.
	if string(out[1].Function.Parameters) != "{}" {
		t.Errorf("expected {} parameters, got %s", out[1].Function.Parameters)
	}
}

func TestBuildBodyOmitsEmptyFields(t *testing.T) {
	req := BuildBody([]aegis.ChatMessage{{Role: "user", Content: "hi"}}, nil, "m")

	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, absent := range []string{"temperature", "tools", "stream", "stop", "seed"} {
		if contains := string(raw); jsonHasKey(contains, absent) {
			t.Errorf("unset field %q serialized: %s", absent, raw)
		}
	}
}

func jsonHasKey(raw, key string) bool {
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return false
	}
	_, ok := m[key]
	return ok
}
