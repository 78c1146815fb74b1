package aegis

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestAudit(t *testing.T, opts ...AuditOption) *AuditLog {
	t.Helper()
	return NewAuditLog(filepath.Join(t.TempDir(), "runlog.jsonl"), opts...)
}

func TestAuditToolCallPreview(t *testing.T) {
	a := newTestAudit(t)
	long := strings.Repeat("x", 600)

	a.LogToolCall(1, ToolCall{Name: "read_file"}, ToolResult{
		ToolName: "read_file", Success: true, Output: long,
	})

	entries := a.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	e := entries[0]
	if e.EventType != EventToolCall {
		t.Errorf("event type = %q", e.EventType)
	}
	if len(e.Output) != 500 {
		t.Errorf("preview length = %d, want 500", len(e.Output))
	}
	if e.Success == nil || !*e.Success {
		t.Error("success flag not recorded")
	}
}

func TestAuditFullOutput(t *testing.T) {
	a := newTestAudit(t, WithFullOutput())
	long := strings.Repeat("x", 600)

	a.LogToolCall(1, ToolCall{Name: "read_file"}, ToolResult{
		ToolName: "read_file", Success: true, Output: long,
	})
	if got := a.Entries()[0].Output; len(got) != 600 {
		t.Errorf("full output length = %d, want 600", len(got))
	}
}

func TestAuditEntriesForLoop(t *testing.T) {
	a := newTestAudit(t)
	a.LogToolCall(1, ToolCall{Name: "list_dir"}, ToolResult{ToolName: "list_dir", Success: true})
	a.LogToolCall(2, ToolCall{Name: "grep"}, ToolResult{ToolName: "grep", Success: true})
	a.LogToolCall(2, ToolCall{Name: "read_file"}, ToolResult{ToolName: "read_file", Success: true})

	if got := len(a.EntriesForLoop(2)); got != 2 {
		t.Errorf("loop 2 entries = %d", got)
	}
	if got := len(a.EntriesForLoop(9)); got != 0 {
		t.Errorf("loop 9 entries = %d", got)
	}
	if got := len(a.LastN(2)); got != 2 {
		t.Errorf("LastN(2) = %d", got)
	}
	if got := len(a.LastN(100)); got != 3 {
		t.Errorf("LastN(100) = %d", got)
	}
}

func TestAuditToolSummary(t *testing.T) {
	a := newTestAudit(t)
	a.LogToolCall(1, ToolCall{Name: "exec_cmd"}, ToolResult{
		ToolName: "exec_cmd", Success: true, Duration: 2 * time.Second,
	})
	a.LogToolCall(1, ToolCall{Name: "exec_cmd"}, ToolResult{
		ToolName: "exec_cmd", Success: false, Error: "boom", Duration: time.Second,
	})
	a.LogToolCall(2, ToolCall{Name: "grep"}, ToolResult{
		ToolName: "grep", Success: true, Duration: time.Second,
	})
	// Non-tool events must not count.
	a.LogPlannerDecision(2, &PlannerOutput{ReasonBrief: "x"})
	a.LogResponderResponse(2, "done", 1)

	s := a.GetToolSummary()
	if s.TotalCalls != 3 || s.Successful != 2 || s.Failed != 1 {
		t.Errorf("summary = %+v", s)
	}
	if s.TotalDurationSec != 4 {
		t.Errorf("total duration = %v", s.TotalDurationSec)
	}
	exec := s.ByTool["exec_cmd"]
	if exec.Calls != 2 || exec.Successful != 1 || exec.Failed != 1 {
		t.Errorf("exec_cmd stats = %+v", exec)
	}

	digest := a.ExportSummary()
	if !strings.HasPrefix(digest, "=== Audit Log Summary ===") {
		t.Errorf("digest header: %q", digest)
	}
	if !strings.Contains(digest, "Total tool calls: 3") {
		t.Errorf("digest missing totals:\n%s", digest)
	}
}

func TestAuditAnalyzeLoop(t *testing.T) {
	a := newTestAudit(t)
	a.LogToolCall(3, ToolCall{Name: "read_file"}, ToolResult{
		ToolName: "read_file", Success: true, Duration: time.Second,
	})
	a.LogToolCall(3, ToolCall{Name: "edit_file"}, ToolResult{
		ToolName: "edit_file", Success: false, Error: "Text not found in f.txt",
	})
	a.LogToolCall(3, ToolCall{Name: "read_file"}, ToolResult{
		ToolName: "read_file", Success: true,
	})

	an := a.AnalyzeLoop(3)
	if an.EntriesCount != 3 {
		t.Errorf("entries = %d", an.EntriesCount)
	}
	if len(an.ToolsCalled) != 2 {
		t.Errorf("tools called = %v", an.ToolsCalled)
	}
	if an.AllSuccessful {
		t.Error("failed tool not reflected")
	}
	if len(an.Errors) != 1 || an.Errors[0].Tool != "edit_file" || an.Errors[0].Error != "Text not found in f.txt" {
		t.Errorf("errors = %+v", an.Errors)
	}
}

func TestAuditLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runlog.jsonl")

	a := NewAuditLog(path)
	a.LogToolCall(1, ToolCall{Name: "list_dir"}, ToolResult{ToolName: "list_dir", Success: true, Output: "a.txt"})
	a.LogError(1, "LoopError", "boom", map[string]any{"loop_id": 1})

	b := NewAuditLog(path)
	if err := b.LoadFromFile(); err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	entries := b.Entries()
	if len(entries) != 2 {
		t.Fatalf("loaded %d entries", len(entries))
	}
	if entries[0].EventType != EventToolCall || entries[0].ToolName != "list_dir" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].EventType != EventError || entries[1].ErrorMessage != "boom" {
		t.Errorf("second entry = %+v", entries[1])
	}
}

func TestAuditLoadMissingFile(t *testing.T) {
	a := NewAuditLog(filepath.Join(t.TempDir(), "absent.jsonl"))
	if err := a.LoadFromFile(); err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(a.Entries()) != 0 {
		t.Error("entries from nowhere")
	}
}

func TestAuditClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runlog.jsonl")
	a := NewAuditLog(path)
	a.LogToolCall(1, ToolCall{Name: "grep"}, ToolResult{ToolName: "grep", Success: true})

	a.Clear()
	if len(a.Entries()) != 0 {
		t.Error("entries survived Clear")
	}
	if err := a.LoadFromFile(); err != nil {
		t.Fatalf("LoadFromFile after Clear: %v", err)
	}
	if len(a.Entries()) != 0 {
		t.Error("file survived Clear")
	}
}
