package aegis

import (
	"strings"
	"testing"
)

func TestStateLoopRecordUpsert(t *testing.T) {
	s := NewState()
	s.Reset("do things")
	s.StartLoop(1)

	s.AddPlannerOutput(&PlannerOutput{ReasonBrief: "look around", NeedTools: true})
	s.AddToolResults([]ToolResult{{ToolName: "list_dir", Success: true, Output: "a.txt"}})
	s.AddResponderOutput(&ResponderOutput{Response: "found a.txt"})

	if len(s.History) != 1 {
		t.Fatalf("history length = %d, want 1", len(s.History))
	}
	rec := s.History[0]
	if rec.LoopID != 1 || rec.PlannerOutput == nil || len(rec.ToolResults) != 1 || rec.ResponderOutput == nil {
		t.Errorf("loop record not fully populated: %+v", rec)
	}

	s.StartLoop(2)
	s.AddPlannerOutput(&PlannerOutput{ReasonBrief: "dig deeper"})
	if len(s.History) != 2 {
		t.Fatalf("history length after second loop = %d, want 2", len(s.History))
	}
}

func TestStateFactsAndTasks(t *testing.T) {
	s := NewState()
	s.AddFact("disk is 80% full")
	s.AddFact("disk is 80% full")
	s.AddFact("three log files")
	if len(s.Facts) != 2 {
		t.Errorf("facts = %v", s.Facts)
	}

	s.AddTask("clean logs")
	s.AddTask("clean logs")
	s.AddTask("verify space")
	if len(s.RemainingTasks) != 2 {
		t.Errorf("tasks = %v", s.RemainingTasks)
	}

	s.CompleteTask("clean logs")
	if len(s.RemainingTasks) != 1 || s.RemainingTasks[0] != "verify space" {
		t.Errorf("after complete: %v", s.RemainingTasks)
	}
	s.CompleteTask("never existed")
	if len(s.RemainingTasks) != 1 {
		t.Errorf("unknown task removal changed the set: %v", s.RemainingTasks)
	}
}

func TestStateShouldStop(t *testing.T) {
	s := NewState()
	if s.ShouldStop() {
		t.Error("fresh state should not stop")
	}

	s.AddFact("something")
	if !s.ShouldStop() {
		t.Error("facts gathered and no tasks should stop")
	}

	s.AddTask("more work")
	if s.ShouldStop() {
		t.Error("remaining tasks should keep going")
	}

	s.LoopCount = s.MaxLoops
	if !s.ShouldStop() {
		t.Error("exhausted loop budget should stop")
	}
}

func TestStateAddUserRequestKeepsFacts(t *testing.T) {
	s := NewState()
	s.Reset("first")
	s.StartLoop(3)
	s.AddFact("kept")

	s.AddUserRequest("second")
	if s.UserRequest != "second" {
		t.Errorf("request = %q", s.UserRequest)
	}
	if s.LoopCount != 0 {
		t.Errorf("loop counter not reset: %d", s.LoopCount)
	}
	if len(s.Facts) != 1 {
		t.Errorf("facts dropped: %v", s.Facts)
	}

	s.Reset("third")
	if len(s.Facts) != 0 {
		t.Errorf("Reset kept facts: %v", s.Facts)
	}
}

func TestHistorySummary(t *testing.T) {
	s := NewState()
	if got := s.HistorySummary(3); got != "## Loop History (none yet)" {
		t.Errorf("empty summary = %q", got)
	}

	for i := 1; i <= 5; i++ {
		s.StartLoop(i)
		s.AddToolResults([]ToolResult{{ToolName: "grep", Success: i%2 == 0, Output: "line", Error: ""}})
	}

	got := s.HistorySummary(3)
	if !strings.HasPrefix(got, "## Loop History (recent 3 loops)") {
		t.Errorf("header = %q", got)
	}
	if strings.Contains(got, "Loop 2:") {
		t.Error("old loop not trimmed")
	}
	if !strings.Contains(got, "Loop 5:") {
		t.Error("latest loop missing")
	}
	if !strings.Contains(got, "✗ grep") || !strings.Contains(got, "✓ grep") {
		t.Errorf("status markers missing:\n%s", got)
	}
}

func TestStateToContext(t *testing.T) {
	s := NewState()
	s.StartLoop(2)
	for _, f := range []string{"f1", "f2", "f3", "f4", "f5", "f6"} {
		s.AddFact(f)
	}
	s.AddTask("finish report")
	s.AddToolResults([]ToolResult{
		{ToolName: "read_file", Success: true, Output: "contents"},
		{ToolName: "exec_cmd", Success: false, Output: "boom"},
	})

	got := s.ToContext()
	if !strings.Contains(got, "Loop: 2/5") {
		t.Errorf("loop counter missing:\n%s", got)
	}
	if strings.Contains(got, "- f1") {
		t.Error("more than five facts rendered")
	}
	if !strings.Contains(got, "- f6") {
		t.Error("latest fact missing")
	}
	if !strings.Contains(got, "## Remaining Tasks") || !strings.Contains(got, "- finish report") {
		t.Error("tasks section missing")
	}
	if !strings.Contains(got, "read_file: success") || !strings.Contains(got, "exec_cmd: error") {
		t.Errorf("tool results missing:\n%s", got)
	}
}
