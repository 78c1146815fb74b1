package aegis

import (
	"fmt"
	"strings"
	"time"
)

// State is the per-request working set shared by Planner, ToolRunner and
// Responder within one agent loop run. It is not safe for concurrent use;
// the loop owns it for the duration of a request.
type State struct {
	LoopCount      int
	MaxLoops       int
	UserRequest    string
	History        []LoopRecord
	Facts          []string
	RemainingTasks []string
	LastResults    []ToolResult
	CreatedAt      time.Time
}

// NewState returns an empty state with the default loop budget.
func NewState() *State {
	return &State{
		MaxLoops:  5,
		CreatedAt: time.Now(),
	}
}

// Reset clears everything and installs a new user request.
func (s *State) Reset(userRequest string) {
	s.LoopCount = 0
	s.UserRequest = userRequest
	s.History = nil
	s.Facts = nil
	s.RemainingTasks = nil
	s.LastResults = nil
	s.CreatedAt = time.Now()
}

// AddUserRequest installs a follow-up request while keeping history,
// facts and remaining tasks from earlier turns. The loop counter starts
// over for the new request.
func (s *State) AddUserRequest(userRequest string) {
	s.UserRequest = userRequest
	s.LoopCount = 0
}

// StartLoop marks the beginning of loop iteration loopID.
func (s *State) StartLoop(loopID int) {
	s.LoopCount = loopID
}

// current returns the history record for the active loop, appending a
// fresh one if the last record belongs to an earlier loop.
func (s *State) current() *LoopRecord {
	if len(s.History) == 0 || s.History[len(s.History)-1].LoopID != s.LoopCount {
		s.History = append(s.History, LoopRecord{
			LoopID:    s.LoopCount,
			Timestamp: time.Now(),
		})
	}
	return &s.History[len(s.History)-1]
}

// AddPlannerOutput records the Planner's decision for the active loop.
func (s *State) AddPlannerOutput(out *PlannerOutput) {
	s.current().PlannerOutput = out
}

// AddToolResults records tool execution results for the active loop and
// updates the last-results window.
func (s *State) AddToolResults(results []ToolResult) {
	s.LastResults = results
	s.current().ToolResults = results
}

// AddResponderOutput records the Responder's reply for the active loop.
func (s *State) AddResponderOutput(out *ResponderOutput) {
	s.current().ResponderOutput = out
}

// AddFact appends a discovered fact, skipping duplicates.
func (s *State) AddFact(fact string) {
	for _, f := range s.Facts {
		if f == fact {
			return
		}
	}
	s.Facts = append(s.Facts, fact)
}

// AddTask appends a remaining task, skipping duplicates.
func (s *State) AddTask(task string) {
	for _, t := range s.RemainingTasks {
		if t == task {
			return
		}
	}
	s.RemainingTasks = append(s.RemainingTasks, task)
}

// CompleteTask removes a task from the remaining set. Unknown tasks are
// ignored.
func (s *State) CompleteTask(task string) {
	for i, t := range s.RemainingTasks {
		if t == task {
			s.RemainingTasks = append(s.RemainingTasks[:i], s.RemainingTasks[i+1:]...)
			return
		}
	}
}

// ShouldStop reports whether the loop may stop: either something was
// learned and nothing remains to do, or the loop budget is exhausted.
func (s *State) ShouldStop() bool {
	if len(s.RemainingTasks) == 0 && len(s.Facts) > 0 {
		return true
	}
	return s.LoopCount >= s.MaxLoops
}

// HistorySummary renders the most recent loops for Planner context.
func (s *State) HistorySummary(maxLoops int) string {
	recent := s.History
	if len(recent) > maxLoops {
		recent = recent[len(recent)-maxLoops:]
	}
	if len(recent) == 0 {
		return "## Loop History (none yet)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Loop History (recent %d loops)", len(recent))
	for _, rec := range recent {
		fmt.Fprintf(&b, "\n\nLoop %d:", rec.LoopID)
		if rec.PlannerOutput != nil {
			fmt.Fprintf(&b, "\n  Planner decision: %s (tools: %d)",
				rec.PlannerOutput.ReasonBrief, len(rec.PlannerOutput.ToolCalls))
		}
		for _, res := range rec.ToolResults {
			status := "✓"
			if !res.Success {
				status = "✗"
			}
			if res.Error != "" {
				fmt.Fprintf(&b, "\n  %s %s: ERROR: %s", status, res.ToolName, truncateStr(res.Error, 80))
			} else {
				preview := "(no output)"
				if res.Output != "" {
					preview = strings.ReplaceAll(truncateStr(res.Output, 80), "\n", " ")
				}
				fmt.Fprintf(&b, "\n  %s %s: %s", status, res.ToolName, preview)
			}
		}
		if rec.ResponderOutput != nil {
			preview := strings.ReplaceAll(truncateStr(rec.ResponderOutput.Response, 100), "\n", " ")
			fmt.Fprintf(&b, "\n  Response: %s", preview)
		}
	}
	return b.String()
}

// ToContext renders the working set for LLM prompts.
func (s *State) ToContext() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Current State\nLoop: %d/%d\nFacts gathered: %d\nTasks remaining: %d",
		s.LoopCount, s.MaxLoops, len(s.Facts), len(s.RemainingTasks))

	if len(s.Facts) > 0 {
		b.WriteString("\n\n## Facts Gathered")
		facts := s.Facts
		if len(facts) > 5 {
			facts = facts[len(facts)-5:]
		}
		for _, f := range facts {
			fmt.Fprintf(&b, "\n- %s", f)
		}
	}

	if len(s.RemainingTasks) > 0 {
		b.WriteString("\n\n## Remaining Tasks")
		for _, t := range s.RemainingTasks {
			fmt.Fprintf(&b, "\n- %s", t)
		}
	}

	if len(s.LastResults) > 0 {
		b.WriteString("\n\n## Last Tool Results")
		results := s.LastResults
		if len(results) > 3 {
			results = results[len(results)-3:]
		}
		for _, res := range results {
			status := "success"
			if !res.Success {
				status = "error"
			}
			fmt.Fprintf(&b, "\n- %s: %s - %s", res.ToolName, status, truncateStr(res.Output, 80))
		}
	}

	return b.String()
}

// Summary renders a short state digest for logs.
func (s *State) Summary() string {
	return fmt.Sprintf("State Summary:\n- Loop %d/%d\n- Facts: %d\n- Remaining tasks: %d\n- Last tool results: %d items",
		s.LoopCount, s.MaxLoops, len(s.Facts), len(s.RemainingTasks), len(s.LastResults))
}

// truncateStr caps s at max bytes.
func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
