package aegis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// AgentLoop drives the bounded Planner → ToolRunner → Responder loop for
// one request at a time. It owns the iteration budget, the pacing delay
// between iterations and the termination decision.
type AgentLoop struct {
	planner   *Planner
	runner    Runner
	responder *Responder
	state     *State
	memory    *Memory
	audit     *AuditLog
	log       *slog.Logger

	maxLoops int
	loopWait time.Duration
}

// LoopOption configures an AgentLoop.
type LoopOption func(*AgentLoop)

// WithMaxLoops sets the iteration budget.
func WithMaxLoops(n int) LoopOption {
	return func(l *AgentLoop) { l.maxLoops = n }
}

// WithLoopWait sets the pacing delay between iterations.
func WithLoopWait(d time.Duration) LoopOption {
	return func(l *AgentLoop) { l.loopWait = d }
}

// WithLoopAudit records loop-level errors in the audit log.
func WithLoopAudit(a *AuditLog) LoopOption {
	return func(l *AgentLoop) { l.audit = a }
}

// WithLoopLogger sets the structured logger.
func WithLoopLogger(log *slog.Logger) LoopOption {
	return func(l *AgentLoop) { l.log = log }
}

// NewAgentLoop wires the three components over the shared state and
// memory. Defaults: 5 loops, 500ms pacing.
func NewAgentLoop(planner *Planner, runner Runner, responder *Responder, state *State, memory *Memory, opts ...LoopOption) *AgentLoop {
	l := &AgentLoop{
		planner:   planner,
		runner:    runner,
		responder: responder,
		state:     state,
		memory:    memory,
		log:       nopLogger(),
		maxLoops:  5,
		loopWait:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.state.MaxLoops = l.maxLoops
	return l
}

// Run executes the loop for one request and returns the final response
// text. On a planner or responder failure the returned string is an
// error report for the user and err carries the underlying cause;
// exhausting the loop budget is not an error.
func (l *AgentLoop) Run(ctx context.Context, userRequest string) (string, error) {
	l.state.Reset(userRequest)

	for loopID := 1; loopID <= l.maxLoops; loopID++ {
		l.state.StartLoop(loopID)
		l.log.Info("loop started", "loop_id", loopID, "max_loops", l.maxLoops)

		plan, err := l.planner.Plan(ctx, userRequest)
		if err != nil {
			return l.failLoop(loopID, userRequest, err)
		}
		runTools := plan.NeedTools && len(plan.ToolCalls) > 0
		if runTools && !l.planner.CheckRepeatedCalls(plan.ToolCalls) {
			l.log.Warn("planner repeating previous tool calls", "loop_id", loopID)
		}
		l.state.AddPlannerOutput(plan)

		var results []ToolResult
		if runTools {
			results = l.runner.ExecuteCalls(ctx, plan.ToolCalls, loopID)
			l.state.AddToolResults(results)
		}

		reply, err := l.responder.Respond(ctx, userRequest, results, loopID)
		if err != nil {
			return l.failLoop(loopID, userRequest, err)
		}
		l.state.AddResponderOutput(reply)

		if l.shouldStop(plan, reply) {
			l.log.Info("loop finished", "loop_id", loopID, "is_final", reply.IsFinalAnswer)
			return reply.Response, nil
		}

		if loopID < l.maxLoops {
			select {
			case <-time.After(l.loopWait):
			case <-ctx.Done():
				return l.failLoop(loopID, userRequest, ctx.Err())
			}
		}
	}

	return l.finalResponseOnLimit(), nil
}

// failLoop logs the failure, renders the user-facing error report and
// returns it together with the wrapped cause.
func (l *AgentLoop) failLoop(loopID int, userRequest string, cause error) (string, error) {
	if l.audit != nil {
		l.audit.LogError(loopID, "LoopError", cause.Error(),
			map[string]any{"user_request": userRequest})
	}
	l.log.Error("loop aborted", "loop_id", loopID, "error", cause)

	msg := fmt.Sprintf("Error occurred during execution (Loop %d):\nError in loop %d: %v\n\nPlease check the audit log for details.\nDiscovered facts so far: %d",
		loopID, loopID, cause, len(l.state.Facts))
	return msg, fmt.Errorf("loop %d: %w", loopID, cause)
}

// shouldStop decides whether the current iteration ends the run: the
// planner needed no tools, the responder marked the answer final, or
// nothing remains to do after something was learned.
func (l *AgentLoop) shouldStop(plan *PlannerOutput, reply *ResponderOutput) bool {
	if !plan.NeedTools {
		return true
	}
	if reply.IsFinalAnswer {
		return true
	}
	if len(l.state.RemainingTasks) == 0 && len(l.state.Facts) > 0 {
		return true
	}
	return false
}

// finalResponseOnLimit renders the budget-exhausted report from the
// accumulated facts and tasks.
func (l *AgentLoop) finalResponseOnLimit() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reached maximum loop limit (%d iterations).\n\nSummary of findings:", l.maxLoops)

	if len(l.state.Facts) > 0 {
		b.WriteString("\n\nFacts discovered:")
		for _, fact := range l.state.Facts {
			fmt.Fprintf(&b, "\n  • %s", fact)
		}
	} else {
		b.WriteString("\n  (No facts discovered)")
	}

	if len(l.state.RemainingTasks) > 0 {
		b.WriteString("\n\nRemaining tasks:")
		for _, task := range l.state.RemainingTasks {
			fmt.Fprintf(&b, "\n  • %s", task)
		}
		b.WriteString("\n\nPlease review the audit log for more details.")
	} else {
		b.WriteString("\n\nAll tasks completed!")
	}
	return b.String()
}

// ExecutionSummary aggregates one run for reporting.
type ExecutionSummary struct {
	TotalLoops      int     `json:"total_loops"`
	MaxLoops        int     `json:"max_loops"`
	FactsDiscovered int     `json:"facts_discovered"`
	RemainingTasks  int     `json:"remaining_tasks"`
	Completed       bool    `json:"completed"`
	ToolCallsTotal  int     `json:"tool_calls_total"`
	ToolSuccessRate float64 `json:"tool_success_rate"`
}

// GetExecutionSummary computes run statistics from the state history.
func (l *AgentLoop) GetExecutionSummary() ExecutionSummary {
	summary := ExecutionSummary{
		TotalLoops:      l.state.LoopCount,
		MaxLoops:        l.maxLoops,
		FactsDiscovered: len(l.state.Facts),
		RemainingTasks:  len(l.state.RemainingTasks),
		Completed:       len(l.state.RemainingTasks) == 0,
	}

	successful := 0
	for _, rec := range l.state.History {
		for _, res := range rec.ToolResults {
			summary.ToolCallsTotal++
			if res.Success {
				successful++
			}
		}
	}
	if summary.ToolCallsTotal > 0 {
		summary.ToolSuccessRate = float64(successful) / float64(summary.ToolCallsTotal)
	}
	return summary
}
