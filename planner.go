package aegis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
)

const plannerInstruction = `You are a planning agent for an OS automation system.

Your role is to decide what tools to call next based on:
1. The user's request
2. Your long-term memory (preferences, environment, decisions)
3. The current state (facts gathered, tasks remaining, loop history)

Output MUST be valid JSON with this exact structure:
{
  "need_tools": boolean,
  "tool_calls": [
    {"tool_name": "...", "args": {...}},
    ...
  ],
  "reason_brief": "string (max 300 chars)",
  "stop_condition": "string - what signals completion?"
}

RULES:
1. If no tools needed (e.g., can answer from memory), set need_tools=false and leave tool_calls empty
2. Only call tools that are available (see list below)
3. Prevent infinite loops: check history, don't repeat same calls
4. Be concise in reason_brief
5. Always output valid JSON, never include explanations outside JSON

FORBIDDEN:
- Making assumptions beyond what tools return
- Suggesting destructive operations without explicit user consent
- Calling tools in wrong order (dependencies matter)`

const maxReasonLen = 300

// Planner asks the planning model which tools to run next. Its reply
// must be a single JSON decision object; anything else is rejected with
// ErrInvalidPlan.
type Planner struct {
	provider Provider
	memory   *Memory
	state    *State
	audit    *AuditLog
	log      *slog.Logger
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithPlannerAudit records planner decisions and LLM errors in the
// audit log.
func WithPlannerAudit(a *AuditLog) PlannerOption {
	return func(p *Planner) { p.audit = a }
}

// WithPlannerLogger sets the structured logger.
func WithPlannerLogger(l *slog.Logger) PlannerOption {
	return func(p *Planner) { p.log = l }
}

// NewPlanner builds a planner over the shared memory and state.
func NewPlanner(provider Provider, memory *Memory, state *State, opts ...PlannerOption) *Planner {
	p := &Planner{
		provider: provider,
		memory:   memory,
		state:    state,
		log:      nopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan asks the model for the next decision. LLM transport errors and
// unparseable replies are returned as errors; the caller decides how to
// surface them.
func (p *Planner) Plan(ctx context.Context, userRequest string) (*PlannerOutput, error) {
	req := ChatRequest{
		Messages: []ChatMessage{
			SystemMessage(p.buildSystemPrompt(userRequest)),
			UserMessage("Generate a plan by responding with valid JSON."),
		},
	}

	resp, err := p.provider.Chat(ctx, req)
	if err != nil {
		if p.audit != nil {
			p.audit.LogError(p.state.LoopCount, "PlannerLLMError", err.Error(),
				map[string]any{"user_request": userRequest})
		}
		return nil, err
	}

	output, err := parsePlannerOutput(resp.Content)
	if err != nil {
		return nil, err
	}

	if p.audit != nil {
		p.audit.LogPlannerDecision(p.state.LoopCount, output)
	}
	p.log.Debug("planner decision",
		"loop_id", p.state.LoopCount,
		"need_tools", output.NeedTools,
		"tool_count", len(output.ToolCalls))
	return output, nil
}

func (p *Planner) buildSystemPrompt(userRequest string) string {
	goal := "Complete the request"
	if len(p.state.RemainingTasks) > 0 {
		goal = p.state.RemainingTasks[0]
	}

	var b strings.Builder
	b.WriteString(plannerInstruction)

	fmt.Fprintf(&b, "\n\nAvailable Tools:\n%s\n", toolSpecsPrompt())

	fmt.Fprintf(&b, "\nLong-term Memory (preferences, environment, repeated decisions):\n%s\n",
		p.memory.ToContext(2000))

	fmt.Fprintf(&b, "\nCurrent State (loop progress, facts, remaining tasks):\n%s\n\nLoop History (recent 3):\n%s\n",
		p.state.ToContext(), p.state.HistorySummary(3))

	fmt.Fprintf(&b, "\nUser Request (original):\n%s\n\nCurrent Goal: %s\n", userRequest, goal)

	b.WriteString("\nOutput your JSON response:")
	return b.String()
}

// parsePlannerOutput extracts and validates the decision JSON from a raw
// model reply.
func parsePlannerOutput(response string) (*PlannerOutput, error) {
	jsonStr, ok := extractJSONObject(response)
	if !ok {
		jsonStr = strings.TrimSpace(response)
	}

	var raw struct {
		NeedTools     *bool           `json:"need_tools"`
		ToolCalls     json.RawMessage `json:"tool_calls"`
		ReasonBrief   string          `json:"reason_brief"`
		StopCondition string          `json:"stop_condition"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, &ErrInvalidPlan{
			Reason: fmt.Sprintf("invalid JSON from planner: %v", err),
			Raw:    truncateStr(response, 500),
		}
	}
	if raw.NeedTools == nil {
		return nil, &ErrInvalidPlan{
			Reason: "missing 'need_tools' field in planner output",
			Raw:    truncateStr(response, 500),
		}
	}

	var calls []ToolCall
	if *raw.NeedTools && len(raw.ToolCalls) > 0 {
		var rawCalls []struct {
			ToolName string          `json:"tool_name"`
			Args     json.RawMessage `json:"args"`
		}
		if err := json.Unmarshal(raw.ToolCalls, &rawCalls); err != nil {
			return nil, &ErrInvalidPlan{
				Reason: "'tool_calls' must be a list of objects",
				Raw:    truncateStr(response, 500),
			}
		}
		for _, rc := range rawCalls {
			if rc.ToolName == "" {
				return nil, &ErrInvalidPlan{
					Reason: "each tool call must have 'tool_name'",
					Raw:    truncateStr(response, 500),
				}
			}
			args := rc.Args
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			calls = append(calls, ToolCall{Name: rc.ToolName, Args: args})
		}
	}

	return &PlannerOutput{
		NeedTools:     *raw.NeedTools,
		ToolCalls:     calls,
		ReasonBrief:   truncateStr(raw.ReasonBrief, maxReasonLen),
		StopCondition: raw.StopCondition,
		RawResponse:   response,
	}, nil
}

// CheckRepeatedCalls reports whether the batch differs from the previous
// loop's batch. False means the planner is about to repeat itself
// exactly; callers treat this as an advisory signal. Must be called
// before the current plan is recorded in state, so the last history
// record is the previous loop.
func (p *Planner) CheckRepeatedCalls(calls []ToolCall) bool {
	if len(p.state.History) == 0 {
		return true
	}
	prev := p.state.History[len(p.state.History)-1]
	if prev.PlannerOutput == nil || len(prev.PlannerOutput.ToolCalls) == 0 {
		return true
	}
	prevCalls := prev.PlannerOutput.ToolCalls
	if len(calls) != len(prevCalls) {
		return true
	}
	for i := range calls {
		if calls[i].Name != prevCalls[i].Name || !sameArgs(calls[i].Args, prevCalls[i].Args) {
			return true
		}
	}
	return false
}

// sameArgs compares two raw argument objects structurally, so key order
// and whitespace differences do not count as distinct calls.
func sameArgs(a, b json.RawMessage) bool {
	var av, bv any
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return string(a) == string(b)
	}
	return reflect.DeepEqual(av, bv)
}
