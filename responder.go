package aegis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const responderInstruction = `You are a response agent for an OS automation system.

Your role is to explain the results of executed tools to the user in clear, natural language.
Keep responses SHORT and EASY TO READ.

RULES:
1. Only state facts from the tool results below
2. If tool execution failed, explain why briefly
3. Be VERY CONCISE - avoid unnecessary words
4. Use bullet points or numbered lists for clarity
5. Do NOT make assumptions beyond what tools returned
6. Do NOT speculate about system state
7. Respond in the same language as the user

OUTPUT FORMAT (choose the most appropriate):
If showing file/directory listing:
  - List items with bullet points
  - One item per line
  - No extra explanation needed

If showing command output:
  - Show the output directly
  - Add brief explanation only if needed

If tool failed:
  - State what was attempted
  - State why it failed
  - Suggest 1-2 fix options

IMPORTANT: Keep it SHORT. One paragraph maximum unless complex.`

// Responder turns tool results into the user-facing reply for one loop
// iteration and classifies whether the answer is final.
type Responder struct {
	provider Provider
	memory   *Memory
	state    *State
	audit    *AuditLog
	log      *slog.Logger
}

// ResponderOption configures a Responder.
type ResponderOption func(*Responder)

// WithResponderAudit records responder replies and LLM errors in the
// audit log.
func WithResponderAudit(a *AuditLog) ResponderOption {
	return func(r *Responder) { r.audit = a }
}

// WithResponderLogger sets the structured logger.
func WithResponderLogger(l *slog.Logger) ResponderOption {
	return func(r *Responder) { r.log = l }
}

// NewResponder builds a responder over the shared memory and state.
func NewResponder(provider Provider, memory *Memory, state *State, opts ...ResponderOption) *Responder {
	r := &Responder{
		provider: provider,
		memory:   memory,
		state:    state,
		log:      nopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Respond generates the reply for one loop iteration from its tool
// results.
func (r *Responder) Respond(ctx context.Context, userRequest string, results []ToolResult, loopID int) (*ResponderOutput, error) {
	req := ChatRequest{
		Messages: []ChatMessage{
			SystemMessage(r.buildSystemPrompt(userRequest, results)),
			UserMessage("Generate a natural language response based on the tool results above."),
		},
	}

	resp, err := r.provider.Chat(ctx, req)
	if err != nil {
		if r.audit != nil {
			r.audit.LogError(loopID, "ResponderLLMError", err.Error(),
				map[string]any{"user_request": userRequest})
		}
		return nil, err
	}

	output := r.parseOutput(resp.Content, results)

	if r.audit != nil {
		r.audit.LogResponderResponse(loopID, output.Response, len(results))
	}
	r.log.Debug("responder reply",
		"loop_id", loopID,
		"is_final", output.IsFinalAnswer,
		"tool_count", len(results))
	return output, nil
}

func (r *Responder) buildSystemPrompt(userRequest string, results []ToolResult) string {
	goal := "Complete the request"
	if len(r.state.RemainingTasks) > 0 {
		goal = r.state.RemainingTasks[0]
	}

	var b strings.Builder
	b.WriteString(responderInstruction)

	fmt.Fprintf(&b, "\n\nUser's Memory (preferences, environment, history):\n%s\n",
		r.memory.ToContext(2000))

	fmt.Fprintf(&b, "\nCurrent State:\n%s\n\nFacts gathered so far: %d\nRemaining tasks: %d\n",
		r.state.ToContext(), len(r.state.Facts), len(r.state.RemainingTasks))

	fmt.Fprintf(&b, "\n%s\n", formatToolResults(results))

	fmt.Fprintf(&b, "\nOriginal User Request:\n%s\n\nUser's Goal: %s\n", userRequest, goal)

	b.WriteString("\nGenerate your response:")
	return b.String()
}

// formatToolResults renders the batch for the responder prompt.
func formatToolResults(results []ToolResult) string {
	if len(results) == 0 {
		return "No tools were executed in this loop."
	}

	var b strings.Builder
	b.WriteString("Tool Execution Results (Loop):")
	for i, res := range results {
		fmt.Fprintf(&b, "\n\n%d. %s", i+1, res.ToolName)
		if res.Success {
			b.WriteString("\n   Status: ✓ Success")
			preview := res.Output
			if len(preview) > 200 {
				preview = fmt.Sprintf("%s... (%d more chars)", preview[:200], len(res.Output)-200)
			}
			fmt.Fprintf(&b, "\n   Output: %s", preview)
		} else {
			b.WriteString("\n   Status: ✗ Failed")
			fmt.Fprintf(&b, "\n   Error: %s", res.Error)
		}
		if res.Duration > 0 {
			fmt.Fprintf(&b, "\n   Duration: %.2fs", res.DurationSec())
		}
	}
	return b.String()
}

func (r *Responder) parseOutput(responseText string, results []ToolResult) *ResponderOutput {
	isFinal := r.isFinalAnswer(results)

	nextAction := ""
	if !isFinal {
		nextAction = extractNextAction(responseText)
	}

	return &ResponderOutput{
		Response:      responseText,
		Summary:       summarizeResults(responseText, results),
		NextAction:    nextAction,
		IsFinalAnswer: isFinal,
	}
}

// isFinalAnswer classifies the reply: final when nothing remains to do
// and the loop's tools did not all fail.
func (r *Responder) isFinalAnswer(results []ToolResult) bool {
	if len(r.state.RemainingTasks) > 0 {
		return false
	}
	if len(results) > 0 {
		allFailed := true
		for _, res := range results {
			if res.Success {
				allFailed = false
				break
			}
		}
		if allFailed {
			return false
		}
	}
	return true
}

// summarizeResults builds a one-line digest of the batch, falling back
// to the start of the response when no tools ran.
func summarizeResults(responseText string, results []ToolResult) string {
	parts := make([]string, 0, len(results))
	for _, res := range results {
		if res.Success {
			parts = append(parts, fmt.Sprintf("✓ %s succeeded", res.ToolName))
		} else {
			parts = append(parts, fmt.Sprintf("✗ %s failed: %s", res.ToolName, truncateStr(res.Error, 50)))
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "; ")
	}
	return truncateStr(responseText, 100)
}

// extractNextAction pulls the first "next step" sentence out of the
// reply, anchored on next/should/then, with its following line.
func extractNextAction(responseText string) string {
	lines := strings.Split(responseText, "\n")
	for i, line := range lines {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "next") || strings.Contains(lower, "should") || strings.Contains(lower, "then") {
			next := line
			if i+1 < len(lines) {
				next += "\n" + lines[i+1]
			}
			return strings.TrimSpace(next)
		}
	}
	return ""
}
