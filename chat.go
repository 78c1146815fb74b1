package aegis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

const defaultChatRole = "You are a helpful OS automation assistant."

const toolCallMarker = "TOOL_CALL:"

// ChatAgent is the conversational driver: a per-user transcript with an
// inner tool-execution loop. Models with native function calling return
// structured calls; for everything else the agent parses TOOL_CALL
// blocks out of the reply text. Tool results are fed back into the
// transcript and the model is asked again, up to the iteration bound.
type ChatAgent struct {
	provider Provider
	runner   Runner
	store    TranscriptStore
	log      *slog.Logger

	role          string
	workspaceDir  string
	maxIterations int
	nativeCalling bool
	historyLimit  int

	mu            sync.Mutex
	conversations map[string][]ChatMessage
}

// ChatOption configures a ChatAgent.
type ChatOption func(*ChatAgent)

// WithChatStore persists transcripts across restarts.
func WithChatStore(s TranscriptStore) ChatOption {
	return func(c *ChatAgent) { c.store = s }
}

// WithChatLogger sets the structured logger.
func WithChatLogger(l *slog.Logger) ChatOption {
	return func(c *ChatAgent) { c.log = l }
}

// WithChatRole overrides the assistant role line of the system prompt.
func WithChatRole(role string) ChatOption {
	return func(c *ChatAgent) { c.role = role }
}

// WithChatWorkspace adds a workspace note to the system prompt.
func WithChatWorkspace(dir string) ChatOption {
	return func(c *ChatAgent) { c.workspaceDir = dir }
}

// WithChatIterations sets the inner tool-execution iteration bound.
func WithChatIterations(n int) ChatOption {
	return func(c *ChatAgent) { c.maxIterations = n }
}

// WithoutNativeCalling disables advertising tools to the provider, so
// only text-based TOOL_CALL parsing is used.
func WithoutNativeCalling() ChatOption {
	return func(c *ChatAgent) { c.nativeCalling = false }
}

// NewChatAgent builds a conversational agent over a provider and a tool
// runner. Defaults: 5 iterations, native function calling on.
func NewChatAgent(provider Provider, runner Runner, opts ...ChatOption) *ChatAgent {
	c := &ChatAgent{
		provider:      provider,
		runner:        runner,
		log:           nopLogger(),
		role:          defaultChatRole,
		maxIterations: 5,
		nativeCalling: true,
		historyLimit:  50,
		conversations: map[string][]ChatMessage{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// buildSystemPrompt composes the role line, the workspace note, the tool
// list and the TOOL_CALL format block.
func (c *ChatAgent) buildSystemPrompt() string {
	var b strings.Builder
	b.WriteString(c.role)
	b.WriteString("\n")

	if c.workspaceDir != "" {
		fmt.Fprintf(&b, "\nYour workspace directory is %s. All file paths are relative to it and all commands run inside it.\n", c.workspaceDir)
	}

	b.WriteString("\n## Available Tools\n\n")
	for _, spec := range toolCatalog {
		fmt.Fprintf(&b, "- **%s(%s)**: %s\n", spec.Name, spec.Signature, spec.Description)
	}

	b.WriteString(`
## Tool Call Format

To call a tool, use this exact format:
` + "```" + `
TOOL_CALL: {
  "name": "tool_name",
  "args": { ... }
}
` + "```" + `

Example:
` + "```" + `
TOOL_CALL: {
  "name": "read_file",
  "args": { "path": "README.md" }
}
` + "```" + `
`)
	return b.String()
}

// conversation returns the transcript for userKey, creating it with the
// system prompt and any persisted history on first access. Callers hold
// c.mu.
func (c *ChatAgent) conversation(ctx context.Context, userKey string) []ChatMessage {
	if conv, ok := c.conversations[userKey]; ok {
		return conv
	}

	conv := []ChatMessage{SystemMessage(c.buildSystemPrompt())}
	if c.store != nil {
		saved, err := c.store.GetMessages(ctx, userKey, c.historyLimit)
		if err != nil {
			c.log.Warn("failed to load transcript", "user_key", userKey, "error", err)
		}
		for _, msg := range saved {
			conv = append(conv, ChatMessage{Role: msg.Role, Content: msg.Content})
		}
	}
	c.conversations[userKey] = conv
	return conv
}

// appendMessage adds a message to the in-memory transcript and persists
// it best effort. Callers hold c.mu.
func (c *ChatAgent) appendMessage(ctx context.Context, userKey string, msg ChatMessage) {
	c.conversations[userKey] = append(c.conversations[userKey], msg)
	if c.store == nil {
		return
	}
	err := c.store.AppendMessage(ctx, TranscriptMessage{
		ID:        NewID(),
		UserKey:   userKey,
		Role:      msg.Role,
		Content:   msg.Content,
		CreatedAt: NowUnix(),
	})
	if err != nil {
		c.log.Warn("failed to persist transcript message", "user_key", userKey, "error", err)
	}
}

// Chat handles one user message, running the inner tool loop until the
// model replies without tool calls or the iteration bound is hit. The
// returned string is always a user-facing reply; err is non-nil only
// when the provider failed.
func (c *ChatAgent) Chat(ctx context.Context, userKey, message string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conversation(ctx, userKey)
	c.appendMessage(ctx, userKey, UserMessage(message))

	for iteration := 1; iteration <= c.maxIterations; iteration++ {
		req := ChatRequest{Messages: c.conversations[userKey]}
		if c.nativeCalling {
			req.Tools = ToolDefinitions()
		}

		resp, err := c.provider.Chat(ctx, req)
		if err != nil {
			errMsg := fmt.Sprintf("Error: %v", err)
			c.appendMessage(ctx, userKey, AssistantMessage(errMsg))
			return errMsg, err
		}

		calls := resp.ToolCalls
		if len(calls) == 0 {
			calls = parseToolCalls(resp.Content)
		}
		if len(calls) == 0 {
			c.appendMessage(ctx, userKey, AssistantMessage(resp.Content))
			return resp.Content, nil
		}

		c.log.Debug("chat tool calls", "user_key", userKey, "iteration", iteration, "count", len(calls))
		results := c.runner.ExecuteCalls(ctx, calls, iteration)

		c.appendMessage(ctx, userKey, AssistantMessage(resp.Content))
		c.appendMessage(ctx, userKey, UserMessage(formatChatToolResults(calls, results)))
	}

	final := "Reached maximum tool execution iterations. Please try a simpler request."
	c.appendMessage(ctx, userKey, AssistantMessage(final))
	return final, nil
}

// ResetConversation drops the transcript for userKey, in memory and in
// the store.
func (c *ChatAgent) ResetConversation(ctx context.Context, userKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conversations, userKey)
	if c.store != nil {
		return c.store.DeleteMessages(ctx, userKey)
	}
	return nil
}

// parseToolCalls extracts TOOL_CALL blocks from reply text. Each block
// is a balanced JSON object with "name" and "args"; malformed blocks are
// skipped.
func parseToolCalls(text string) []ToolCall {
	var calls []ToolCall
	rest := text
	for {
		idx := strings.Index(rest, toolCallMarker)
		if idx < 0 {
			break
		}
		rest = rest[idx+len(toolCallMarker):]

		jsonStr, ok := extractJSONObject(rest)
		if !ok {
			break
		}

		var call struct {
			Name string  `json:"name"`
			Args rawArgs `json:"args"`
		}
		if err := json.Unmarshal([]byte(jsonStr), &call); err == nil && call.Name != "" && call.Args.set {
			calls = append(calls, ToolCall{Name: call.Name, Args: call.Args.raw})
		}
		// Advance past the end of the object, not just its length:
		// extractJSONObject skips leading text before the opening brace.
		rest = rest[strings.IndexByte(rest, '{')+len(jsonStr):]
	}
	return calls
}

// rawArgs distinguishes a missing "args" key from an empty one.
type rawArgs struct {
	raw []byte
	set bool
}

func (a *rawArgs) UnmarshalJSON(data []byte) error {
	a.raw = append([]byte(nil), data...)
	a.set = true
	return nil
}

// formatChatToolResults renders a batch for feeding back into the
// transcript as a user message.
func formatChatToolResults(calls []ToolCall, results []ToolResult) string {
	var b strings.Builder
	b.WriteString("Tool execution results:\n")
	for i, res := range results {
		args := "{}"
		if i < len(calls) && len(calls[i].Args) > 0 {
			args = string(calls[i].Args)
		}
		fmt.Fprintf(&b, "\n**%d. %s**\nArgs: %s\n", i+1, res.ToolName, args)
		if res.Error != "" {
			fmt.Fprintf(&b, "Error: %s\n", res.Error)
		} else {
			fmt.Fprintf(&b, "Result: %s\n", res.Output)
		}
	}
	return b.String()
}
