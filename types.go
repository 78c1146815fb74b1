package aegis

import (
	"context"
	"encoding/json"
	"time"
)

// --- LLM protocol types ---

// ChatMessage is a single message in a chat-completion conversation.
// Role is one of "system", "user", "assistant", "tool".
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the provider-agnostic chat request. When Tools is non-empty
// the provider advertises them for native function calling. Stream requests
// server-sent chunks; the accumulated response is still returned whole.
type ChatRequest struct {
	Messages []ChatMessage    `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
	Stream   bool             `json:"stream,omitempty"`
}

// ChatResponse is the parsed result of a chat completion.
type ChatResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// Usage holds token accounting from the model endpoint.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolDefinition describes one tool in OpenAI function-schema form.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// Provider is a chat-completion backend. Implementations must be safe for
// sequential reuse; the agent core never calls Chat concurrently within one
// request.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// --- Agent control-plane types ---

// ToolCall is a single tool invocation decided by the Planner (or extracted
// from a model reply). Args is the raw JSON argument object; handlers decode
// it into their typed parameter structs.
type ToolCall struct {
	Name string          `json:"tool_name"`
	Args json.RawMessage `json:"args"`
}

// ToolResult is the uniform outcome of one tool execution. Success holds
// exactly when Error is empty. ExitCode is 0 for non-exec tools and the
// process exit code for exec_cmd (124 on timeout).
type ToolResult struct {
	ToolName string        `json:"tool_name"`
	Success  bool          `json:"success"`
	Output   string        `json:"output"`
	Error    string        `json:"error,omitempty"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"-"`
}

// DurationSec returns the execution duration in seconds, the unit used in
// audit entries and prompt renderings.
func (r ToolResult) DurationSec() float64 {
	return r.Duration.Seconds()
}

// PlannerOutput is the Planner's parsed decision for one loop iteration.
// Invariant: NeedTools == false implies ToolCalls is empty.
type PlannerOutput struct {
	NeedTools     bool       `json:"need_tools"`
	ToolCalls     []ToolCall `json:"tool_calls"`
	ReasonBrief   string     `json:"reason_brief"`   // ≤ 300 chars
	StopCondition string     `json:"stop_condition"` // what signals completion
	RawResponse   string     `json:"-"`
}

// ResponderOutput is the Responder's reply for one loop iteration.
type ResponderOutput struct {
	Response      string `json:"response"`
	Summary       string `json:"summary"`
	NextAction    string `json:"next_action"`
	IsFinalAnswer bool   `json:"is_final_answer"`
}

// LoopRecord captures one Planner → ToolRunner → Responder iteration.
// The three sub-fields are filled in that order within a single iteration.
type LoopRecord struct {
	LoopID          int              `json:"loop_id"`
	Timestamp       time.Time        `json:"timestamp"`
	PlannerOutput   *PlannerOutput   `json:"planner_output,omitempty"`
	ToolResults     []ToolResult     `json:"tool_results"`
	ResponderOutput *ResponderOutput `json:"responder_output,omitempty"`
}

// --- Transcript persistence (conversational façade) ---

// TranscriptMessage is one persisted message of a conversational transcript.
type TranscriptMessage struct {
	ID        string `json:"id"`
	UserKey   string `json:"user_key"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

// TranscriptStore persists conversational transcripts across process
// restarts. Implementations: store/sqlite, store/postgres. Hosts must
// serialize access per user key; stores are not required to arbitrate
// concurrent writers for the same conversation.
type TranscriptStore interface {
	Init(ctx context.Context) error
	AppendMessage(ctx context.Context, msg TranscriptMessage) error
	GetMessages(ctx context.Context, userKey string, limit int) ([]TranscriptMessage, error)
	DeleteMessages(ctx context.Context, userKey string) error
	Close() error
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}
