package openaicompat

import (
	"encoding/json"

	aegis "github.com/Juntar0/aegis"
)

// BuildBody converts aegis chat messages and a model name into an
// OpenAI-format ChatRequest. Options configure generation parameters
// (temperature, top_p, etc.).
func BuildBody(messages []aegis.ChatMessage, tools []aegis.ToolDefinition, model string, opts ...Option) ChatRequest {
	msgs := make([]Message, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, Message{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	req := ChatRequest{
		Model:    model,
		Messages: msgs,
	}
	if len(tools) > 0 {
		req.Tools = BuildToolDefs(tools)
	}

	for _, opt := range opts {
		opt(&req)
	}
	return req
}

// BuildToolDefs converts aegis ToolDefinitions to OpenAI tool format.
func BuildToolDefs(tools []aegis.ToolDefinition) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{}`)
		}
		out = append(out, Tool{
			Type: "function",
			Function: Function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
