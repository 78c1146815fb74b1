package openaicompat

import (
	"encoding/json"

	aegis "github.com/Juntar0/aegis"
)

// ParseResponse converts an OpenAI-format ChatResponse to an aegis
// ChatResponse. It extracts content, tool calls, and usage from
// choices[0].
func ParseResponse(resp ChatResponse) (aegis.ChatResponse, error) {
	var out aegis.ChatResponse

	if len(resp.Choices) == 0 {
		return out, nil
	}

	choice := resp.Choices[0]
	if choice.Message != nil {
		out.Content = choice.Message.Content
		out.ToolCalls = ParseToolCalls(choice.Message.ToolCalls)
	}

	if resp.Usage != nil {
		out.Usage = aegis.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	return out, nil
}

// ParseToolCalls converts OpenAI tool call requests to aegis ToolCalls.
// OpenAI returns function.arguments as a JSON string; invalid argument
// payloads fall back to an empty object.
func ParseToolCalls(tcs []ToolCallRequest) []aegis.ToolCall {
	if len(tcs) == 0 {
		return nil
	}

	out := make([]aegis.ToolCall, 0, len(tcs))
	for _, tc := range tcs {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		out = append(out, aegis.ToolCall{
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return out
}
