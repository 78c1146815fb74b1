package aegis

import "fmt"

// ErrLLM reports a transport-level or parse-level failure talking to a
// chat-completion endpoint (unreachable host, malformed body).
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP reports a non-2xx response from a chat-completion endpoint,
// carrying the status and raw error body.
type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ErrInvalidPlan reports a Planner reply that could not be parsed into a
// valid decision (missing need_tools, malformed tool_calls, unparseable
// JSON). The agent loop aborts the request when it sees this error.
type ErrInvalidPlan struct {
	Reason string
	Raw    string // raw model reply, truncated for reporting
}

func (e *ErrInvalidPlan) Error() string {
	return fmt.Sprintf("invalid planner output: %s", e.Reason)
}
