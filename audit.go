package aegis

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const auditPreviewLen = 500

// Event types recorded in the audit trail.
const (
	EventToolCall          = "tool_call"
	EventPlannerDecision   = "planner_decision"
	EventResponderResponse = "responder_response"
	EventError             = "error"
)

// AuditEntry is one line of the audit trail. Which fields are set
// depends on EventType.
type AuditEntry struct {
	Timestamp string `json:"timestamp"`
	LoopID    int    `json:"loop_id"`
	EventType string `json:"event_type"`

	// tool_call
	ToolName    string          `json:"tool_name,omitempty"`
	Args        json.RawMessage `json:"args,omitempty"`
	Output      string          `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	ExitCode    int             `json:"exit_code,omitempty"`
	DurationSec float64         `json:"duration_sec,omitempty"`
	Success     *bool           `json:"success,omitempty"`

	// planner_decision
	Decision  *PlannerOutput `json:"decision,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`

	// responder_response
	ResponsePreview string `json:"response_preview,omitempty"`
	ToolCount       int    `json:"tool_count_processed,omitempty"`

	// error
	ErrorType    string         `json:"error_type,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
}

// AuditLog is an append-only JSONL trail of every planner decision, tool
// call, responder reply and error, mirrored in memory for queries. Safe
// for concurrent use. File write failures are logged and never fail the
// recording call.
type AuditLog struct {
	mu         sync.Mutex
	path       string
	entries    []AuditEntry
	fullOutput bool
	log        *slog.Logger
}

// AuditOption configures an AuditLog.
type AuditOption func(*AuditLog)

// WithFullOutput disables the 500-char preview truncation so entries
// carry complete tool output.
func WithFullOutput() AuditOption {
	return func(a *AuditLog) { a.fullOutput = true }
}

// WithAuditLogger sets the structured logger.
func WithAuditLogger(l *slog.Logger) AuditOption {
	return func(a *AuditLog) { a.log = l }
}

// NewAuditLog opens an audit log appending to the JSONL file at path.
func NewAuditLog(path string, opts ...AuditOption) *AuditLog {
	a := &AuditLog{
		path: path,
		log:  nopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		a.log.Warn("create audit dir failed", "path", path, "error", err)
	}
	return a
}

func (a *AuditLog) preview(s string) string {
	if a.fullOutput {
		return s
	}
	return truncateStr(s, auditPreviewLen)
}

// record appends the entry to the in-memory mirror and the JSONL file.
func (a *AuditLog) record(entry AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)

	raw, err := json.Marshal(entry)
	if err != nil {
		a.log.Warn("failed to append to audit log", "path", a.path, "error", err)
		return
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		a.log.Warn("failed to append to audit log", "path", a.path, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		a.log.Warn("failed to append to audit log", "path", a.path, "error", err)
	}
}

// LogToolCall records one tool execution.
func (a *AuditLog) LogToolCall(loopID int, call ToolCall, res ToolResult) {
	success := res.Success
	a.record(AuditEntry{
		Timestamp:   time.Now().Format(time.RFC3339Nano),
		LoopID:      loopID,
		EventType:   EventToolCall,
		ToolName:    call.Name,
		Args:        call.Args,
		Output:      a.preview(res.Output),
		Error:       a.preview(res.Error),
		ExitCode:    res.ExitCode,
		DurationSec: res.DurationSec(),
		Success:     &success,
	})
}

// LogPlannerDecision records a planner decision.
func (a *AuditLog) LogPlannerDecision(loopID int, decision *PlannerOutput) {
	a.record(AuditEntry{
		Timestamp: time.Now().Format(time.RFC3339Nano),
		LoopID:    loopID,
		EventType: EventPlannerDecision,
		Decision:  decision,
		Reasoning: a.preview(decision.ReasonBrief),
	})
}

// LogResponderResponse records a responder reply.
func (a *AuditLog) LogResponderResponse(loopID int, response string, toolCount int) {
	a.record(AuditEntry{
		Timestamp:       time.Now().Format(time.RFC3339Nano),
		LoopID:          loopID,
		EventType:       EventResponderResponse,
		ResponsePreview: truncateStr(response, 300),
		ToolCount:       toolCount,
	})
}

// LogError records an error event with optional context.
func (a *AuditLog) LogError(loopID int, errorType, message string, context map[string]any) {
	a.record(AuditEntry{
		Timestamp:    time.Now().Format(time.RFC3339Nano),
		LoopID:       loopID,
		EventType:    EventError,
		ErrorType:    errorType,
		ErrorMessage: message,
		Context:      context,
	})
}

// Entries returns a copy of all recorded entries.
func (a *AuditLog) Entries() []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AuditEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// EntriesForLoop returns the entries recorded during one loop iteration.
func (a *AuditLog) EntriesForLoop(loopID int) []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []AuditEntry
	for _, e := range a.entries {
		if e.LoopID == loopID {
			out = append(out, e)
		}
	}
	return out
}

// LastN returns up to the last n entries.
func (a *AuditLog) LastN(n int) []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := len(a.entries) - n
	if start < 0 {
		start = 0
	}
	out := make([]AuditEntry, len(a.entries)-start)
	copy(out, a.entries[start:])
	return out
}

// ToolStats aggregates executions of one tool.
type ToolStats struct {
	Calls            int     `json:"calls"`
	Successful       int     `json:"successful"`
	Failed           int     `json:"failed"`
	TotalDurationSec float64 `json:"total_duration_sec"`
}

// ToolSummary aggregates all tool executions in the trail.
type ToolSummary struct {
	TotalCalls       int                  `json:"total_calls"`
	Successful       int                  `json:"successful"`
	Failed           int                  `json:"failed"`
	ByTool           map[string]ToolStats `json:"by_tool"`
	TotalDurationSec float64              `json:"total_duration_sec"`
}

// GetToolSummary aggregates every tool_call entry.
func (a *AuditLog) GetToolSummary() ToolSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	summary := ToolSummary{ByTool: map[string]ToolStats{}}
	for _, e := range a.entries {
		if e.EventType != EventToolCall {
			continue
		}
		success := e.Success != nil && *e.Success

		summary.TotalCalls++
		summary.TotalDurationSec += e.DurationSec
		if success {
			summary.Successful++
		} else {
			summary.Failed++
		}

		stats := summary.ByTool[e.ToolName]
		stats.Calls++
		stats.TotalDurationSec += e.DurationSec
		if success {
			stats.Successful++
		} else {
			stats.Failed++
		}
		summary.ByTool[e.ToolName] = stats
	}
	return summary
}

// LoopAnalysis is the post-hoc view of one loop iteration.
type LoopAnalysis struct {
	LoopID           int         `json:"loop_id"`
	EntriesCount     int         `json:"entries_count"`
	ToolsCalled      []string    `json:"tools_called"`
	TotalDurationSec float64     `json:"total_duration_sec"`
	AllSuccessful    bool        `json:"all_successful"`
	Errors           []LoopError `json:"errors"`
}

// LoopError names one failed tool within a loop.
type LoopError struct {
	Tool  string `json:"tool"`
	Error string `json:"error"`
}

// AnalyzeLoop summarizes one loop iteration: tools called, duration, and
// failures.
func (a *AuditLog) AnalyzeLoop(loopID int) LoopAnalysis {
	entries := a.EntriesForLoop(loopID)

	analysis := LoopAnalysis{
		LoopID:        loopID,
		EntriesCount:  len(entries),
		AllSuccessful: true,
	}
	seen := map[string]bool{}
	for _, e := range entries {
		if e.EventType != EventToolCall {
			continue
		}
		if !seen[e.ToolName] {
			seen[e.ToolName] = true
			analysis.ToolsCalled = append(analysis.ToolsCalled, e.ToolName)
		}
		analysis.TotalDurationSec += e.DurationSec
		if e.Success == nil || !*e.Success {
			analysis.AllSuccessful = false
			errMsg := e.Error
			if errMsg == "" {
				errMsg = "Unknown error"
			}
			analysis.Errors = append(analysis.Errors, LoopError{Tool: e.ToolName, Error: errMsg})
		}
	}
	return analysis
}

// LoadFromFile replaces the in-memory mirror with the entries parsed
// from the JSONL file. Blank lines are skipped.
func (a *AuditLog) LoadFromFile() error {
	f, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var entries []AuditEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry AuditEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return fmt.Errorf("parse audit log line: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}

	a.mu.Lock()
	a.entries = entries
	a.mu.Unlock()
	return nil
}

// ExportSummary renders a human-readable digest of the trail.
func (a *AuditLog) ExportSummary() string {
	summary := a.GetToolSummary()
	var b strings.Builder
	fmt.Fprintf(&b, "=== Audit Log Summary ===\n")
	fmt.Fprintf(&b, "Total tool calls: %d\n", summary.TotalCalls)
	fmt.Fprintf(&b, "Successful: %d\n", summary.Successful)
	fmt.Fprintf(&b, "Failed: %d\n", summary.Failed)
	fmt.Fprintf(&b, "Total duration: %.2fs\n\nBy Tool:", summary.TotalDurationSec)
	for tool, stats := range summary.ByTool {
		fmt.Fprintf(&b, "\n  %s: %d calls (%d✓ %d✗) %.2fs",
			tool, stats.Calls, stats.Successful, stats.Failed, stats.TotalDurationSec)
	}
	return b.String()
}

// Clear drops the in-memory mirror and deletes the JSONL file.
func (a *AuditLog) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = nil
	if err := os.Remove(a.path); err != nil && !os.IsNotExist(err) {
		a.log.Warn("failed to remove audit log", "path", a.path, "error", err)
	}
}
