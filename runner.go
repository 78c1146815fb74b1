package aegis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// Runner executes a batch of planner tool calls and returns one result
// per call, in order. Implemented by ToolRunner; observer.WrapRunner
// decorates it with telemetry.
type Runner interface {
	ExecuteCalls(ctx context.Context, calls []ToolCall, loopID int) []ToolResult
}

// ToolRunner executes the six workspace tools under a Constraints policy.
// Tool failures are reported inside the ToolResult, never as Go errors;
// a failed call never halts the batch.
type ToolRunner struct {
	constraints *Constraints
	audit       *AuditLog
	log         *slog.Logger

	tools map[string]func(ctx context.Context, args json.RawMessage) toolOutcome
}

var _ Runner = (*ToolRunner)(nil)

// toolOutcome is the raw handler result before it is wrapped into a
// ToolResult. An empty err means success.
type toolOutcome struct {
	output   string
	err      string
	exitCode int
}

// RunnerOption configures a ToolRunner.
type RunnerOption func(*ToolRunner)

// WithRunnerAudit records every tool call in the audit log.
func WithRunnerAudit(a *AuditLog) RunnerOption {
	return func(r *ToolRunner) { r.audit = a }
}

// WithRunnerLogger sets the structured logger.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *ToolRunner) { r.log = l }
}

// NewToolRunner builds a runner over the given constraints. The
// workspace root is the constraints root.
func NewToolRunner(constraints *Constraints, opts ...RunnerOption) *ToolRunner {
	r := &ToolRunner{
		constraints: constraints,
		log:         nopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.tools = map[string]func(context.Context, json.RawMessage) toolOutcome{
		"list_dir":   r.toolListDir,
		"read_file":  r.toolReadFile,
		"write_file": r.toolWriteFile,
		"edit_file":  r.toolEditFile,
		"exec_cmd":   r.toolExecCmd,
		"grep":       r.toolGrep,
	}
	return r
}

// ExecuteCalls runs calls sequentially and returns their results in the
// same order.
func (r *ToolRunner) ExecuteCalls(ctx context.Context, calls []ToolCall, loopID int) []ToolResult {
	results := make([]ToolResult, 0, len(calls))
	for _, call := range calls {
		results = append(results, r.ExecuteSingle(ctx, call, loopID))
	}
	return results
}

// ExecuteSingle runs one tool call.
func (r *ToolRunner) ExecuteSingle(ctx context.Context, call ToolCall, loopID int) ToolResult {
	handler, ok := r.tools[call.Name]
	if !ok {
		res := ToolResult{
			ToolName: call.Name,
			Success:  false,
			Error:    fmt.Sprintf("Unknown tool: %s", call.Name),
		}
		r.record(loopID, call, res)
		return res
	}

	start := time.Now()
	out := r.invoke(ctx, handler, call.Args)
	dur := time.Since(start)

	res := ToolResult{
		ToolName: call.Name,
		Success:  out.err == "",
		Output:   out.output,
		Error:    out.err,
		ExitCode: out.exitCode,
		Duration: dur,
	}
	r.record(loopID, call, res)
	r.log.Debug("tool executed",
		"tool", call.Name,
		"loop_id", loopID,
		"success", res.Success,
		"duration_sec", res.DurationSec(),
		"output_len", len(res.Output))
	return res
}

// invoke dispatches to the handler, converting a panic into a failed
// outcome so one bad call cannot abort the batch.
func (r *ToolRunner) invoke(ctx context.Context, handler func(context.Context, json.RawMessage) toolOutcome, args json.RawMessage) (out toolOutcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("tool handler panicked", "panic", rec)
			out = toolOutcome{err: fmt.Sprintf("%v", rec)}
		}
	}()
	return handler(ctx, args)
}

func (r *ToolRunner) record(loopID int, call ToolCall, res ToolResult) {
	if r.audit != nil {
		r.audit.LogToolCall(loopID, call, res)
	}
}

// resolvePath validates containment and traversal, returning the
// absolute location inside the workspace.
func (r *ToolRunner) resolvePath(path string) (string, string) {
	if !r.constraints.ValidatePath(path) {
		return "", fmt.Sprintf("Path outside allowed root: %s", path)
	}
	if strings.Contains(path, "../") || strings.HasPrefix(path, "/") {
		return "", fmt.Sprintf("Path traversal detected: %s", path)
	}
	full, err := r.constraints.Resolve(path)
	if err != nil {
		return "", fmt.Sprintf("Path outside allowed root: %s", path)
	}
	return full, ""
}

// --- tool handlers ---

type listDirArgs struct {
	Path string `json:"path"`
}

func (r *ToolRunner) toolListDir(_ context.Context, raw json.RawMessage) toolOutcome {
	args := listDirArgs{Path: "."}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return toolOutcome{err: err.Error()}
		}
	}
	if args.Path == "" {
		args.Path = "."
	}

	full, errMsg := r.resolvePath(args.Path)
	if errMsg != "" {
		return toolOutcome{err: errMsg}
	}

	info, err := os.Stat(full)
	if err != nil {
		return toolOutcome{err: fmt.Sprintf("Directory not found: %s", args.Path)}
	}
	if !info.IsDir() {
		return toolOutcome{err: fmt.Sprintf("Not a directory: %s", args.Path)}
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		return toolOutcome{err: err.Error()}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name()+"/")
		} else {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return toolOutcome{output: strings.Join(names, "\n")}
}

type readFileArgs struct {
	Path   string `json:"path"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

func (r *ToolRunner) toolReadFile(_ context.Context, raw json.RawMessage) toolOutcome {
	var args readFileArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return toolOutcome{err: err.Error()}
	}
	if args.Path == "" {
		return toolOutcome{err: "path argument required"}
	}

	full, errMsg := r.resolvePath(args.Path)
	if errMsg != "" {
		return toolOutcome{err: errMsg}
	}

	info, err := os.Stat(full)
	if err != nil {
		return toolOutcome{err: fmt.Sprintf("File not found: %s", args.Path)}
	}
	if info.IsDir() {
		return toolOutcome{err: fmt.Sprintf("Not a file: %s", args.Path)}
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return toolOutcome{err: err.Error()}
	}

	lines := splitLines(string(data))
	if args.Offset > 0 {
		if args.Offset >= len(lines) {
			lines = nil
		} else {
			lines = lines[args.Offset:]
		}
	}
	if args.Limit > 0 && args.Limit < len(lines) {
		lines = lines[:args.Limit]
	}

	content := strings.Join(lines, "")
	content = r.constraints.TruncateOutput(content, r.constraints.MaxOutput())
	return toolOutcome{output: content}
}

// splitLines splits s into lines keeping the trailing newline on each
// line, matching line-oriented offset/limit semantics.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (r *ToolRunner) toolWriteFile(_ context.Context, raw json.RawMessage) toolOutcome {
	var args writeFileArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return toolOutcome{err: err.Error()}
	}
	if args.Path == "" {
		return toolOutcome{err: "path argument required"}
	}

	full, errMsg := r.resolvePath(args.Path)
	if errMsg != "" {
		return toolOutcome{err: errMsg}
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return toolOutcome{err: err.Error()}
	}
	if err := os.WriteFile(full, []byte(args.Content), 0o644); err != nil {
		return toolOutcome{err: err.Error()}
	}
	return toolOutcome{output: fmt.Sprintf("Wrote %d chars to %s", len(args.Content), args.Path)}
}

type editFileArgs struct {
	Path    string  `json:"path"`
	OldText *string `json:"oldText"`
	NewText *string `json:"newText"`
}

func (r *ToolRunner) toolEditFile(_ context.Context, raw json.RawMessage) toolOutcome {
	var args editFileArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return toolOutcome{err: err.Error()}
	}
	if args.Path == "" || args.OldText == nil || args.NewText == nil {
		return toolOutcome{err: "path, oldText, and newText arguments required"}
	}

	full, errMsg := r.resolvePath(args.Path)
	if errMsg != "" {
		return toolOutcome{err: errMsg}
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return toolOutcome{err: fmt.Sprintf("File not found: %s", args.Path)}
	}
	content := string(data)

	switch count := strings.Count(content, *args.OldText); {
	case count == 0:
		return toolOutcome{err: fmt.Sprintf("Text not found in %s", args.Path)}
	case count > 1:
		return toolOutcome{err: fmt.Sprintf("Text appears %d times in %s (must be unique)", count, args.Path)}
	}

	updated := strings.Replace(content, *args.OldText, *args.NewText, 1)
	if err := os.WriteFile(full, []byte(updated), 0o644); err != nil {
		return toolOutcome{err: err.Error()}
	}
	return toolOutcome{output: fmt.Sprintf("Successfully edited %s", args.Path)}
}

type execCmdArgs struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout"` // seconds
}

func (r *ToolRunner) toolExecCmd(ctx context.Context, raw json.RawMessage) toolOutcome {
	var args execCmdArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return toolOutcome{err: err.Error()}
	}
	if !r.constraints.ExecEnabled() {
		return toolOutcome{err: "Command execution is disabled"}
	}
	if args.Command == "" {
		return toolOutcome{err: "command argument required"}
	}

	if !r.constraints.ValidateCommand(args.Command) {
		name := args.Command
		if fields := strings.Fields(args.Command); len(fields) > 0 {
			name = fields[0]
		}
		return toolOutcome{err: fmt.Sprintf("Command not allowed: %s", name)}
	}

	timeout := r.constraints.EffectiveTimeout(time.Duration(args.Timeout) * time.Second)
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "sh", "-c", args.Command)
	cmd.Dir = r.constraints.Root()

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if cctx.Err() == context.DeadlineExceeded {
		return toolOutcome{
			err:      fmt.Sprintf("Command timed out after %ds", int(timeout.Seconds())),
			exitCode: 124,
		}
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return toolOutcome{err: err.Error(), exitCode: 1}
		}
	}

	output := stdout.String()
	if errOut := stderr.String(); errOut != "" {
		errOut = r.constraints.TruncateOutput(errOut, r.constraints.MaxStderr())
		output += "\n[stderr]\n" + errOut
	}
	output = r.constraints.TruncateOutput(output, r.constraints.MaxOutput())

	return toolOutcome{output: output, exitCode: exitCode}
}

type grepArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path"`
}

func (r *ToolRunner) toolGrep(_ context.Context, raw json.RawMessage) toolOutcome {
	args := grepArgs{Path: "."}
	if err := json.Unmarshal(raw, &args); err != nil {
		return toolOutcome{err: err.Error()}
	}
	if args.Pattern == "" {
		return toolOutcome{err: "pattern argument required"}
	}
	if args.Path == "" {
		args.Path = "."
	}

	full, errMsg := r.resolvePath(args.Path)
	if errMsg != "" {
		return toolOutcome{err: errMsg}
	}

	info, err := os.Stat(full)
	if err != nil {
		return toolOutcome{err: fmt.Sprintf("Path not found: %s", args.Path)}
	}

	var matches []string
	if !info.IsDir() {
		matches = grepFile(full, filepath.Base(full), args.Pattern)
	} else {
		root := r.constraints.Root()
		filepath.WalkDir(full, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil || d.IsDir() {
				return nil
			}
			rel, relErr := filepath.Rel(root, p)
			if relErr != nil {
				rel = p
			}
			matches = append(matches, grepFile(p, rel, args.Pattern)...)
			return nil
		})
	}

	output := "(no matches)"
	if len(matches) > 0 {
		output = strings.Join(matches, "\n")
	}
	output = r.constraints.TruncateOutput(output, r.constraints.MaxOutput())
	return toolOutcome{output: output}
}

// grepFile scans one file for substring matches, returning
// "label:lineno: line" entries. Unreadable and non-UTF-8 files yield
// nothing.
func grepFile(path, label, pattern string) []string {
	data, err := os.ReadFile(path)
	if err != nil || !utf8.Valid(data) {
		return nil
	}
	var matches []string
	for i, line := range strings.Split(string(data), "\n") {
		if strings.Contains(line, pattern) {
			matches = append(matches, fmt.Sprintf("%s:%d: %s", label, i+1, strings.TrimRight(line, " \t\r\n")))
		}
	}
	return matches
}
