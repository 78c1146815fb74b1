// Package aegis is an LLM-driven OS automation agent for Go.
//
// It runs a bounded Planner → ToolRunner → Responder loop: a planning LLM
// decides which sandboxed tools to call, the runner executes them inside a
// workspace under security constraints, and a responder LLM turns the results
// into a user-facing reply. The loop repeats until the task is complete or
// the iteration budget is exhausted.
//
// # Quick Start
//
//	provider := openaicompat.NewProvider(apiKey, model, baseURL)
//	memory := aegis.NewMemory("data/memory.json")
//	audit := aegis.NewAuditLog("data/runlog.jsonl")
//	constraints, err := aegis.NewConstraints("./workspace",
//		aegis.WithAllowedCommands("ls", "cat", "grep"))
//	runner := aegis.NewToolRunner(constraints, aegis.WithRunnerAudit(audit))
//
//	state := aegis.NewState()
//	loop := aegis.NewAgentLoop(
//		aegis.NewPlanner(provider, memory, state, aegis.WithPlannerAudit(audit)),
//		runner,
//		aegis.NewResponder(provider, memory, state, aegis.WithResponderAudit(audit)),
//		state, memory,
//		aegis.WithMaxLoops(5),
//	)
//
//	answer, err := loop.Run(ctx, "list the files in the workspace")
//
// # Core pieces
//
//   - [Provider]: chat-completion backend (see provider/openaicompat)
//   - [Constraints]: path containment, command allowlist, timeouts, output caps
//   - [ToolRunner]: the six workspace tools (list_dir, read_file, write_file,
//     edit_file, exec_cmd, grep)
//   - [Memory]: durable preferences, environment facts, and decisions
//   - [State]: per-request working set shared by Planner and Responder
//   - [AuditLog]: append-only JSONL trail of every decision and tool call
//   - [AgentLoop]: the bounded orchestration loop
//   - [ChatAgent]: single-transcript conversational driver with free-text
//     TOOL_CALL parsing for models without native function calling
//
// Persistence for conversational transcripts is pluggable via
// [TranscriptStore]; see store/sqlite and store/postgres.
package aegis
