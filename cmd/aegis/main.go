package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	aegis "github.com/Juntar0/aegis"
	"github.com/Juntar0/aegis/internal/config"
	"github.com/Juntar0/aegis/observer"
	"github.com/Juntar0/aegis/provider/openaicompat"
	"github.com/Juntar0/aegis/store/postgres"
	"github.com/Juntar0/aegis/store/sqlite"
)

func main() {
	// 1. Load config
	cfg := config.Load(os.Getenv("AEGIS_CONFIG"))

	logger, logClose, err := newLogger(cfg.Debug)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logClose()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Create provider
	var provider aegis.Provider = openaicompat.NewProvider(
		cfg.VLLM.APIKey, cfg.VLLM.Model, cfg.VLLM.BaseURL,
		openaicompat.WithName("vllm"),
		openaicompat.WithLogger(logger),
		openaicompat.WithOptions(
			openaicompat.WithTemperature(cfg.VLLM.Temperature),
			openaicompat.WithMaxTokens(cfg.VLLM.MaxTokens),
		),
	)

	// 3. Observability (optional)
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		if cfg.Observer.Endpoint != "" {
			os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Observer.Endpoint)
		}
		i, shutdown, err := observer.Init(ctx)
		if err != nil {
			log.Fatalf("observer init: %v", err)
		}
		defer shutdown(context.Background())
		provider = observer.WrapProvider(provider, "vllm", cfg.VLLM.Model, i)
		inst = i
	}

	// 4. Sandbox + tools
	copts := []aegis.ConstraintsOption{
		aegis.WithTimeout(time.Duration(cfg.Security.TimeoutSec) * time.Second),
		aegis.WithMaxOutput(cfg.Security.MaxOutputSize),
		aegis.WithMaxStderr(cfg.Security.MaxStderrSize),
	}
	if len(cfg.Security.AllowedCommands) > 0 {
		copts = append(copts, aegis.WithAllowedCommands(cfg.Security.AllowedCommands...))
	}
	if cfg.Security.StrictExec {
		copts = append(copts, aegis.WithStrictExec())
	}
	if !cfg.Security.ExecEnabled {
		copts = append(copts, aegis.WithExecDisabled())
	}
	constraints, err := aegis.NewConstraints(cfg.Workspace.Dir, copts...)
	if err != nil {
		log.Fatalf("workspace: %v", err)
	}

	audit := aegis.NewAuditLog(cfg.Audit.File, auditOpts(cfg, logger)...)
	memory := aegis.NewMemory(cfg.Memory.File, aegis.WithMemoryLogger(logger))

	var runner aegis.Runner = aegis.NewToolRunner(constraints,
		aegis.WithRunnerAudit(audit),
		aegis.WithRunnerLogger(logger))
	if inst != nil {
		runner = observer.WrapRunner(runner, inst)
	}

	// 5. Agent loop
	state := aegis.NewState()
	loop := aegis.NewAgentLoop(
		aegis.NewPlanner(provider, memory, state,
			aegis.WithPlannerAudit(audit), aegis.WithPlannerLogger(logger)),
		runner,
		aegis.NewResponder(provider, memory, state,
			aegis.WithResponderAudit(audit), aegis.WithResponderLogger(logger)),
		state, memory,
		aegis.WithMaxLoops(cfg.Agent.MaxLoops),
		aegis.WithLoopWait(time.Duration(cfg.Agent.LoopWaitSec*float64(time.Second))),
		aegis.WithLoopAudit(audit),
		aegis.WithLoopLogger(logger),
	)

	// 6. Transcript store for the chat driver
	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer store.Close()

	chatOpts := []aegis.ChatOption{
		aegis.WithChatStore(store),
		aegis.WithChatLogger(logger),
		aegis.WithChatRole(cfg.SystemPrompt.Role),
		aegis.WithChatWorkspace(constraints.Root()),
	}
	if !cfg.VLLM.EnableFunctionCalling {
		chatOpts = append(chatOpts, aegis.WithoutNativeCalling())
	}
	chat := aegis.NewChatAgent(provider, runner, chatOpts...)

	// 7. REPL. "aegis chat" drives the conversational agent; the
	// default mode runs one bounded agent loop per request.
	chatMode := len(os.Args) > 1 && os.Args[1] == "chat"

	fmt.Printf("aegis ready (workspace: %s, model: %s)\n", constraints.Root(), cfg.VLLM.Model)
	fmt.Println("Type a request, or 'quit' to exit.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}

		var answer string
		var err error
		if chatMode {
			answer, err = chat.Chat(ctx, "local", line)
		} else {
			answer, err = loop.Run(ctx, line)
		}
		if err != nil {
			logger.Error("request failed", "error", err)
		}
		fmt.Println(answer)

		if !chatMode {
			summary := loop.GetExecutionSummary()
			logger.Info("request done",
				"loops", summary.TotalLoops,
				"tool_calls", summary.ToolCallsTotal,
				"facts", summary.FactsDiscovered)
		}
	}
}

// newLogger builds the process logger from the debug config. Disabled
// debug (or level "none") stays at info; "verbose" adds source
// locations. The returned func closes the log file, if any.
func newLogger(dc config.DebugConfig) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if dc.Enabled {
		switch dc.Level {
		case "none":
		case "verbose":
			opts.Level = slog.LevelDebug
			opts.AddSource = true
		default: // "basic"
			opts.Level = slog.LevelDebug
		}
	}

	out := io.Writer(os.Stderr)
	closeFn := func() {}
	if dc.Enabled && dc.LogFile != "" {
		f, err := os.OpenFile(dc.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		out = io.MultiWriter(os.Stderr, f)
		closeFn = func() { f.Close() }
	}
	return slog.New(slog.NewTextHandler(out, opts)), closeFn, nil
}

func auditOpts(cfg config.Config, logger *slog.Logger) []aegis.AuditOption {
	opts := []aegis.AuditOption{aegis.WithAuditLogger(logger)}
	if cfg.Audit.FullOutput {
		opts = append(opts, aegis.WithFullOutput())
	}
	return opts
}

// openStore picks the transcript store from config. SQLite is the
// default; AEGIS_STORE_POSTGRES_URL switches to PostgreSQL.
func openStore(ctx context.Context, cfg config.Config) (aegis.TranscriptStore, error) {
	if cfg.Store.Driver == "postgres" {
		pool, err := pgxpool.New(ctx, cfg.Store.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		s := postgres.New(pool)
		if err := s.Init(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	}

	s := sqlite.New(cfg.Store.Path)
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}
