package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	VLLM         VLLMConfig         `toml:"vllm"`
	Workspace    WorkspaceConfig    `toml:"workspace"`
	Security     SecurityConfig     `toml:"security"`
	Memory       MemoryConfig       `toml:"memory"`
	Audit        AuditConfig        `toml:"audit"`
	Agent        AgentConfig        `toml:"agent"`
	SystemPrompt SystemPromptConfig `toml:"system_prompt"`
	Store        StoreConfig        `toml:"store"`
	Observer     ObserverConfig     `toml:"observer"`
	Debug        DebugConfig        `toml:"debug"`
}

type VLLMConfig struct {
	BaseURL               string  `toml:"base_url"`
	Model                 string  `toml:"model"`
	APIKey                string  `toml:"api_key"`
	Temperature           float64 `toml:"temperature"`
	MaxTokens             int     `toml:"max_tokens"`
	EnableFunctionCalling bool    `toml:"enable_function_calling"`
}

type WorkspaceConfig struct {
	Dir string `toml:"dir"`
}

type SecurityConfig struct {
	AllowedCommands []string `toml:"allowed_commands"`
	TimeoutSec      int      `toml:"timeout_sec"`
	MaxOutputSize   int      `toml:"max_output_size"`
	MaxStderrSize   int      `toml:"max_stderr_size"`
	StrictExec      bool     `toml:"strict_exec"`
	ExecEnabled     bool     `toml:"exec_enabled"`
}

type MemoryConfig struct {
	File string `toml:"file"`
}

type AuditConfig struct {
	File       string `toml:"file"`
	FullOutput bool   `toml:"full_output"`
}

type AgentConfig struct {
	MaxLoops    int     `toml:"max_loops"`
	LoopWaitSec float64 `toml:"loop_wait_sec"`
}

type SystemPromptConfig struct {
	Role string `toml:"role"`
}

type StoreConfig struct {
	Driver      string `toml:"driver"` // "sqlite" or "postgres"
	Path        string `toml:"path"`   // sqlite file
	PostgresURL string `toml:"postgres_url"`
}

type ObserverConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
}

type DebugConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"` // "none", "basic" or "verbose"
	LogFile string `toml:"log_file"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		VLLM: VLLMConfig{
			BaseURL:               "http://localhost:8000/v1",
			Model:                 "Qwen/Qwen2.5-7B-Instruct",
			APIKey:                "dummy",
			Temperature:           0.7,
			MaxTokens:             2048,
			EnableFunctionCalling: true,
		},
		Workspace: WorkspaceConfig{Dir: "./workspace"},
		Security: SecurityConfig{
			TimeoutSec:    30,
			MaxOutputSize: 200000,
			MaxStderrSize: 50000,
			ExecEnabled:   true,
		},
		Memory: MemoryConfig{File: "./data/memory.json"},
		Audit:  AuditConfig{File: "./data/runlog.jsonl"},
		Agent: AgentConfig{
			MaxLoops:    5,
			LoopWaitSec: 0.5,
		},
		SystemPrompt: SystemPromptConfig{
			Role: "You are a helpful OS automation assistant.",
		},
		Store: StoreConfig{Driver: "sqlite", Path: "./data/aegis.db"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "aegis.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("AEGIS_VLLM_BASE_URL"); v != "" {
		cfg.VLLM.BaseURL = v
	}
	if v := os.Getenv("AEGIS_VLLM_MODEL"); v != "" {
		cfg.VLLM.Model = v
	}
	if v := os.Getenv("AEGIS_VLLM_API_KEY"); v != "" {
		cfg.VLLM.APIKey = v
	}
	if v := os.Getenv("AEGIS_WORKSPACE_DIR"); v != "" {
		cfg.Workspace.Dir = v
	}
	if v := os.Getenv("AEGIS_MEMORY_FILE"); v != "" {
		cfg.Memory.File = v
	}
	if v := os.Getenv("AEGIS_AUDIT_FILE"); v != "" {
		cfg.Audit.File = v
	}
	if v := os.Getenv("AEGIS_MAX_LOOPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Agent.MaxLoops = n
		}
	}
	if v := os.Getenv("AEGIS_STORE_POSTGRES_URL"); v != "" {
		cfg.Store.Driver = "postgres"
		cfg.Store.PostgresURL = v
	}
	if v := os.Getenv("AEGIS_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}
	if v := os.Getenv("AEGIS_OBSERVER_ENDPOINT"); v != "" {
		cfg.Observer.Endpoint = v
	}
	if v := os.Getenv("AEGIS_DEBUG"); v == "true" || v == "1" {
		cfg.Debug.Enabled = true
	}

	return cfg
}
