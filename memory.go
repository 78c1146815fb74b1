package aegis

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const memoryVersion = "1.0"

type memoryData struct {
	Version           string                              `json:"version"`
	CreatedAt         string                              `json:"created_at"`
	LastUpdated       string                              `json:"last_updated"`
	UserPreferences   map[string]any                      `json:"user_preferences"`
	Environment       map[string]any                      `json:"environment"`
	RepeatedDecisions map[string]map[string]decisionEntry `json:"repeated_decisions"`
	Facts             map[string][]factEntry              `json:"facts"`
}

type decisionEntry struct {
	Value      any    `json:"value"`
	RecordedAt string `json:"recorded_at"`
}

type factEntry struct {
	Fact       string `json:"fact"`
	RecordedAt string `json:"recorded_at"`
}

func emptyMemoryData() memoryData {
	now := time.Now().Format(time.RFC3339)
	return memoryData{
		Version:           memoryVersion,
		CreatedAt:         now,
		LastUpdated:       now,
		UserPreferences:   map[string]any{},
		Environment:       map[string]any{},
		RepeatedDecisions: map[string]map[string]decisionEntry{},
		Facts:             map[string][]factEntry{},
	}
}

// Memory is the agent's durable store of user preferences, environment
// facts and repeated decisions, backed by a single JSON file. Every
// mutation persists immediately; persistence failures are logged and
// never fail the mutation.
type Memory struct {
	mu   sync.Mutex
	path string
	data memoryData
	log  *slog.Logger
}

// MemoryOption configures a Memory.
type MemoryOption func(*Memory)

// WithMemoryLogger sets the structured logger.
func WithMemoryLogger(l *slog.Logger) MemoryOption {
	return func(m *Memory) { m.log = l }
}

// NewMemory opens (or initializes) the memory file at path. A missing or
// unreadable file starts empty; unknown keys in an existing file are
// preserved only for the fields Memory models.
func NewMemory(path string, opts ...MemoryOption) *Memory {
	m := &Memory{
		path: path,
		data: emptyMemoryData(),
		log:  nopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		m.log.Warn("create memory dir failed", "path", path, "error", err)
	}
	m.load()
	return m
}

func (m *Memory) load() {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		if !os.IsNotExist(err) {
			m.log.Warn("failed to load memory", "path", m.path, "error", err)
		}
		return
	}
	loaded := emptyMemoryData()
	if err := json.Unmarshal(raw, &loaded); err != nil {
		m.log.Warn("failed to load memory", "path", m.path, "error", err)
		return
	}
	m.data = loaded
}

// save persists the current data. Callers hold m.mu.
func (m *Memory) save() {
	m.data.LastUpdated = time.Now().Format(time.RFC3339)
	raw, err := json.MarshalIndent(m.data, "", "  ")
	if err != nil {
		m.log.Warn("failed to save memory", "path", m.path, "error", err)
		return
	}
	if err := os.WriteFile(m.path, raw, 0o644); err != nil {
		m.log.Warn("failed to save memory", "path", m.path, "error", err)
	}
}

// SetPreference records a user preference and persists.
func (m *Memory) SetPreference(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.UserPreferences[key] = value
	m.save()
}

// GetPreference returns a user preference, or nil if unset.
func (m *Memory) GetPreference(key string) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UserPreferences[key]
}

// SetEnvironment records an environment fact and persists.
func (m *Memory) SetEnvironment(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.Environment[key] = value
	m.save()
}

// GetEnvironment returns an environment fact, or nil if unset.
func (m *Memory) GetEnvironment(key string) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.Environment[key]
}

// RecordDecision records a repeated decision under a category and
// persists. Later writes overwrite the same category/key pair.
func (m *Memory) RecordDecision(category, key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data.RepeatedDecisions[category] == nil {
		m.data.RepeatedDecisions[category] = map[string]decisionEntry{}
	}
	m.data.RepeatedDecisions[category][key] = decisionEntry{
		Value:      value,
		RecordedAt: time.Now().Format(time.RFC3339),
	}
	m.save()
}

// GetDecision returns a recorded decision's value, or nil if absent.
func (m *Memory) GetDecision(category, key string) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	cat, ok := m.data.RepeatedDecisions[category]
	if !ok {
		return nil
	}
	entry, ok := cat[key]
	if !ok {
		return nil
	}
	return entry.Value
}

// RecordFact appends a discovered fact under a category and persists.
// Facts accumulate; they are never overwritten.
func (m *Memory) RecordFact(category, fact string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.Facts[category] = append(m.data.Facts[category], factEntry{
		Fact:       fact,
		RecordedAt: time.Now().Format(time.RFC3339),
	})
	m.save()
}

// GetFacts returns recorded facts by category. With a non-empty category
// only that category is returned (possibly empty).
func (m *Memory) GetFacts(category string) map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string][]string{}
	if category != "" {
		facts := make([]string, 0, len(m.data.Facts[category]))
		for _, f := range m.data.Facts[category] {
			facts = append(facts, f.Fact)
		}
		out[category] = facts
		return out
	}
	for cat, entries := range m.data.Facts {
		facts := make([]string, 0, len(entries))
		for _, f := range entries {
			facts = append(facts, f.Fact)
		}
		out[cat] = facts
	}
	return out
}

// ToContext renders memory as a compact prompt section, capped at
// maxChars. Only the last three facts per category are included.
func (m *Memory) ToContext(maxChars int) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var parts []string
	if len(m.data.UserPreferences) > 0 {
		parts = append(parts, "## User Preferences")
		for key, value := range m.data.UserPreferences {
			parts = append(parts, fmt.Sprintf("- %s: %v", key, value))
		}
	}
	if len(m.data.Environment) > 0 {
		parts = append(parts, "\n## Environment")
		for key, value := range m.data.Environment {
			parts = append(parts, fmt.Sprintf("- %s: %v", key, value))
		}
	}
	if len(m.data.Facts) > 0 {
		parts = append(parts, "\n## Known Facts")
		for category, facts := range m.data.Facts {
			recent := facts
			if len(recent) > 3 {
				recent = recent[len(recent)-3:]
			}
			for _, f := range recent {
				parts = append(parts, fmt.Sprintf("- %s: %s", category, f.Fact))
			}
		}
	}

	ctx := strings.Join(parts, "\n")
	if len(ctx) > maxChars {
		ctx = ctx[:maxChars] + "\n... (truncated)"
	}
	if ctx == "" {
		return "(No memory yet)"
	}
	return ctx
}

// Clear deletes the memory file and resets to an empty state.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		m.log.Warn("failed to remove memory file", "path", m.path, "error", err)
	}
	m.data = emptyMemoryData()
}

// Summary renders a short digest for logs.
func (m *Memory) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	decisions := 0
	for _, cat := range m.data.RepeatedDecisions {
		decisions += len(cat)
	}
	facts := 0
	for _, entries := range m.data.Facts {
		facts += len(entries)
	}
	return fmt.Sprintf("Memory Summary:\n- Preferences: %d items\n- Environment: %d items\n- Decisions: %d recorded\n- Facts: %d discoveries\n- Last updated: %s",
		len(m.data.UserPreferences), len(m.data.Environment), decisions, facts, m.data.LastUpdated)
}
