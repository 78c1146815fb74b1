package aegis

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultMaxOutput = 200000
	defaultMaxStderr = 50000
)

// dangerous shell constructs rejected in strict mode
var strictExecPatterns = []string{
	"&&", "||", ";", "|", "$(", "`", "../", "/..",
}

// Constraints enforces the sandbox policy for tool execution: path
// containment under a single root, a first-token command allowlist,
// timeout caps and output size caps.
type Constraints struct {
	root       string // absolute, symlink-resolved
	allowed    map[string]struct{}
	timeout      time.Duration
	maxOutput    int
	maxStderr    int
	strictExec   bool
	execDisabled bool
}

// ConstraintsOption configures Constraints.
type ConstraintsOption func(*Constraints)

// WithAllowedCommands sets the command allowlist. Only the first
// whitespace-separated token of a command line is matched. An empty
// allowlist permits every command.
func WithAllowedCommands(cmds ...string) ConstraintsOption {
	return func(c *Constraints) {
		for _, cmd := range cmds {
			c.allowed[cmd] = struct{}{}
		}
	}
}

// WithTimeout caps tool execution time. Per-call requests above the cap
// are clamped down to it.
func WithTimeout(d time.Duration) ConstraintsOption {
	return func(c *Constraints) { c.timeout = d }
}

// WithMaxOutput caps stdout/file-content size in characters.
func WithMaxOutput(n int) ConstraintsOption {
	return func(c *Constraints) { c.maxOutput = n }
}

// WithMaxStderr caps stderr size in characters.
func WithMaxStderr(n int) ConstraintsOption {
	return func(c *Constraints) { c.maxStderr = n }
}

// WithExecDisabled turns off command execution entirely; exec_cmd calls
// fail regardless of the allowlist.
func WithExecDisabled() ConstraintsOption {
	return func(c *Constraints) { c.execDisabled = true }
}

// WithStrictExec additionally rejects commands containing shell chaining
// and substitution constructs (&&, ||, ;, |, $(, backtick) and parent
// directory references.
func WithStrictExec() ConstraintsOption {
	return func(c *Constraints) { c.strictExec = true }
}

// NewConstraints builds a Constraints rooted at root, creating the
// directory if needed. The root is resolved to its canonical absolute
// form so containment checks survive symlinked workspaces.
func NewConstraints(root string, opts ...ConstraintsOption) (*Constraints, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	c := &Constraints{
		root:      abs,
		allowed:   make(map[string]struct{}),
		timeout:   defaultTimeout,
		maxOutput: defaultMaxOutput,
		maxStderr: defaultMaxStderr,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Root returns the canonical absolute workspace root.
func (c *Constraints) Root() string { return c.root }

// MaxOutput returns the stdout/content size cap in characters.
func (c *Constraints) MaxOutput() int { return c.maxOutput }

// MaxStderr returns the stderr size cap in characters.
func (c *Constraints) MaxStderr() int { return c.maxStderr }

// ExecEnabled reports whether command execution is permitted at all.
func (c *Constraints) ExecEnabled() bool { return !c.execDisabled }

// ValidatePath reports whether path, interpreted relative to the root,
// resolves to a location inside the root. Absolute paths and traversal
// sequences that escape the root are rejected.
func (c *Constraints) ValidatePath(path string) bool {
	_, err := c.Resolve(path)
	return err == nil
}

// Resolve joins path onto the root and returns the canonical absolute
// location, or an error if the result escapes the root. Symlinks along
// the existing portion of the path are followed before the check.
func (c *Constraints) Resolve(path string) (string, error) {
	full := filepath.Join(c.root, path)

	// Canonicalize through the deepest existing ancestor so a symlink
	// inside the workspace cannot point outside it.
	resolved, err := resolveExisting(full)
	if err != nil {
		return "", err
	}

	if resolved != c.root && !strings.HasPrefix(resolved, c.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path outside allowed root: %s", path)
	}
	return full, nil
}

// resolveExisting canonicalizes the longest existing prefix of path and
// rejoins the non-existing remainder, cleaning out any traversal.
func resolveExisting(path string) (string, error) {
	var tail []string
	p := filepath.Clean(path)
	for {
		resolved, err := filepath.EvalSymlinks(p)
		if err == nil {
			if len(tail) == 0 {
				return resolved, nil
			}
			joined := filepath.Join(append([]string{resolved}, tail...)...)
			return filepath.Clean(joined), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", err
		}
		tail = append([]string{filepath.Base(p)}, tail...)
		p = parent
	}
}

// ValidateCommand reports whether the command line may be executed. With
// an empty allowlist every non-empty command is allowed; otherwise the
// first whitespace-separated token must appear in the allowlist. Strict
// mode additionally rejects shell chaining and substitution constructs.
func (c *Constraints) ValidateCommand(command string) bool {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false
	}
	if c.strictExec {
		for _, pat := range strictExecPatterns {
			if strings.Contains(command, pat) {
				return false
			}
		}
	}
	if len(c.allowed) == 0 {
		return true
	}
	_, ok := c.allowed[fields[0]]
	return ok
}

// EffectiveTimeout clamps a requested timeout to the configured cap.
// A zero request means "use the cap".
func (c *Constraints) EffectiveTimeout(requested time.Duration) time.Duration {
	if requested <= 0 || requested > c.timeout {
		return c.timeout
	}
	return requested
}

// TruncateOutput caps s at max characters, keeping the head and tail and
// inserting a marker that reports how much was hidden.
func (c *Constraints) TruncateOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	kept := max / 2
	marker := fmt.Sprintf("\n... (output truncated, %d chars hidden) ...\n", len(s)-max)
	return s[:kept] + marker + s[len(s)-kept:]
}

// Summary renders the active policy for logs and debug output.
func (c *Constraints) Summary() string {
	allow := "All allowed"
	if len(c.allowed) > 0 {
		cmds := make([]string, 0, len(c.allowed))
		for cmd := range c.allowed {
			cmds = append(cmds, cmd)
		}
		allow = strings.Join(cmds, ", ")
	}
	return fmt.Sprintf("Security Constraints:\n- Allowed root: %s\n- Command allowlist: %s\n- Timeout: %s\n- Max output: %d chars\n- Max stderr: %d chars",
		c.root, allow, c.timeout, c.maxOutput, c.maxStderr)
}
