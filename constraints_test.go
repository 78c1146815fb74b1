package aegis

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestValidatePathTraversal(t *testing.T) {
	c, err := NewConstraints(t.TempDir())
	if err != nil {
		t.Fatalf("NewConstraints: %v", err)
	}

	if !c.ValidatePath("notes/todo.txt") {
		t.Error("relative path inside root rejected")
	}
	if !c.ValidatePath(".") {
		t.Error("root itself rejected")
	}
	if c.ValidatePath("../../etc/passwd") {
		t.Error("traversal outside root accepted")
	}
	if !c.ValidatePath("sub/../file.txt") {
		t.Error("traversal that stays inside root rejected")
	}
}

func TestValidatePathSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("s"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := os.Mkdir(filepath.Join(root, "inner"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(root, "inner"), filepath.Join(root, "alias")); err != nil {
		t.Fatal(err)
	}

	c, err := NewConstraints(root)
	if err != nil {
		t.Fatalf("NewConstraints: %v", err)
	}

	if c.ValidatePath("link") {
		t.Error("symlink to outside directory accepted")
	}
	if c.ValidatePath("link/secret.txt") {
		t.Error("path through outside-pointing symlink accepted")
	}
	if !c.ValidatePath("alias") {
		t.Error("symlink to inside directory rejected")
	}
	if !c.ValidatePath("alias/new.txt") {
		t.Error("path through inside-pointing symlink rejected")
	}
}

func TestValidateCommandAllowlist(t *testing.T) {
	c, err := NewConstraints(t.TempDir(), WithAllowedCommands("ls", "cat"))
	if err != nil {
		t.Fatalf("NewConstraints: %v", err)
	}

	if !c.ValidateCommand("ls -la") {
		t.Error("allowed command rejected")
	}
	if !c.ValidateCommand("cat file.txt") {
		t.Error("allowed command with args rejected")
	}
	if c.ValidateCommand("rm -rf /") {
		t.Error("disallowed command accepted")
	}
	if c.ValidateCommand("") {
		t.Error("empty command accepted")
	}
	if c.ValidateCommand("   ") {
		t.Error("whitespace command accepted")
	}
}

func TestValidateCommandEmptyAllowlist(t *testing.T) {
	c, err := NewConstraints(t.TempDir())
	if err != nil {
		t.Fatalf("NewConstraints: %v", err)
	}

	if !c.ValidateCommand("anything goes") {
		t.Error("empty allowlist should permit every command")
	}
	if c.ValidateCommand("") {
		t.Error("empty command accepted")
	}
}

func TestValidateCommandStrictExec(t *testing.T) {
	c, err := NewConstraints(t.TempDir(), WithStrictExec())
	if err != nil {
		t.Fatalf("NewConstraints: %v", err)
	}

	for _, cmd := range []string{
		"ls && rm file",
		"cat a | grep b",
		"echo hi; rm x",
		"echo $(whoami)",
		"echo `id`",
		"cat ../secret",
	} {
		if c.ValidateCommand(cmd) {
			t.Errorf("strict mode accepted %q", cmd)
		}
	}
	if !c.ValidateCommand("ls -la") {
		t.Error("strict mode rejected a plain command")
	}
}

func TestTruncateOutput(t *testing.T) {
	c, err := NewConstraints(t.TempDir())
	if err != nil {
		t.Fatalf("NewConstraints: %v", err)
	}

	short := "hello"
	if got := c.TruncateOutput(short, 100); got != short {
		t.Errorf("short output modified: %q", got)
	}

	long := strings.Repeat("a", 150)
	got := c.TruncateOutput(long, 100)
	if !strings.Contains(got, "(output truncated, 50 chars hidden)") {
		t.Errorf("missing truncation marker: %q", got)
	}
	if !strings.HasPrefix(got, strings.Repeat("a", 50)) {
		t.Error("head not preserved")
	}
	if !strings.HasSuffix(got, strings.Repeat("a", 50)) {
		t.Error("tail not preserved")
	}
}

func TestEffectiveTimeout(t *testing.T) {
	c, err := NewConstraints(t.TempDir(), WithTimeout(30*time.Second))
	if err != nil {
		t.Fatalf("NewConstraints: %v", err)
	}

	if got := c.EffectiveTimeout(0); got != 30*time.Second {
		t.Errorf("zero request: got %v", got)
	}
	if got := c.EffectiveTimeout(10 * time.Second); got != 10*time.Second {
		t.Errorf("smaller request: got %v", got)
	}
	if got := c.EffectiveTimeout(60 * time.Second); got != 30*time.Second {
		t.Errorf("larger request not clamped: got %v", got)
	}
}
