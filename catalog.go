package aegis

import (
	"encoding/json"
	"fmt"
	"strings"
)

// toolSpec describes one workspace tool for prompts and native
// function-calling definitions.
type toolSpec struct {
	Name        string
	Description string
	Signature   string // arg list for chat prompts, optional args marked "?"
	ArgsDoc     string // prompt form: JSON object of arg -> description
	Schema      string // JSON Schema for native function calling
}

var toolCatalog = []toolSpec{
	{
		Name:        "list_dir",
		Signature:   "path?",
		Description: "List files and directories",
		ArgsDoc:     `{"path": "Directory path (default: current workspace)"}`,
		Schema: `{
  "type": "object",
  "properties": {
    "path": {"type": "string", "description": "Directory path (default: current workspace)"}
  }
}`,
	},
	{
		Name:        "read_file",
		Signature:   "path, offset?, limit?",
		Description: "Read file contents",
		ArgsDoc:     `{"path": "File path", "offset": "Optional: starting line number", "limit": "Optional: maximum lines to read"}`,
		Schema: `{
  "type": "object",
  "properties": {
    "path": {"type": "string", "description": "File path"},
    "offset": {"type": "integer", "description": "Starting line number"},
    "limit": {"type": "integer", "description": "Maximum lines to read"}
  },
  "required": ["path"]
}`,
	},
	{
		Name:        "write_file",
		Signature:   "path, content",
		Description: "Write or create a file",
		ArgsDoc:     `{"path": "File path", "content": "Content to write"}`,
		Schema: `{
  "type": "object",
  "properties": {
    "path": {"type": "string", "description": "File path"},
    "content": {"type": "string", "description": "Content to write"}
  },
  "required": ["path", "content"]
}`,
	},
	{
		Name:        "edit_file",
		Signature:   "path, oldText, newText",
		Description: "Edit a file by replacing text",
		ArgsDoc:     `{"path": "File path", "oldText": "Text to find (must appear exactly once)", "newText": "Text to replace with"}`,
		Schema: `{
  "type": "object",
  "properties": {
    "path": {"type": "string", "description": "File path"},
    "oldText": {"type": "string", "description": "Text to find (must appear exactly once)"},
    "newText": {"type": "string", "description": "Text to replace with"}
  },
  "required": ["path", "oldText", "newText"]
}`,
	},
	{
		Name:        "exec_cmd",
		Signature:   "command, timeout?",
		Description: "Execute a shell command",
		ArgsDoc:     `{"command": "Shell command to execute", "timeout": "Optional: timeout in seconds"}`,
		Schema: `{
  "type": "object",
  "properties": {
    "command": {"type": "string", "description": "Shell command to execute"},
    "timeout": {"type": "integer", "description": "Timeout in seconds"}
  },
  "required": ["command"]
}`,
	},
	{
		Name:        "grep",
		Signature:   "pattern, path?",
		Description: "Search for text in files",
		ArgsDoc:     `{"pattern": "Text pattern to search", "path": "File or directory path"}`,
		Schema: `{
  "type": "object",
  "properties": {
    "pattern": {"type": "string", "description": "Text pattern to search"},
    "path": {"type": "string", "description": "File or directory path"}
  },
  "required": ["pattern"]
}`,
	},
}

// ToolNames returns the names of the six workspace tools.
func ToolNames() []string {
	names := make([]string, len(toolCatalog))
	for i, spec := range toolCatalog {
		names[i] = spec.Name
	}
	return names
}

// ToolDefinitions returns the catalog in function-schema form for
// providers with native function calling.
func ToolDefinitions() []ToolDefinition {
	defs := make([]ToolDefinition, len(toolCatalog))
	for i, spec := range toolCatalog {
		defs[i] = ToolDefinition{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  json.RawMessage(spec.Schema),
		}
	}
	return defs
}

// toolSpecsPrompt renders the catalog as the numbered block embedded in
// planner prompts.
func toolSpecsPrompt() string {
	var b strings.Builder
	for i, spec := range toolCatalog {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s\n   Description: %s\n   Args: %s",
			i+1, spec.Name, spec.Description, spec.ArgsDoc)
	}
	return b.String()
}
