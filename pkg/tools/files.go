package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// ReadFileTool reads a workspace-relative file, capped at maxBytes.
type ReadFileTool struct {
	workspace string
	maxBytes  int64
}

func NewReadFileTool(workspace string, maxBytes int64) *ReadFileTool {
	if maxBytes <= 0 {
		maxBytes = 256 * 1024
	}
	return &ReadFileTool{workspace: workspace, maxBytes: maxBytes}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read a text file from the workspace. The path must be relative to the workspace root."
}

func (t *ReadFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Workspace-relative file path",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) RiskLevel() RiskLevel { return RiskLow }

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	path, _ := args["path"].(string)
	resolved, err := resolveSandboxed(t.workspace, path)
	if err != nil {
		return &ToolResult{ForLLM: err.Error(), IsError: true, Err: err}
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return errorResult(ErrIo, "stat %s: %v", path, err)
	}
	if info.IsDir() {
		return errorResult(ErrInvalidArguments, "%s is a directory", path)
	}
	if info.Size() > t.maxBytes {
		return errorResult(ErrInvalidArguments, "%s is %d bytes, over the %d byte limit", path, info.Size(), t.maxBytes)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return errorResult(ErrIo, "read %s: %v", path, err)
	}
	return &ToolResult{ForLLM: string(data)}
}

// WriteFileTool writes a workspace-relative file, creating parent
// directories as needed.
type WriteFileTool struct {
	workspace string
	maxBytes  int64
}

func NewWriteFileTool(workspace string, maxBytes int64) *WriteFileTool {
	if maxBytes <= 0 {
		maxBytes = 256 * 1024
	}
	return &WriteFileTool{workspace: workspace, maxBytes: maxBytes}
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write text content to a file in the workspace, creating it (and parent directories) if needed."
}

func (t *WriteFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Workspace-relative file path",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Content to write",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) RiskLevel() RiskLevel { return RiskMedium }

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)

	resolved, err := resolveSandboxed(t.workspace, path)
	if err != nil {
		return &ToolResult{ForLLM: err.Error(), IsError: true, Err: err}
	}
	if int64(len(content)) > t.maxBytes {
		return errorResult(ErrInvalidArguments, "content is %d bytes, over the %d byte limit", len(content), t.maxBytes)
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return errorResult(ErrIo, "mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0644); err != nil {
		return errorResult(ErrIo, "write %s: %v", path, err)
	}
	return &ToolResult{
		ForLLM: fmt.Sprintf("Wrote %d bytes to %s", len(content), path),
		Silent: true,
	}
}
