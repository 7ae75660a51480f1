package tools

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// ListDirTool lists one directory level inside the workspace.
type ListDirTool struct {
	workspace string
}

func NewListDirTool(workspace string) *ListDirTool {
	return &ListDirTool{workspace: workspace}
}

func (t *ListDirTool) Name() string { return "list_dir" }

func (t *ListDirTool) Description() string {
	return "List the entries of a workspace directory. Use '.' for the workspace root."
}

func (t *ListDirTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Workspace-relative directory path",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ListDirTool) RiskLevel() RiskLevel { return RiskLow }

func (t *ListDirTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	path, _ := args["path"].(string)
	resolved, err := resolveSandboxed(t.workspace, path)
	if err != nil {
		return &ToolResult{ForLLM: err.Error(), IsError: true, Err: err}
	}

	entries, err := readDirSorted(resolved)
	if err != nil {
		return errorResult(ErrIo, "list %s: %v", path, err)
	}
	if len(entries) == 0 {
		return &ToolResult{ForLLM: "(empty directory)"}
	}
	return &ToolResult{ForLLM: strings.Join(entries, "\n")}
}

func readDirSorted(dir string) ([]string, error) {
	entries, err := filepath.Glob(filepath.Join(dir, "*"))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, filepath.Base(e))
	}
	sort.Strings(names)
	return names, nil
}

// SearchFilesTool finds files whose names contain a pattern. Both the
// number of matches and the number of directory entries visited are
// capped so a large workspace cannot stall a turn.
type SearchFilesTool struct {
	workspace  string
	maxResults int
	maxSteps   int
}

func NewSearchFilesTool(workspace string, maxResults, maxSteps int) *SearchFilesTool {
	if maxResults <= 0 {
		maxResults = 50
	}
	if maxSteps <= 0 {
		maxSteps = 10000
	}
	return &SearchFilesTool{workspace: workspace, maxResults: maxResults, maxSteps: maxSteps}
}

func (t *SearchFilesTool) Name() string { return "search_files" }

func (t *SearchFilesTool) Description() string {
	return "Recursively search the workspace for files whose name contains the given pattern (case-insensitive)."
}

func (t *SearchFilesTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Substring to match against file names",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *SearchFilesTool) RiskLevel() RiskLevel { return RiskLow }

func (t *SearchFilesTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	pattern, _ := args["pattern"].(string)
	if strings.TrimSpace(pattern) == "" {
		return errorResult(ErrInvalidArguments, "pattern is empty")
	}
	needle := strings.ToLower(pattern)

	var matches []string
	steps := 0
	truncated := false

	err := filepath.WalkDir(t.workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		steps++
		if steps > t.maxSteps || len(matches) >= t.maxResults {
			truncated = true
			return filepath.SkipAll
		}
		if d.IsDir() {
			return nil
		}
		if strings.Contains(strings.ToLower(d.Name()), needle) {
			rel, relErr := filepath.Rel(t.workspace, path)
			if relErr == nil {
				matches = append(matches, rel)
			}
		}
		return nil
	})
	if err != nil {
		return errorResult(ErrIo, "search: %v", err)
	}

	if len(matches) == 0 {
		return &ToolResult{ForLLM: fmt.Sprintf("No files matching %q", pattern)}
	}
	out := strings.Join(matches, "\n")
	if truncated {
		out += fmt.Sprintf("\n(truncated at %d results / %d steps)", t.maxResults, t.maxSteps)
	}
	return &ToolResult{ForLLM: out}
}
