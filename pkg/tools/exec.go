package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/opencraw/opencraw/pkg/utils"
)

const execOutputLimit = 16 * 1024

// ExecTool runs a shell command inside the workspace with a hard timeout.
type ExecTool struct {
	workspace string
	timeout   time.Duration
}

func NewExecTool(workspace string, timeout time.Duration) *ExecTool {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ExecTool{workspace: workspace, timeout: timeout}
}

func (t *ExecTool) Name() string { return "exec" }

func (t *ExecTool) Description() string {
	return "Execute a shell command in the workspace and return its combined output. Commands are killed after the configured timeout."
}

func (t *ExecTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) RiskLevel() RiskLevel { return RiskHigh }

func (t *ExecTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return errorResult(ErrInvalidArguments, "command is empty")
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = t.workspace
	output, err := cmd.CombinedOutput()

	text := utils.Truncate(strings.TrimSpace(string(output)), execOutputLimit)
	if runCtx.Err() == context.DeadlineExceeded {
		return errorResult(ErrExecutionFailed, "command timed out after %s", t.timeout)
	}
	if err != nil {
		msg := fmt.Sprintf("command failed: %v", err)
		if text != "" {
			msg += "\n" + text
		}
		return errorResult(ErrExecutionFailed, "%s", msg)
	}
	if text == "" {
		text = "(no output)"
	}
	return &ToolResult{ForLLM: text}
}
