package tools

import (
	"context"
	"errors"
	"fmt"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Error taxonomy shared by the registry and every tool. Tool failures are
// never fatal to the assistant loop; they travel back to the model as
// observations.
var (
	ErrInvalidArguments = errors.New("invalid arguments")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrExecutionFailed  = errors.New("execution failed")
	ErrIo               = errors.New("io error")
)

// ToolResult carries both the model-facing and the user-facing outcome of
// a tool call. Silent results are shown to the LLM but not echoed to chat.
type ToolResult struct {
	ForLLM  string
	ForUser string
	Silent  bool
	IsError bool
	Err     error
}

func (r *ToolResult) LLMContent() string {
	if r.ForLLM != "" {
		return r.ForLLM
	}
	return r.ForUser
}

func errorResult(sentinel error, format string, args ...interface{}) *ToolResult {
	err := fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
	return &ToolResult{ForLLM: err.Error(), IsError: true, Err: err}
}

// Tool is one callable capability exposed to the model.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	RiskLevel() RiskLevel
	Execute(ctx context.Context, args map[string]interface{}) *ToolResult
}
