package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/opencraw/opencraw/pkg/logger"
	"github.com/opencraw/opencraw/pkg/providers"
)

// Approver decides whether a proposed tool call may run. It sits between
// schema validation and execution; a non-nil error becomes an
// Unauthorized observation for the model.
type Approver func(tool Tool) error

// Registry owns the installed tools and dispatches validated calls.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	approver Approver
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

func (r *Registry) SetApprover(a Approver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approver = a
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the tool specs in stable name order, ready to hand
// to a provider.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.FunctionSpec{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute runs one proposed tool call end to end: lookup, argument parse,
// schema validation, approval, then the tool itself. Every failure mode
// comes back as a *ToolResult so the caller can feed it to the model.
func (r *Registry) Execute(ctx context.Context, name string, rawArgs string) *ToolResult {
	tool, ok := r.Get(name)
	if !ok {
		return errorResult(ErrInvalidArguments, "unknown tool %q", name)
	}

	args := map[string]interface{}{}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return errorResult(ErrInvalidArguments, "arguments are not valid JSON: %v", err)
		}
	}

	if err := validateArgs(tool.Parameters(), args); err != nil {
		return errorResult(ErrInvalidArguments, "%v", err)
	}

	r.mu.RLock()
	approver := r.approver
	r.mu.RUnlock()
	if approver != nil {
		if err := approver(tool); err != nil {
			return &ToolResult{
				ForLLM:  err.Error(),
				IsError: true,
				Err:     fmt.Errorf("%w: %v", ErrUnauthorized, err),
			}
		}
	}

	logger.DebugCF("tools", "Executing tool",
		map[string]interface{}{"tool": name, "risk": string(tool.RiskLevel())})

	result := tool.Execute(ctx, args)
	if result == nil {
		result = errorResult(ErrExecutionFailed, "tool %q returned no result", name)
	}
	return result
}
