package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opencraw/opencraw/pkg/bus"
	"github.com/opencraw/opencraw/pkg/config"
	"github.com/opencraw/opencraw/pkg/providers"
	"github.com/opencraw/opencraw/pkg/session"
)

type scriptedStep struct {
	response *providers.Response
	err      error
}

type scriptedProvider struct {
	steps []scriptedStep
	calls int
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition, model string, opts map[string]interface{}) (*providers.Response, error) {
	if p.calls >= len(p.steps) {
		return &providers.Response{Content: "out of script"}, nil
	}
	step := p.steps[p.calls]
	p.calls++
	return step.response, step.err
}

func (p *scriptedProvider) ChatStream(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition, model string, opts map[string]interface{}) (<-chan providers.StreamEvent, error) {
	return nil, errors.New("streaming not scripted")
}

func newTestLoop(t *testing.T, p providers.LLMProvider) *Loop {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Agents.Defaults.Workspace = t.TempDir()
	cfg.Agents.Defaults.MaxToolIterations = 3

	l := NewLoop(cfg, bus.NewMessageBus(), nil)
	l.NewProvider = func(cfg *config.Config, model string) (providers.LLMProvider, error) {
		return p, nil
	}
	return l
}

func inbound(content string) bus.InboundMessage {
	return bus.InboundMessage{
		Kind:       bus.KindMessage,
		MessageID:  "m-1",
		Channel:    "webchat",
		SenderID:   "u1",
		Content:    content,
		ReceivedAt: time.Now(),
	}
}

func TestRunTurnDirectAnswer(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{
		{response: &providers.Response{
			Content: "Hello there",
			Usage:   &providers.Usage{PromptTokens: 12, CompletionTokens: 4, TotalTokens: 16},
		}},
	}}
	l := newTestLoop(t, provider)
	l.Sessions().GetOrCreate("webchat", "u1")

	reply, err := l.RunTurn(context.Background(), inbound("hi"))
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if reply != "Hello there" {
		t.Fatalf("unexpected reply %q", reply)
	}

	key := session.Key("webchat", "u1")
	history := l.Sessions().History(key)
	if len(history) != 2 || history[0].Role != "user" || history[1].Role != "assistant" {
		t.Fatalf("unexpected history shape: %+v", history)
	}

	totals := l.Sessions().UsageTotals(key)
	if totals.PromptTokens != 12 || totals.CompletionTokens != 4 {
		t.Fatalf("usage not accumulated: %+v", totals)
	}
}

func TestRunTurnToolCallHistoryShape(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{
		{response: &providers.Response{
			ToolCalls: []providers.ToolCall{
				{ID: "call_1", Type: "function", Function: providers.FunctionCall{Name: "list_dir", Arguments: `{"path":"."}`}},
				{ID: "call_2", Type: "function", Function: providers.FunctionCall{Name: "read_file", Arguments: `{"path":"../etc/passwd"}`}},
			},
		}},
		{response: &providers.Response{Content: "All done"}},
	}}
	l := newTestLoop(t, provider)
	l.Sessions().GetOrCreate("webchat", "u1")

	reply, err := l.RunTurn(context.Background(), inbound("check files"))
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if reply != "All done" {
		t.Fatalf("unexpected reply %q", reply)
	}

	history := l.Sessions().History(session.Key("webchat", "u1"))
	// user, assistant w/ tool calls, tool x2, final assistant
	if len(history) != 5 {
		t.Fatalf("expected 5 history entries, got %d: %+v", len(history), history)
	}
	if len(history[1].ToolCalls) != 2 {
		t.Fatalf("assistant message lost its tool calls: %+v", history[1])
	}
	if history[2].Role != "tool" || history[2].ToolCallID != "call_1" {
		t.Fatalf("first observation out of order: %+v", history[2])
	}
	if history[3].Role != "tool" || history[3].ToolCallID != "call_2" {
		t.Fatalf("second observation out of order: %+v", history[3])
	}
	// The sandboxed read must come back as an observation, not an error.
	if history[3].Content == "" {
		t.Fatal("denied tool call should still produce an observation")
	}
}

func TestRunTurnIterationCap(t *testing.T) {
	loopingStep := scriptedStep{response: &providers.Response{
		ToolCalls: []providers.ToolCall{
			{ID: "call_x", Type: "function", Function: providers.FunctionCall{Name: "list_dir", Arguments: `{"path":"."}`}},
		},
	}}
	provider := &scriptedProvider{steps: []scriptedStep{loopingStep, loopingStep, loopingStep, loopingStep}}
	l := newTestLoop(t, provider)
	l.Sessions().GetOrCreate("webchat", "u1")

	reply, err := l.RunTurn(context.Background(), inbound("loop forever"))
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if reply != truncationNotice {
		t.Fatalf("expected truncation notice, got %q", reply)
	}
	if provider.calls != 3 {
		t.Fatalf("expected exactly maxIterations calls, got %d", provider.calls)
	}

	history := l.Sessions().History(session.Key("webchat", "u1"))
	last := history[len(history)-1]
	if last.Role != "assistant" || last.Content != truncationNotice {
		t.Fatalf("history should end with the truncation message: %+v", last)
	}
}

func TestRunTurnRateLimitRetry(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{
		{err: &providers.RateLimitError{StatusCode: 429, RetryAfter: "1"}},
		{response: &providers.Response{Content: "recovered"}},
	}}
	l := newTestLoop(t, provider)
	l.Sessions().GetOrCreate("webchat", "u1")

	reply, err := l.RunTurn(context.Background(), inbound("hi"))
	if err != nil {
		t.Fatalf("rate-limited turn should recover: %v", err)
	}
	if reply != "recovered" || provider.calls != 2 {
		t.Fatalf("expected one retry, got %d calls, reply %q", provider.calls, reply)
	}
}

func TestRunTurnRateLimitRetryFails(t *testing.T) {
	provider := &scriptedProvider{steps: []scriptedStep{
		{err: &providers.RateLimitError{StatusCode: 429}},
		{err: &providers.RateLimitError{StatusCode: 429}},
	}}
	l := newTestLoop(t, provider)
	l.Sessions().GetOrCreate("webchat", "u1")

	if _, err := l.RunTurn(context.Background(), inbound("hi")); err == nil {
		t.Fatal("second rate limit should surface as an error")
	}
	if provider.calls != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", provider.calls)
	}
}
