package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/opencraw/opencraw/pkg/agent"
	"github.com/opencraw/opencraw/pkg/bus"
	"github.com/opencraw/opencraw/pkg/config"
	"github.com/opencraw/opencraw/pkg/providers"
	"github.com/opencraw/opencraw/pkg/security"
)

type cannedProvider struct {
	answer string
	calls  int
}

func (p *cannedProvider) Chat(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition, model string, opts map[string]interface{}) (*providers.Response, error) {
	p.calls++
	return &providers.Response{
		Content: p.answer,
		Usage:   &providers.Usage{PromptTokens: 5, CompletionTokens: 3, TotalTokens: 8},
	}, nil
}

func (p *cannedProvider) ChatStream(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition, model string, opts map[string]interface{}) (<-chan providers.StreamEvent, error) {
	ch := make(chan providers.StreamEvent)
	close(ch)
	return ch, nil
}

func newTestGateway(t *testing.T, answer string) (*Gateway, *bus.MessageBus, *cannedProvider) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Agents.Defaults.Workspace = t.TempDir()

	b := bus.NewMessageBus()
	gate := security.NewGate(&cfg.Security)
	loop := agent.NewLoop(cfg, b, gate)
	provider := &cannedProvider{answer: answer}
	loop.NewProvider = func(cfg *config.Config, model string) (providers.LLMProvider, error) {
		return provider, nil
	}
	return New(cfg, b, gate, loop, nil), b, provider
}

func consumeOut(t *testing.T, b *bus.MessageBus) (bus.OutboundMessage, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	return b.ConsumeOutbound(ctx)
}

func inboundMsg(content string) bus.InboundMessage {
	return bus.InboundMessage{
		Kind:       bus.KindMessage,
		MessageID:  "m-1",
		Channel:    "webchat",
		SenderID:   "u1",
		Content:    content,
		ReceivedAt: time.Now(),
	}
}

func TestReactionProducesNoReply(t *testing.T) {
	g, b, provider := newTestGateway(t, "hi")
	msg := inboundMsg("👍")
	msg.Kind = bus.KindReaction
	g.handle(context.Background(), msg)

	if _, ok := consumeOut(t, b); ok {
		t.Fatalf("reaction should not produce outbound")
	}
	if provider.calls != 0 {
		t.Fatalf("reaction should not reach the LLM")
	}
}

func TestDisallowedSenderDropped(t *testing.T) {
	g, b, provider := newTestGateway(t, "hi")
	msg := inboundMsg("hello")
	msg.Channel = "telegram"
	g.handle(context.Background(), msg)

	if _, ok := consumeOut(t, b); ok {
		t.Fatalf("disallowed sender should be dropped")
	}
	if provider.calls != 0 {
		t.Fatalf("disallowed sender should not reach the LLM")
	}
}

func TestCommandShortcutSkipsLLM(t *testing.T) {
	g, b, provider := newTestGateway(t, "hi")
	g.handle(context.Background(), inboundMsg("/new"))

	out, ok := consumeOut(t, b)
	if !ok {
		t.Fatalf("expected a command reply")
	}
	if out.Content != "Session reset." {
		t.Fatalf("reply = %q", out.Content)
	}
	if provider.calls != 0 {
		t.Fatalf("command shortcut must not call the LLM")
	}
}

func TestTurnReplyRoutedToThread(t *testing.T) {
	g, b, _ := newTestGateway(t, "the answer")
	msg := inboundMsg("what is up")
	msg.ThreadID = "thread-9"
	g.handle(context.Background(), msg)

	out, ok := consumeOut(t, b)
	if !ok {
		t.Fatalf("expected a reply")
	}
	if out.Channel != "webchat" || out.RecipientID != "thread-9" {
		t.Fatalf("reply misrouted: %+v", out)
	}
	if out.Content != "the answer" {
		t.Fatalf("reply = %q", out.Content)
	}
	if out.ReplyToMessageID != "m-1" {
		t.Fatalf("reply should reference the inbound message id")
	}
}

func TestReplyFallsBackToSenderID(t *testing.T) {
	g, b, _ := newTestGateway(t, "ok")
	g.handle(context.Background(), inboundMsg("hello"))

	out, ok := consumeOut(t, b)
	if !ok {
		t.Fatalf("expected a reply")
	}
	if out.RecipientID != "u1" {
		t.Fatalf("recipient = %q, want sender id", out.RecipientID)
	}
}
