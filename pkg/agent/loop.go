package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/opencraw/opencraw/pkg/bus"
	"github.com/opencraw/opencraw/pkg/config"
	"github.com/opencraw/opencraw/pkg/logger"
	"github.com/opencraw/opencraw/pkg/providers"
	"github.com/opencraw/opencraw/pkg/security"
	"github.com/opencraw/opencraw/pkg/session"
	"github.com/opencraw/opencraw/pkg/skills"
	"github.com/opencraw/opencraw/pkg/tools"
	"github.com/opencraw/opencraw/pkg/usage"
	"github.com/opencraw/opencraw/pkg/utils"
)

const (
	defaultMaxTokens   = 8192
	truncationNotice   = "I reached the tool iteration limit for this request. Here is where things stand; ask me to continue if you want me to keep going."
	defaultEmptyAnswer = "I've finished processing but have nothing further to add."
)

// Loop runs one assistant turn at a time: LLM call, sequential tool
// execution, repeat until the model answers directly or the iteration cap
// is hit.
type Loop struct {
	bus            *bus.MessageBus
	cfg            *config.Config
	sessions       *session.Manager
	registry       *tools.Registry
	usageStore     *usage.Store
	contextBuilder *ContextBuilder
	skills         *skills.Registry
	maxIterations  int
	model          string

	providerMu sync.Mutex
	providers  map[string]providers.LLMProvider

	// NewProvider is swappable for tests.
	NewProvider func(cfg *config.Config, model string) (providers.LLMProvider, error)
}

func NewLoop(cfg *config.Config, msgBus *bus.MessageBus, gate *security.Gate) *Loop {
	workspace := cfg.WorkspacePath()
	_ = os.MkdirAll(workspace, 0755)

	skillsRegistry := skills.NewRegistry(workspace, skills.InstallPolicy(cfg.Skills.InstallPolicy))

	registry := tools.NewRegistry()
	registry.Register(tools.NewExecTool(workspace, time.Duration(cfg.Tools.ExecTimeoutSecs)*time.Second))
	registry.Register(tools.NewReadFileTool(workspace, cfg.Tools.FileMaxBytes))
	registry.Register(tools.NewWriteFileTool(workspace, cfg.Tools.FileMaxBytes))
	registry.Register(tools.NewListDirTool(workspace))
	registry.Register(tools.NewSearchFilesTool(workspace, cfg.Tools.SearchMaxResults, cfg.Tools.SearchMaxSteps))
	registry.Register(tools.NewMessageTool(msgBus))
	registry.Register(tools.NewSendFileTool(msgBus, workspace))
	registry.Register(tools.NewDebugLogsTool(cfg.LogFilePath()))
	if gate != nil {
		registry.SetApprover(gate.ApproveTool)
	}

	sessions := session.NewManager(filepath.Join(workspace, "sessions"))
	sessions.ModelKnown = cfg.ModelKnown

	return &Loop{
		bus:            msgBus,
		cfg:            cfg,
		sessions:       sessions,
		registry:       registry,
		usageStore:     usage.NewStore(workspace),
		contextBuilder: NewContextBuilder(workspace, skillsRegistry),
		skills:         skillsRegistry,
		maxIterations:  cfg.Agents.Defaults.MaxToolIterations,
		model:          cfg.Agents.Defaults.Model,
		providers:      make(map[string]providers.LLMProvider),
		NewProvider:    providers.CreateProviderForModel,
	}
}

func (l *Loop) Sessions() *session.Manager { return l.sessions }
func (l *Loop) Skills() *skills.Registry   { return l.skills }
func (l *Loop) UsageStore() *usage.Store   { return l.usageStore }

func (l *Loop) providerFor(model string) (providers.LLMProvider, error) {
	l.providerMu.Lock()
	defer l.providerMu.Unlock()
	if p, ok := l.providers[model]; ok {
		return p, nil
	}
	p, err := l.NewProvider(l.cfg, model)
	if err != nil {
		return nil, err
	}
	l.providers[model] = p
	return p, nil
}

// RunTurn processes one user message for its session and returns the
// final assistant reply. The session's history is updated in place:
// user message, every assistant/tool exchange, final assistant answer.
func (l *Loop) RunTurn(ctx context.Context, msg bus.InboundMessage) (string, error) {
	key := session.Key(msg.Channel, msg.SenderID)
	chatID := msg.ThreadID
	if chatID == "" {
		chatID = msg.SenderID
	}

	snapshot, ok := l.sessions.Snapshot(key)
	if !ok {
		snapshot = l.sessions.GetOrCreate(msg.Channel, msg.SenderID)
	}

	logger.InfoCF("agent", fmt.Sprintf("Processing message from %s:%s: %s",
		msg.Channel, msg.SenderID, utils.Truncate(msg.Content, 80)),
		map[string]interface{}{
			"channel":    msg.Channel,
			"sender_id":  msg.SenderID,
			"message_id": msg.MessageID,
		})

	if tool, ok := l.registry.Get("message"); ok {
		if mt, ok := tool.(*tools.MessageTool); ok {
			mt.SetContext(msg.Channel, chatID)
		}
	}
	if tool, ok := l.registry.Get("send_file"); ok {
		if ft, ok := tool.(*tools.SendFileTool); ok {
			ft.SetContext(msg.Channel, chatID)
		}
	}

	messages := l.contextBuilder.BuildMessages(l.sessions.History(key), msg.Content, msg.Channel, chatID)

	l.sessions.AppendMessage(key, providers.Message{Role: "user", Content: msg.Content})
	if msg.MessageID != "" {
		l.sessions.SetLastUserMessageID(key, msg.MessageID)
	}

	finalContent, err := l.iterate(ctx, key, msg, chatID, messages, snapshot)
	if err != nil {
		return "", err
	}
	if finalContent == "" {
		finalContent = defaultEmptyAnswer
		l.sessions.AppendMessage(key, providers.Message{Role: "assistant", Content: finalContent})
	}
	l.sessions.Save(key)

	logger.InfoCF("agent", fmt.Sprintf("Response: %s", utils.Truncate(finalContent, 120)),
		map[string]interface{}{"session_key": key, "length": len(finalContent)})

	return finalContent, nil
}

func (l *Loop) iterate(ctx context.Context, key string, msg bus.InboundMessage, chatID string, messages []providers.Message, snapshot session.Session) (string, error) {
	toolDefs := l.registry.Definitions()

	for iteration := 1; iteration <= l.maxIterations; iteration++ {
		model := l.sessions.EffectiveModel(key, l.model)
		provider, err := l.providerFor(model)
		if err != nil {
			return "", fmt.Errorf("resolve provider for %s: %w", model, err)
		}

		logger.DebugCF("agent", "LLM iteration",
			map[string]interface{}{
				"iteration": iteration,
				"max":       l.maxIterations,
				"model":     model,
				"messages":  len(messages),
			})

		opts := map[string]interface{}{
			"max_tokens":  defaultMaxTokens,
			"temperature": 0.7,
		}
		response, err := provider.Chat(ctx, messages, toolDefs, model, opts)
		if err != nil {
			var rateLimitErr *providers.RateLimitError
			if errors.As(err, &rateLimitErr) {
				logger.WarnCF("agent", "Rate limited, retrying once",
					map[string]interface{}{
						"model":       model,
						"status_code": rateLimitErr.StatusCode,
						"retry_after": rateLimitErr.RetryAfter,
					})
				response, err = provider.Chat(ctx, messages, toolDefs, model, opts)
			}
			if err != nil {
				logger.ErrorCF("agent", "LLM call failed",
					map[string]interface{}{"iteration": iteration, "model": model, "error": err.Error()})
				return "", fmt.Errorf("LLM call failed: %w", err)
			}
		}

		l.recordUsage(key, model, response)

		if len(response.ToolCalls) == 0 {
			l.sessions.AppendMessage(key, providers.Message{Role: "assistant", Content: response.Content})
			return response.Content, nil
		}

		assistantMsg := providers.Message{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		}
		messages = append(messages, assistantMsg)
		l.sessions.AppendMessage(key, assistantMsg)

		// Sequential by design: the model sees a deterministic
		// observation sequence.
		for _, tc := range response.ToolCalls {
			result := l.executeToolCall(ctx, key, msg, chatID, snapshot, tc)
			toolMsg := providers.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
			}
			messages = append(messages, toolMsg)
			l.sessions.AppendMessage(key, toolMsg)
		}
	}

	l.sessions.AppendMessage(key, providers.Message{Role: "assistant", Content: truncationNotice})
	logger.WarnCF("agent", "Iteration cap reached",
		map[string]interface{}{"session_key": key, "max": l.maxIterations})
	return truncationNotice, nil
}

func (l *Loop) executeToolCall(ctx context.Context, key string, msg bus.InboundMessage, chatID string, snapshot session.Session, tc providers.ToolCall) string {
	argsPreview := utils.Truncate(tc.Function.Arguments, 200)
	logger.InfoCF("agent", fmt.Sprintf("Tool call: %s(%s)", tc.Function.Name, argsPreview),
		map[string]interface{}{"tool": tc.Function.Name, "session_key": key})

	result := l.registry.Execute(ctx, tc.Function.Name, tc.Function.Arguments)

	if snapshot.ShowToolCalls {
		preview := utils.Truncate(result.LLMContent(), 300)
		l.bus.PublishOutbound(bus.OutboundMessage{
			Channel:     msg.Channel,
			RecipientID: chatID,
			Content:     fmt.Sprintf("🔧 %s(%s)\n%s", tc.Function.Name, argsPreview, preview),
		})
	} else if !result.Silent && result.ForUser != "" {
		l.bus.PublishOutbound(bus.OutboundMessage{
			Channel:     msg.Channel,
			RecipientID: chatID,
			Content:     result.ForUser,
		})
	}

	content := result.LLMContent()
	if content == "" && result.Err != nil {
		content = result.Err.Error()
	}
	if content == "" {
		content = "(no output)"
	}
	return content
}

func (l *Loop) recordUsage(key, model string, response *providers.Response) {
	usageKnown := response.Usage != nil
	prompt, completion, total := 0, 0, 0
	if usageKnown {
		prompt = response.Usage.PromptTokens
		completion = response.Usage.CompletionTokens
		total = response.Usage.TotalTokens
	}
	reason := strings.TrimSpace(response.FinishReason)
	if reason == "" {
		reason = "normal_call"
	}

	l.sessions.AddUsage(key, prompt, completion)
	if err := l.usageStore.Append(usage.Record{
		Timestamp:        time.Now().UTC(),
		SessionKey:       key,
		Provider:         providerFromModel(model),
		Model:            model,
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      total,
		UsageKnown:       usageKnown,
		Reason:           reason,
	}); err != nil {
		logger.WarnCF("agent", "Failed to persist usage record",
			map[string]interface{}{"error": err.Error()})
	}
}

func providerFromModel(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.Contains(m, "claude"), strings.Contains(m, "anthropic"):
		return "anthropic"
	case strings.Contains(m, "gpt"), strings.Contains(m, "openai"):
		return "openai"
	case strings.Contains(m, "gemini"), strings.Contains(m, "google"):
		return "google"
	case strings.Contains(m, "deepseek"):
		return "deepseek"
	default:
		return "unknown"
	}
}
