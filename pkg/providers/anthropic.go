package providers

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider drives the Anthropic Messages API through the official
// SDK. Tool names pass through untouched; only the OpenAI-family path
// sanitizes them.
type AnthropicProvider struct {
	client anthropic.Client
}

func NewAnthropicProvider(apiKey, apiBase string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if apiBase != "" {
		opts = append(opts, option.WithBaseURL(apiBase))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...)}
}

func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, opts map[string]interface{}) (*Response, error) {
	params, err := buildAnthropicParams(messages, tools, model, opts)
	if err != nil {
		return nil, err
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, &HTTPError{StatusCode: 0, Body: err.Error()}
	}

	resp := &Response{
		FinishReason: string(msg.StopReason),
		Usage: &Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += variant.Text
		case anthropic.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:   variant.ID,
				Type: "function",
				Function: FunctionCall{
					Name:      variant.Name,
					Arguments: string(variant.Input),
				},
			})
		}
	}
	return resp, nil
}

func (p *AnthropicProvider) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, opts map[string]interface{}) (<-chan StreamEvent, error) {
	params, err := buildAnthropicParams(messages, tools, model, opts)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	events := make(chan StreamEvent, 16)

	go func() {
		defer close(events)
		usage := &Usage{}

		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case anthropic.MessageStartEvent:
				usage.PromptTokens = int(ev.Message.Usage.InputTokens)
			case anthropic.ContentBlockStartEvent:
				if tu, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					events <- StreamEvent{
						Kind:         StreamToolCallStart,
						ToolCallID:   tu.ID,
						ToolCallName: tu.Name,
					}
				}
			case anthropic.ContentBlockDeltaEvent:
				switch d := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					events <- StreamEvent{Kind: StreamContentDelta, Content: d.Text}
				case anthropic.ThinkingDelta:
					events <- StreamEvent{Kind: StreamThinkingDelta, Content: d.Thinking}
				case anthropic.InputJSONDelta:
					events <- StreamEvent{Kind: StreamToolCallArgs, ArgumentsDelta: d.PartialJSON}
				}
			case anthropic.MessageDeltaEvent:
				usage.CompletionTokens = int(ev.Usage.OutputTokens)
			}
		}

		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		if err := stream.Err(); err != nil {
			events <- StreamEvent{Kind: StreamDone, Usage: usage, Err: &StreamParseError{Reason: "anthropic stream", Err: err}}
			return
		}
		events <- StreamEvent{Kind: StreamDone, Usage: usage}
	}()

	return events, nil
}

func buildAnthropicParams(messages []Message, tools []ToolDefinition, model string, opts map[string]interface{}) (anthropic.MessageNewParams, error) {
	if model == "" {
		return anthropic.MessageNewParams{}, &InvalidInputError{Reason: "model is empty"}
	}
	if len(messages) == 0 {
		return anthropic.MessageNewParams{}, &InvalidInputError{Reason: "messages are empty"}
	}

	maxTokens := 8192
	if v, ok := opts["max_tokens"].(int); ok && v > 0 {
		maxTokens = v
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
	}
	if v, ok := opts["temperature"].(float64); ok {
		params.Temperature = anthropic.Float(v)
	}

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			params.System = append(params.System, anthropic.TextBlockParam{Text: msg.Content})
		case "user":
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case "assistant":
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				input := json.RawMessage(tc.Function.Arguments)
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(""))
			}
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(blocks...))
		case "tool":
			params.Messages = append(params.Messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
		default:
			return anthropic.MessageNewParams{}, &InvalidInputError{Reason: "unknown role " + msg.Role}
		}
	}

	for _, def := range tools {
		schema := def.Function.Parameters
		toolParam := anthropic.ToolParam{
			Name:        def.Function.Name,
			Description: anthropic.String(def.Function.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema["properties"],
			},
		}
		if required, ok := schema["required"].([]string); ok {
			toolParam.InputSchema.Required = required
		} else if rawRequired, ok := schema["required"].([]interface{}); ok {
			for _, r := range rawRequired {
				if s, ok := r.(string); ok {
					toolParam.InputSchema.Required = append(toolParam.InputSchema.Required, s)
				}
			}
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}

	return params, nil
}
