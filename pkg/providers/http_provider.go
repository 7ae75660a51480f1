package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultOpenAIBase = "https://api.openai.com/v1"

// HTTPProvider speaks the OpenAI-compatible chat completions protocol over
// plain HTTP. Tool names are sanitized on the way out and restored on the
// way back so callers only ever see original names.
type HTTPProvider struct {
	apiKey  string
	apiBase string
	client  *http.Client
}

func NewHTTPProvider(apiKey, apiBase, proxy string) *HTTPProvider {
	if apiBase == "" {
		apiBase = defaultOpenAIBase
	}
	transport := &http.Transport{}
	if proxy != "" {
		if proxyURL, err := url.Parse(proxy); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	return &HTTPProvider{
		apiKey:  apiKey,
		apiBase: strings.TrimSuffix(apiBase, "/"),
		client: &http.Client{
			Transport: transport,
			Timeout:   5 * time.Minute,
		},
	}
}

type chatCompletionRequest struct {
	Model         string                 `json:"model"`
	Messages      []Message              `json:"messages"`
	Tools         []ToolDefinition       `json:"tools,omitempty"`
	MaxTokens     int                    `json:"max_tokens,omitempty"`
	Temperature   *float64               `json:"temperature,omitempty"`
	Stream        bool                   `json:"stream,omitempty"`
	StreamOptions map[string]interface{} `json:"stream_options,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			Reasoning string `json:"reasoning_content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

func (p *HTTPProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, opts map[string]interface{}) (*Response, error) {
	sanitizer, body, err := p.buildRequest(messages, tools, model, opts, false)
	if err != nil {
		return nil, err
	}

	data, err := p.post(ctx, body)
	if err != nil {
		return nil, err
	}

	var decoded chatCompletionResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, &ResponseFormatError{Reason: err.Error()}
	}
	if len(decoded.Choices) == 0 {
		return nil, &ResponseFormatError{Reason: "response has no choices"}
	}

	choice := decoded.Choices[0]
	resp := &Response{
		Content:      choice.Message.Content,
		ToolCalls:    choice.Message.ToolCalls,
		Usage:        decoded.Usage,
		FinishReason: choice.FinishReason,
	}
	sanitizer.RewriteResponse(resp)
	return resp, nil
}

func (p *HTTPProvider) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, opts map[string]interface{}) (<-chan StreamEvent, error) {
	sanitizer, body, err := p.buildRequest(messages, tools, model, opts, true)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &InvalidInputError{Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	httpResp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat stream request: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		defer httpResp.Body.Close()
		return nil, p.statusError(httpResp)
	}

	events := make(chan StreamEvent, 16)
	go p.consumeStream(httpResp.Body, sanitizer, events)
	return events, nil
}

func (p *HTTPProvider) consumeStream(body io.ReadCloser, sanitizer *NameSanitizer, events chan<- StreamEvent) {
	defer close(events)
	defer body.Close()

	var usage *Usage
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			events <- StreamEvent{Kind: StreamDone, Usage: usage, Err: &StreamParseError{Reason: "bad chunk", Err: err}}
			return
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Reasoning != "" {
			events <- StreamEvent{Kind: StreamThinkingDelta, Content: delta.Reasoning}
		}
		if delta.Content != "" {
			events <- StreamEvent{Kind: StreamContentDelta, Content: delta.Content}
		}
		for _, tc := range delta.ToolCalls {
			if tc.ID != "" || tc.Function.Name != "" {
				events <- StreamEvent{
					Kind:         StreamToolCallStart,
					ToolCallID:   tc.ID,
					ToolCallName: sanitizer.Desanitize(tc.Function.Name),
				}
			}
			if tc.Function.Arguments != "" {
				events <- StreamEvent{
					Kind:           StreamToolCallArgs,
					ToolCallID:     tc.ID,
					ArgumentsDelta: tc.Function.Arguments,
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		events <- StreamEvent{Kind: StreamDone, Usage: usage, Err: &StreamParseError{Reason: "stream read", Err: err}}
		return
	}
	events <- StreamEvent{Kind: StreamDone, Usage: usage}
}

func (p *HTTPProvider) buildRequest(messages []Message, tools []ToolDefinition, model string, opts map[string]interface{}, stream bool) (*NameSanitizer, []byte, error) {
	if model == "" {
		return nil, nil, &InvalidInputError{Reason: "model is empty"}
	}
	if len(messages) == 0 {
		return nil, nil, &InvalidInputError{Reason: "messages are empty"}
	}

	sanitizer := NewNameSanitizer(tools)
	req := chatCompletionRequest{
		Model:    model,
		Messages: sanitizer.RewriteMessages(messages),
		Tools:    sanitizer.RewriteDefinitions(tools),
		Stream:   stream,
	}
	if stream {
		req.StreamOptions = map[string]interface{}{"include_usage": true}
	}
	if v, ok := opts["max_tokens"].(int); ok {
		req.MaxTokens = v
	}
	if v, ok := opts["temperature"].(float64); ok {
		req.Temperature = &v
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, nil, &InvalidInputError{Reason: err.Error()}
	}
	return sanitizer, body, nil
}

func (p *HTTPProvider) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &InvalidInputError{Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, p.statusError(resp)
	}
	return io.ReadAll(resp.Body)
}

func (p *HTTPProvider) statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	body := strings.TrimSpace(string(data))

	if resp.StatusCode == http.StatusTooManyRequests {
		headers := make(map[string]string, len(resp.Header))
		for k := range resp.Header {
			headers[k] = resp.Header.Get(k)
		}
		return &RateLimitError{
			StatusCode:             resp.StatusCode,
			Body:                   body,
			RetryAfter:             resp.Header.Get("Retry-After"),
			RateLimitRequestsReset: resp.Header.Get("X-RateLimit-Requests-Reset"),
			RateLimitTokensReset:   resp.Header.Get("X-RateLimit-Tokens-Reset"),
			Headers:                headers,
		}
	}
	return &HTTPError{StatusCode: resp.StatusCode, Body: body}
}
