package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPProvider429IncludesHeaders(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.Header().Set("X-RateLimit-Requests-Reset", "1735689600")
		w.Header().Set("X-RateLimit-Tokens-Reset", "1735689700")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer ts.Close()

	p := NewHTTPProvider("k", ts.URL, "")
	_, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "ping"}}, nil, "gpt-5-mini", map[string]interface{}{})
	if err == nil {
		t.Fatalf("expected error")
	}

	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %T", err)
	}
	if rl.RetryAfter != "120" {
		t.Fatalf("expected retry-after header")
	}
	if rl.RateLimitRequestsReset != "1735689600" {
		t.Fatalf("expected requests reset header")
	}
	if rl.Headers["Retry-After"] != "120" {
		t.Fatalf("expected headers map to contain Retry-After")
	}
}

func TestHTTPProviderSanitizesAndRestoresToolNames(t *testing.T) {
	var gotReq chatCompletionRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{
			"choices": [{
				"message": {
					"content": "",
					"tool_calls": [{"id":"call_1","type":"function","function":{"name":"shell_execute","arguments":"{\"command\":\"ls\"}"}}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
		}`))
	}))
	defer ts.Close()

	p := NewHTTPProvider("k", ts.URL, "")
	defs := []ToolDefinition{
		{Type: "function", Function: FunctionSpec{Name: "shell.execute", Parameters: map[string]interface{}{"type": "object"}}},
	}
	resp, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "run ls"}}, defs, "gpt-5-mini", nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	if gotReq.Tools[0].Function.Name != "shell_execute" {
		t.Fatalf("wire tool name = %q, want sanitized shell_execute", gotReq.Tools[0].Function.Name)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("len(tool_calls) = %d, want 1", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].Function.Name != "shell.execute" {
		t.Fatalf("tool call name = %q, want original shell.execute", resp.ToolCalls[0].Function.Name)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 19 {
		t.Fatalf("usage not decoded: %+v", resp.Usage)
	}
}

func TestHTTPProviderEmptyMessagesIsInvalidInput(t *testing.T) {
	p := NewHTTPProvider("k", "http://127.0.0.1:0", "")
	_, err := p.Chat(context.Background(), nil, nil, "gpt-5-mini", nil)

	var invalid *InvalidInputError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidInputError, got %T", err)
	}
	if IsRetryable(err) {
		t.Fatalf("invalid input must not be retryable")
	}
}

func TestHTTPProviderStreamEvents(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"choices":[{"delta":{"content":"Hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo"}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"shell_execute"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"command\":"}}]}}]}`,
			`{"choices":[],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`,
		}
		for _, c := range chunks {
			_, _ = w.Write([]byte("data: " + c + "\n\n"))
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer ts.Close()

	p := NewHTTPProvider("k", ts.URL, "")
	defs := []ToolDefinition{
		{Type: "function", Function: FunctionSpec{Name: "shell.execute", Parameters: map[string]interface{}{"type": "object"}}},
	}
	events, err := p.ChatStream(context.Background(), []Message{{Role: "user", Content: "hi"}}, defs, "gpt-5-mini", nil)
	if err != nil {
		t.Fatalf("chat stream: %v", err)
	}

	var content string
	var toolStart *StreamEvent
	var done *StreamEvent
	for ev := range events {
		ev := ev
		switch ev.Kind {
		case StreamContentDelta:
			content += ev.Content
		case StreamToolCallStart:
			toolStart = &ev
		case StreamDone:
			done = &ev
		}
	}

	if content != "Hello" {
		t.Fatalf("content = %q, want Hello", content)
	}
	if toolStart == nil || toolStart.ToolCallName != "shell.execute" {
		t.Fatalf("tool start not de-sanitized: %+v", toolStart)
	}
	if done == nil || done.Err != nil || done.Usage == nil || done.Usage.TotalTokens != 5 {
		t.Fatalf("done event wrong: %+v", done)
	}
}
