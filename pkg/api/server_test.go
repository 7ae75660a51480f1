package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/opencraw/opencraw/pkg/automation"
	"github.com/opencraw/opencraw/pkg/bus"
	"github.com/opencraw/opencraw/pkg/config"
	"github.com/opencraw/opencraw/pkg/session"
	"github.com/opencraw/opencraw/pkg/skills"
)

func newTestServer(t *testing.T, tokens []config.APIToken) (*Server, *bus.MessageBus) {
	t.Helper()
	cfg := config.DefaultConfig()
	store, err := config.NewStore("", cfg)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	b := bus.NewMessageBus()
	sessions := session.NewManager(t.TempDir())
	skillsReg := skills.NewRegistry(t.TempDir(), skills.PolicyAllow)
	auto := automation.NewEngine([]config.AutomationJob{
		{ID: "job1", Prompt: "check the thing", Channel: "webchat", Recipient: "u1"},
	}, b)
	return NewServer(store, sessions, skillsReg, b, nil, auto, tokens), b
}

func doRequest(t *testing.T, s *Server, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestAuthDisabledWithEmptyTokenPool(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := doRequest(t, s, http.MethodGet, "/api/v1/os/config", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected open access with empty pool, got %d", rec.Code)
	}
}

func TestAuthStrictMode(t *testing.T) {
	tokens := []config.APIToken{
		{Token: "all-access"},
		{Token: "sessions-only", Scopes: []string{"sessions:write"}},
		{Token: "star", Scopes: []string{"*"}},
	}
	s, _ := newTestServer(t, tokens)
	orgID := "4b8f6f6e-0a3c-4a87-9f3e-2f6f3a1b5c7d"
	sendBody := []byte(`{"channel":"webchat","recipient":"u1","content":"hi"}`)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/os/messages/send", sendBody, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing auth should 401, got %d", rec.Code)
	}
	var errBody map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &errBody); err != nil {
		t.Fatalf("401 body not JSON: %v", err)
	}
	if errBody["status"] != "error" || errBody["error"] == "" {
		t.Fatalf("unexpected 401 body: %v", errBody)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/v1/os/messages/send", sendBody, map[string]string{
		"Authorization": "Bearer all-access",
		"x-org-id":      "not-a-uuid",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad org id should 401, got %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/v1/os/messages/send", sendBody, map[string]string{
		"Authorization": "Bearer sessions-only",
		"x-org-id":      orgID,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong scope should 401, got %d", rec.Code)
	}

	for _, token := range []string{"all-access", "star"} {
		rec = doRequest(t, s, http.MethodPost, "/api/v1/os/messages/send", sendBody, map[string]string{
			"Authorization": "Bearer " + token,
			"x-org-id":      orgID,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("token %q should pass, got %d", token, rec.Code)
		}
	}

	// A scoped token clears auth on its own path; the 404 comes from the
	// handler, not the middleware.
	rec = doRequest(t, s, http.MethodDelete, "/api/v1/os/sessions/absent", nil, map[string]string{
		"Authorization": "Bearer sessions-only",
		"x-org-id":      orgID,
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("scoped token on its own path should reach the handler, got %d", rec.Code)
	}
}

func TestAuthStrictModeLeavesReadsOpen(t *testing.T) {
	s, _ := newTestServer(t, []config.APIToken{{Token: "secret"}})

	for _, path := range []string{
		"/api/v1/os/config",
		"/api/v1/os/sessions",
		"/api/v1/os/channels/status",
	} {
		rec := doRequest(t, s, http.MethodGet, path, nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s should stay open in strict mode, got %d", path, rec.Code)
		}
	}
}

func TestWebhookExemptFromAuth(t *testing.T) {
	s, _ := newTestServer(t, []config.APIToken{{Token: "secret"}})
	rec := doRequest(t, s, http.MethodPost, "/api/v1/os/automation/webhook/job1",
		[]byte(`{"hello":"world"}`), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook should be exempt from auth, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(t, s, http.MethodGet, "/api/v1/os/automation/poll/job1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("poll should be exempt from auth, got %d", rec.Code)
	}
}

func TestConfigPatchBaseHashConcurrency(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/os/config", nil, nil)
	var got struct {
		BaseHash string `json:"base_hash"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("parse config response: %v", err)
	}
	h := got.BaseHash
	if h == "" {
		t.Fatalf("missing base_hash in config response")
	}

	patch := []byte(`{"base_hash":"` + h + `","agents":{"defaults":{"max_tool_iterations":9}}}`)
	rec = doRequest(t, s, http.MethodPatch, "/api/v1/os/config", patch, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("first patch should apply, got %d: %s", rec.Code, rec.Body.String())
	}
	var applied struct {
		BaseHash string `json:"base_hash"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &applied); err != nil {
		t.Fatalf("parse patch response: %v", err)
	}
	if applied.BaseHash == "" || applied.BaseHash == h {
		t.Fatalf("patch should yield a new hash")
	}

	rec = doRequest(t, s, http.MethodPatch, "/api/v1/os/config", patch, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("stale base_hash should conflict, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "base_hash mismatch") {
		t.Fatalf("conflict body should name the mismatch: %s", rec.Body.String())
	}

	cfg, _ := s.store.Snapshot()
	if cfg.Agents.Defaults.MaxToolIterations != 9 {
		t.Fatalf("config should equal the first patch's result, got %d",
			cfg.Agents.Defaults.MaxToolIterations)
	}
}

func TestWebhookDualShape(t *testing.T) {
	s, b := newTestServer(t, nil)

	// Raw JSON body with a header event id.
	rec := doRequest(t, s, http.MethodPost, "/api/v1/os/automation/webhook/job1",
		[]byte(`{"alert":"disk full"}`), map[string]string{"X-Event-Id": "evt-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("raw ingest failed: %d %s", rec.Code, rec.Body.String())
	}
	drainBusInbound(b)

	// Envelope with matching ids is fine.
	env := []byte(`{"envelope":"opencraw_ingest_envelope_v1","event_id":"evt-2","payload":{"a":1}}`)
	rec = doRequest(t, s, http.MethodPost, "/api/v1/os/automation/webhook/job1",
		env, map[string]string{"X-Event-Id": "evt-2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("envelope ingest failed: %d %s", rec.Code, rec.Body.String())
	}
	drainBusInbound(b)

	// Conflicting ids are rejected.
	rec = doRequest(t, s, http.MethodPost, "/api/v1/os/automation/webhook/job1",
		env, map[string]string{"X-Event-Id": "evt-other"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("conflicting event ids should 400, got %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/os/automation/poll/job1", nil, nil)
	var poll struct {
		Events []automation.Event `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &poll); err != nil {
		t.Fatalf("parse poll response: %v", err)
	}
	if len(poll.Events) != 2 {
		t.Fatalf("expected 2 buffered events, got %d", len(poll.Events))
	}
	if poll.Events[0].ID != "evt-1" || poll.Events[1].ID != "evt-2" {
		t.Fatalf("unexpected event ids: %s / %s", poll.Events[0].ID, poll.Events[1].ID)
	}

	// Poll drains.
	rec = doRequest(t, s, http.MethodGet, "/api/v1/os/automation/poll/job1", nil, nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &poll); err != nil {
		t.Fatalf("parse poll response: %v", err)
	}
	if len(poll.Events) != 0 {
		t.Fatalf("poll should drain the queue, got %d", len(poll.Events))
	}
}

func TestWebhookUnknownJob(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := doRequest(t, s, http.MethodPost, "/api/v1/os/automation/webhook/nope",
		[]byte(`{}`), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job should 404, got %d", rec.Code)
	}
}

func TestMessageSend(t *testing.T) {
	s, b := newTestServer(t, nil)
	rec := doRequest(t, s, http.MethodPost, "/api/v1/os/messages/send",
		[]byte(`{"channel":"telegram","recipient":"123","content":"hi"}`), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("send failed: %d %s", rec.Code, rec.Body.String())
	}
	out := drainBusOutbound(b)
	if len(out) != 1 || out[0].Channel != "telegram" || out[0].Content != "hi" {
		t.Fatalf("unexpected outbound: %+v", out)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/v1/os/messages/send",
		[]byte(`{"channel":"telegram"}`), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("incomplete send should 400, got %d", rec.Code)
	}
}

func TestSkillsEndpoints(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := doRequest(t, s, http.MethodPost, "/api/v1/os/skills/install",
		[]byte(`{"name":"summarize","version":"1.0.0","source":"https://example.com/s.tgz"}`), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("install failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/os/skills", nil, nil)
	if !strings.Contains(rec.Body.String(), "summarize") {
		t.Fatalf("skills list missing installed skill: %s", rec.Body.String())
	}
}
