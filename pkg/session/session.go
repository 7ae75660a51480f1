package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opencraw/opencraw/pkg/logger"
	"github.com/opencraw/opencraw/pkg/providers"
)

type Pinning string

const (
	PinAuto   Pinning = "auto"
	PinStrict Pinning = "strict"
)

// UsageTotals is the running token counter for one session. It only ever
// grows within a session's lifetime.
type UsageTotals struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Session is the per-user, per-channel conversational state. The external
// key is channel:sender_id; ID is the internal identity used by the
// control plane.
type Session struct {
	ID                     string              `json:"id"`
	Channel                string              `json:"channel"`
	SenderID               string              `json:"sender_id"`
	History                []providers.Message `json:"history"`
	ShowThinking           bool                `json:"show_thinking"`
	ShowToolCalls          bool                `json:"show_tool_calls"`
	Usage                  UsageTotals         `json:"usage"`
	LastUserMessageID      string              `json:"last_user_message_id,omitempty"`
	LastAssistantMessageID string              `json:"last_assistant_message_id,omitempty"`
	CreatedAt              time.Time           `json:"created_at"`
	LastActive             time.Time           `json:"last_active"`
	ModelOverride          string              `json:"model_override,omitempty"`
	ModelPinning           Pinning             `json:"model_pinning,omitempty"`
}

type Summary struct {
	ID         string    `json:"id"`
	Channel    string    `json:"channel"`
	SenderID   string    `json:"sender_id"`
	Messages   int       `json:"messages"`
	Model      string    `json:"model,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

type entry struct {
	mu sync.Mutex
	s  *Session
}

// Manager is the concurrent session store. The outer lock guards only the
// map; every session mutation happens under that entry's own lock, so
// distinct sessions proceed in parallel.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry
	dir      string

	// ModelKnown validates override names against the configured model
	// list. Nil disables the check.
	ModelKnown func(string) bool
}

func Key(channel, senderID string) string {
	return channel + ":" + senderID
}

func NewManager(dir string) *Manager {
	m := &Manager{
		sessions: make(map[string]*entry),
		dir:      dir,
	}
	if dir != "" {
		_ = os.MkdirAll(dir, 0755)
		m.loadAll()
	}
	return m
}

func (m *Manager) loadAll() {
	files, err := os.ReadDir(m.dir)
	if err != nil {
		return
	}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.dir, f.Name()))
		if err != nil {
			continue
		}
		var s Session
		if err := json.Unmarshal(data, &s); err != nil || s.Channel == "" {
			logger.WarnCF("session", "Skipping unreadable session file",
				map[string]interface{}{"file": f.Name()})
			continue
		}
		m.sessions[Key(s.Channel, s.SenderID)] = &entry{s: &s}
	}
}

func (m *Manager) get(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[key]
}

// GetOrCreate atomically upserts the session for (channel, sender) and
// returns a snapshot of it.
func (m *Manager) GetOrCreate(channel, senderID string) Session {
	key := Key(channel, senderID)

	m.mu.Lock()
	e, ok := m.sessions[key]
	if !ok {
		now := time.Now().UTC()
		e = &entry{s: &Session{
			ID:         uuid.NewString(),
			Channel:    channel,
			SenderID:   senderID,
			History:    []providers.Message{},
			CreatedAt:  now,
			LastActive: now,
		}}
		m.sessions[key] = e
	}
	m.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneSession(e.s)
}

// Snapshot returns a copy of the session for key, if present.
func (m *Manager) Snapshot(key string) (Session, bool) {
	e := m.get(key)
	if e == nil {
		return Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneSession(e.s), true
}

// History returns a copy of the session's message history.
func (m *Manager) History(key string) []providers.Message {
	e := m.get(key)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]providers.Message, len(e.s.History))
	copy(out, e.s.History)
	return out
}

func (m *Manager) AppendMessage(key string, msg providers.Message) {
	e := m.get(key)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.s.History = append(e.s.History, msg)
	e.s.LastActive = time.Now().UTC()
}

func (m *Manager) SetLastUserMessageID(key, id string) {
	m.withEntry(key, func(s *Session) { s.LastUserMessageID = id })
}

func (m *Manager) SetLastAssistantMessageID(key, id string) {
	m.withEntry(key, func(s *Session) { s.LastAssistantMessageID = id })
}

// AddUsage accumulates token counts. Negative deltas are ignored so the
// totals stay monotonic.
func (m *Manager) AddUsage(key string, prompt, completion int) {
	m.withEntry(key, func(s *Session) {
		if prompt > 0 {
			s.Usage.PromptTokens += prompt
		}
		if completion > 0 {
			s.Usage.CompletionTokens += completion
		}
	})
}

func (m *Manager) UsageTotals(key string) UsageTotals {
	var u UsageTotals
	m.withEntry(key, func(s *Session) { u = s.Usage })
	return u
}

func (m *Manager) ToggleShowThinking(key string) bool {
	var v bool
	m.withEntry(key, func(s *Session) {
		s.ShowThinking = !s.ShowThinking
		v = s.ShowThinking
	})
	return v
}

func (m *Manager) ToggleShowToolCalls(key string) bool {
	var v bool
	m.withEntry(key, func(s *Session) {
		s.ShowToolCalls = !s.ShowToolCalls
		v = s.ShowToolCalls
	})
	return v
}

// Reset clears history, usage and the last-message ids, and refreshes
// LastActive. Toggles and model override survive a reset.
func (m *Manager) Reset(key string) {
	m.withEntry(key, func(s *Session) {
		s.History = []providers.Message{}
		s.Usage = UsageTotals{}
		s.LastUserMessageID = ""
		s.LastAssistantMessageID = ""
		s.LastActive = time.Now().UTC()
	})
}

func (m *Manager) withEntry(key string, fn func(*Session)) {
	e := m.get(key)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.s)
}

// List returns summaries ordered by LastActive descending.
func (m *Manager) List() []Summary {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, Summary{
			ID:         e.s.ID,
			Channel:    e.s.Channel,
			SenderID:   e.s.SenderID,
			Messages:   len(e.s.History),
			Model:      e.s.ModelOverride,
			CreatedAt:  e.s.CreatedAt,
			LastActive: e.s.LastActive,
		})
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActive.After(out[j].LastActive)
	})
	return out
}

// DeleteByID removes the session whose internal id matches. Linear scan,
// bounded by the number of active users.
func (m *Manager) DeleteByID(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.sessions {
		e.mu.Lock()
		match := e.s.ID == id
		e.mu.Unlock()
		if match {
			delete(m.sessions, key)
			if m.dir != "" {
				_ = os.Remove(filepath.Join(m.dir, id+".json"))
			}
			return true
		}
	}
	return false
}

// SetModelOverrideByID updates the per-session model routing. Strict
// pinning requires a model; switching back to auto deliberately leaves any
// existing override in place.
func (m *Manager) SetModelOverrideByID(id string, model *string, pinning *Pinning) error {
	e := m.findByID(id)
	if e == nil {
		return fmt.Errorf("session %s not found", id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	nextPinning := e.s.ModelPinning
	if pinning != nil {
		switch *pinning {
		case PinAuto, PinStrict:
			nextPinning = *pinning
		default:
			return fmt.Errorf("invalid pinning %q", *pinning)
		}
	}

	nextModel := e.s.ModelOverride
	if model != nil {
		trimmed := strings.TrimSpace(*model)
		if trimmed != "" && m.ModelKnown != nil && !m.ModelKnown(trimmed) {
			return fmt.Errorf("unknown model %q", trimmed)
		}
		nextModel = trimmed
	}

	if nextPinning == PinStrict && nextModel == "" {
		return fmt.Errorf("strict pinning requires a model override")
	}

	e.s.ModelPinning = nextPinning
	e.s.ModelOverride = nextModel
	return nil
}

func (m *Manager) findByID(id string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.sessions {
		e.mu.Lock()
		match := e.s.ID == id
		e.mu.Unlock()
		if match {
			return e
		}
	}
	return nil
}

// EffectiveModel resolves the model for a turn: session override when set,
// otherwise the configured default.
func (m *Manager) EffectiveModel(key, defaultModel string) string {
	model := defaultModel
	m.withEntry(key, func(s *Session) {
		if s.ModelOverride != "" {
			model = s.ModelOverride
		}
	})
	return model
}

// Save persists one session to disk, best effort.
func (m *Manager) Save(key string) {
	if m.dir == "" {
		return
	}
	e := m.get(key)
	if e == nil {
		return
	}
	e.mu.Lock()
	data, err := json.MarshalIndent(e.s, "", "  ")
	path := filepath.Join(m.dir, e.s.ID+".json")
	e.mu.Unlock()
	if err != nil {
		return
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		logger.WarnCF("session", "Failed to persist session",
			map[string]interface{}{"key": key, "error": err.Error()})
	}
}

func cloneSession(s *Session) Session {
	clone := *s
	clone.History = make([]providers.Message, len(s.History))
	copy(clone.History, s.History)
	return clone
}
