package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const retentionDays = 30

// Record is one LLM call's token accounting. UsageKnown is false when the
// provider returned no usage block; such records still count calls but
// contribute no tokens to aggregates.
type Record struct {
	Timestamp        time.Time `json:"timestamp"`
	DayKey           string    `json:"day_key"`
	SessionKey       string    `json:"session_key"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	UsageKnown       bool      `json:"usage_known"`
	Reason           string    `json:"reason"`
}

type Filter struct {
	SessionKey string
	DayKey     string
	Provider   string
	Limit      int
}

type Aggregate struct {
	Calls            int
	KnownCalls       int
	UnknownCalls     int
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Store is the append-only usage ledger, persisted as JSON under the
// workspace state directory. Records older than the retention window are
// pruned on append.
type Store struct {
	mu      sync.RWMutex
	records []Record
	path    string
}

func NewStore(workspace string) *Store {
	s := &Store{
		records: make([]Record, 0, 256),
	}
	if workspace == "" {
		return s
	}
	stateDir := filepath.Join(workspace, "state")
	_ = os.MkdirAll(stateDir, 0755)
	s.path = filepath.Join(stateDir, "usage.json")
	s.load()
	return s
}

func (s *Store) DayKey(ts time.Time) string {
	return ts.UTC().Format("2006-01-02")
}

func (s *Store) TodayKey() string {
	return s.DayKey(time.Now())
}

// Append records one call and persists the ledger.
func (s *Store) Append(r Record) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	if r.DayKey == "" {
		r.DayKey = s.DayKey(r.Timestamp)
	}
	if r.TotalTokens == 0 {
		r.TotalTokens = r.PromptTokens + r.CompletionTokens
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	s.mu.Lock()
	kept := s.records[:0]
	for _, rec := range s.records {
		if rec.Timestamp.After(cutoff) {
			kept = append(kept, rec)
		}
	}
	s.records = append(kept, r)
	snapshot := make([]Record, len(s.records))
	copy(snapshot, s.records)
	s.mu.Unlock()

	return s.persist(snapshot)
}

func (s *Store) LastBySession(sessionKey string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].SessionKey == sessionKey {
			return s.records[i], true
		}
	}
	return Record{}, false
}

func (s *Store) Query(f Filter) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if f.SessionKey != "" && r.SessionKey != f.SessionKey {
			continue
		}
		if f.DayKey != "" && r.DayKey != f.DayKey {
			continue
		}
		if f.Provider != "" && !strings.EqualFold(r.Provider, f.Provider) {
			continue
		}
		out = append(out, r)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

func AggregateRecords(records []Record) Aggregate {
	var agg Aggregate
	for _, r := range records {
		addToAggregate(&agg, r)
	}
	return agg
}

func ProviderBreakdown(records []Record) map[string]Aggregate {
	out := map[string]Aggregate{}
	for _, r := range records {
		p := strings.TrimSpace(r.Provider)
		if p == "" {
			p = "unknown"
		}
		agg := out[p]
		addToAggregate(&agg, r)
		out[p] = agg
	}
	return out
}

func addToAggregate(agg *Aggregate, r Record) {
	agg.Calls++
	if r.UsageKnown {
		agg.KnownCalls++
		agg.PromptTokens += r.PromptTokens
		agg.CompletionTokens += r.CompletionTokens
		agg.TotalTokens += r.TotalTokens
	} else {
		agg.UnknownCalls++
	}
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return
	}
	s.records = records
}

func (s *Store) persist(snapshot []Record) error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal usage ledger: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("write usage ledger: %w", err)
	}
	return nil
}
