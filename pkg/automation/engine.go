package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/opencraw/opencraw/pkg/bus"
	"github.com/opencraw/opencraw/pkg/config"
	"github.com/opencraw/opencraw/pkg/logger"
)

// EnvelopeV1 is the structured ingest shape. Raw JSON bodies are also
// accepted; both forms funnel into an Event.
const EnvelopeV1 = "opencraw_ingest_envelope_v1"

const maxPendingEvents = 256

// Event is one webhook delivery held for a job until polled.
type Event struct {
	ID         string          `json:"id"`
	JobID      string          `json:"job_id"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

type envelope struct {
	Envelope string          `json:"envelope"`
	EventID  string          `json:"event_id"`
	Payload  json.RawMessage `json:"payload"`
}

// ParseIngest accepts either a raw JSON body or an EnvelopeV1 envelope.
// A header-supplied event id may coexist with an envelope-supplied one
// only when the two are equal.
func ParseIngest(body []byte, headerEventID string) (Event, error) {
	var ev Event

	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Envelope == EnvelopeV1 {
		if headerEventID != "" && env.EventID != "" && headerEventID != env.EventID {
			return ev, fmt.Errorf("event id mismatch between header and envelope")
		}
		ev.ID = env.EventID
		if ev.ID == "" {
			ev.ID = headerEventID
		}
		ev.Payload = env.Payload
	} else {
		if !json.Valid(body) {
			return ev, fmt.Errorf("body is not valid JSON")
		}
		ev.ID = headerEventID
		ev.Payload = json.RawMessage(body)
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.ReceivedAt = time.Now().UTC()
	return ev, nil
}

// Engine schedules configured jobs and buffers webhook events. Due jobs
// inject a synthetic inbound message, so automation rides the same path
// as any user message.
type Engine struct {
	bus  *bus.MessageBus
	cron *gronx.Gronx

	mu      sync.Mutex
	jobs    map[string]config.AutomationJob
	pending map[string][]Event
}

func NewEngine(jobs []config.AutomationJob, b *bus.MessageBus) *Engine {
	e := &Engine{
		bus:     b,
		cron:    gronx.New(),
		jobs:    make(map[string]config.AutomationJob),
		pending: make(map[string][]Event),
	}
	for _, j := range jobs {
		if j.ID == "" {
			continue
		}
		e.jobs[j.ID] = j
	}
	return e
}

// Run ticks once a minute and fires every job whose cron expression is due.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.tick(now)
		}
	}
}

func (e *Engine) tick(now time.Time) {
	e.mu.Lock()
	jobs := make([]config.AutomationJob, 0, len(e.jobs))
	for _, j := range e.jobs {
		jobs = append(jobs, j)
	}
	e.mu.Unlock()

	for _, j := range jobs {
		if strings.TrimSpace(j.Schedule) == "" {
			continue
		}
		due, err := e.cron.IsDue(j.Schedule, now)
		if err != nil {
			logger.WarnCF("automation", "Bad cron expression", map[string]interface{}{
				"job_id":   j.ID,
				"schedule": j.Schedule,
				"error":    err.Error(),
			})
			continue
		}
		if due {
			e.fire(j, j.Prompt)
		}
	}
}

// Ingest records an event for a job and fires the job with the event
// payload attached to its prompt.
func (e *Engine) Ingest(jobID string, ev Event) error {
	e.mu.Lock()
	job, ok := e.jobs[jobID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("unknown automation job: %s", jobID)
	}
	ev.JobID = jobID
	queue := append(e.pending[jobID], ev)
	if len(queue) > maxPendingEvents {
		queue = queue[len(queue)-maxPendingEvents:]
	}
	e.pending[jobID] = queue
	e.mu.Unlock()

	prompt := job.Prompt
	if len(ev.Payload) > 0 {
		prompt = fmt.Sprintf("%s\n\nEvent payload:\n%s", job.Prompt, string(ev.Payload))
	}
	e.fire(job, prompt)
	return nil
}

// Poll drains the buffered events for a job.
func (e *Engine) Poll(jobID string) ([]Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.jobs[jobID]; !ok {
		return nil, fmt.Errorf("unknown automation job: %s", jobID)
	}
	events := e.pending[jobID]
	e.pending[jobID] = nil
	if events == nil {
		events = []Event{}
	}
	return events, nil
}

func (e *Engine) fire(job config.AutomationJob, prompt string) {
	if strings.TrimSpace(prompt) == "" {
		return
	}
	logger.InfoCF("automation", "Job fired", map[string]interface{}{
		"job_id":  job.ID,
		"channel": job.Channel,
	})
	e.bus.PublishInbound(bus.InboundMessage{
		Kind:       bus.KindMessage,
		MessageID:  "automation-" + uuid.NewString(),
		Channel:    job.Channel,
		SenderID:   job.Recipient,
		Content:    prompt,
		Metadata:   map[string]string{"automation_job": job.ID},
		ReceivedAt: time.Now(),
	})
}
