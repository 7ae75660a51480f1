package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opencraw/opencraw/pkg/automation"
	"github.com/opencraw/opencraw/pkg/bus"
	"github.com/opencraw/opencraw/pkg/channels"
	"github.com/opencraw/opencraw/pkg/config"
	"github.com/opencraw/opencraw/pkg/logger"
	"github.com/opencraw/opencraw/pkg/session"
	"github.com/opencraw/opencraw/pkg/skills"
)

const maxBodyBytes = 1 << 20

// Server is the control plane. Everything lives under /api/v1/os/; the
// webchat WebSocket is mounted alongside it on the same listener.
type Server struct {
	store      *config.Store
	sessions   *session.Manager
	skills     *skills.Registry
	bus        *bus.MessageBus
	channels   *channels.Manager
	automation *automation.Engine
	tokens     []config.APIToken
}

func NewServer(store *config.Store, sessions *session.Manager, skillsReg *skills.Registry,
	b *bus.MessageBus, mgr *channels.Manager, auto *automation.Engine, tokens []config.APIToken) *Server {
	return &Server{
		store:      store,
		sessions:   sessions,
		skills:     skillsReg,
		bus:        b,
		channels:   mgr,
		automation: auto,
		tokens:     tokens,
	}
}

// Router builds the route tree. The webchat handler is optional; nil
// means the channel is disabled.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if s.channels != nil {
		if wc := s.channels.Webchat(); wc != nil {
			r.Get("/ws", wc.ServeWS)
		}
	}

	r.Route("/api/v1/os", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/config", s.handleConfigGet)
		r.Patch("/config", s.handleConfigPatch)

		r.Get("/sessions", s.handleSessionsList)
		r.Delete("/sessions/{id}", s.handleSessionDelete)
		r.Post("/sessions/{id}/model", s.handleSessionModel)

		r.Get("/skills", s.handleSkillsList)
		r.Post("/skills/install", s.handleSkillInstall)

		r.Post("/messages/send", s.handleMessageSend)

		r.Get("/channels/status", s.handleChannelStatus)

		r.Post("/automation/webhook/{job}", s.handleAutomationWebhook)
		r.Get("/automation/poll/{job}", s.handleAutomationPoll)
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeOK(w http.ResponseWriter, extra map[string]interface{}) {
	body := map[string]interface{}{"status": "ok"}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"status": "error", "error": msg})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read request body: "+err.Error())
		return nil, false
	}
	return body, true
}

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	cfg, hash := s.store.Snapshot()
	writeOK(w, map[string]interface{}{"config": cfg, "base_hash": hash})
}

// handleConfigPatch applies a merge patch. The body may carry a
// base_hash field; when present it must match the live hash.
func (s *Server) handleConfigPatch(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		writeError(w, http.StatusBadRequest, "parse patch: "+err.Error())
		return
	}
	baseHash := ""
	if bh, exists := raw["base_hash"]; exists {
		if err := json.Unmarshal(bh, &baseHash); err != nil {
			writeError(w, http.StatusBadRequest, "base_hash must be a string")
			return
		}
		delete(raw, "base_hash")
	}
	patch, err := json.Marshal(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	newHash, err := s.store.ApplyPatch(patch, baseHash)
	if err != nil {
		if err == config.ErrBaseHashMismatch {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logger.InfoCF("api", "Config patched", map[string]interface{}{"base_hash": newHash})
	writeOK(w, map[string]interface{}{"base_hash": newHash})
}

func (s *Server) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]interface{}{"sessions": s.sessions.List()})
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.sessions.DeleteByID(id) {
		writeError(w, http.StatusNotFound, "session not found: "+id)
		return
	}
	writeOK(w, nil)
}

type sessionModelRequest struct {
	Model   *string `json:"model"`
	Pinning *string `json:"pinning"`
}

func (s *Server) handleSessionModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var req sessionModelRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "parse request: "+err.Error())
		return
	}

	var pinning *session.Pinning
	if req.Pinning != nil {
		p := session.Pinning(*req.Pinning)
		if p != session.PinAuto && p != session.PinStrict {
			writeError(w, http.StatusBadRequest, "pinning must be auto or strict")
			return
		}
		pinning = &p
	}

	if err := s.sessions.SetModelOverrideByID(id, req.Model, pinning); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleSkillsList(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]interface{}{"skills": s.skills.List()})
}

func (s *Server) handleSkillInstall(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var req skills.Skill
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "parse skill: "+err.Error())
		return
	}
	installed, err := s.skills.Install(req)
	if err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	writeOK(w, map[string]interface{}{"skill": installed})
}

type sendMessageRequest struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
}

func (s *Server) handleMessageSend(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "parse request: "+err.Error())
		return
	}
	if req.Channel == "" || req.Recipient == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "channel, recipient and content are required")
		return
	}
	s.bus.PublishOutbound(bus.OutboundMessage{
		Channel:     req.Channel,
		RecipientID: req.Recipient,
		Content:     req.Content,
	})
	writeOK(w, nil)
}

func (s *Server) handleChannelStatus(w http.ResponseWriter, r *http.Request) {
	statuses := map[string]bool{}
	if s.channels != nil {
		statuses = s.channels.Statuses()
	}
	writeOK(w, map[string]interface{}{"channels": statuses})
}

func (s *Server) handleAutomationWebhook(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job")
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	ev, err := automation.ParseIngest(body, r.Header.Get("X-Event-Id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.automation.Ingest(jobID, ev); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeOK(w, map[string]interface{}{"event_id": ev.ID})
}

func (s *Server) handleAutomationPoll(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job")
	events, err := s.automation.Poll(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeOK(w, map[string]interface{}{"events": events})
}
