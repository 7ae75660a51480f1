package skills

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opencraw/opencraw/pkg/logger"
)

type InstallPolicy string

const (
	PolicyAllow InstallPolicy = "allow"
	PolicyDeny  InstallPolicy = "deny"
	PolicyAsk   InstallPolicy = "ask"
)

type Status string

const (
	StatusInstalled Status = "installed"
	StatusPending   Status = "pending"
)

// Skill is one installable capability extension. The manifest lives at
// workspace/skills/<name>/skill.json; free-form instructions sit next to
// it in SKILL.md.
type Skill struct {
	Name        string    `json:"name"`
	Version     string    `json:"version,omitempty"`
	Description string    `json:"description,omitempty"`
	Source      string    `json:"source,omitempty"`
	Status      Status    `json:"status"`
	InstalledAt time.Time `json:"installed_at"`
}

var skillNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Registry manages skill manifests under one directory and applies the
// configured install policy.
type Registry struct {
	mu     sync.Mutex
	dir    string
	policy InstallPolicy
	skills map[string]Skill
}

func NewRegistry(workspace string, policy InstallPolicy) *Registry {
	switch policy {
	case PolicyAllow, PolicyDeny, PolicyAsk:
	default:
		policy = PolicyAsk
	}

	r := &Registry{
		dir:    filepath.Join(workspace, "skills"),
		policy: policy,
		skills: make(map[string]Skill),
	}
	_ = os.MkdirAll(r.dir, 0755)
	r.loadAll()
	return r
}

func (r *Registry) loadAll() {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.dir, e.Name(), "skill.json"))
		if err != nil {
			continue
		}
		var s Skill
		if err := json.Unmarshal(data, &s); err != nil || s.Name == "" {
			logger.WarnCF("skills", "Skipping unreadable skill manifest",
				map[string]interface{}{"dir": e.Name()})
			continue
		}
		r.skills[s.Name] = s
	}
}

// List returns all known skills in name order.
func (r *Registry) List() []Skill {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Skill, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Install applies the configured policy: allow installs immediately, ask
// records the skill as pending, deny rejects outright.
func (r *Registry) Install(s Skill) (Skill, error) {
	name := strings.TrimSpace(s.Name)
	if name == "" || !skillNameRe.MatchString(name) {
		return Skill{}, fmt.Errorf("invalid skill name %q", s.Name)
	}
	s.Name = name

	switch r.policy {
	case PolicyDeny:
		return Skill{}, fmt.Errorf("skill installs are disabled by policy")
	case PolicyAsk:
		s.Status = StatusPending
	default:
		s.Status = StatusInstalled
	}
	s.InstalledAt = time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.writeManifest(s); err != nil {
		return Skill{}, err
	}
	r.skills[s.Name] = s

	logger.InfoCF("skills", "Skill recorded",
		map[string]interface{}{"name": s.Name, "status": string(s.Status)})
	return s, nil
}

func (r *Registry) writeManifest(s Skill) error {
	dir := filepath.Join(r.dir, s.Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create skill dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal skill manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "skill.json"), data, 0644); err != nil {
		return fmt.Errorf("write skill manifest: %w", err)
	}
	return nil
}

// Summary renders the installed skills for the system prompt. Pending
// skills are withheld until approved.
func (r *Registry) Summary() string {
	var lines []string
	for _, s := range r.List() {
		if s.Status != StatusInstalled {
			continue
		}
		line := "- " + s.Name
		if s.Description != "" {
			line += ": " + s.Description
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n")
}
