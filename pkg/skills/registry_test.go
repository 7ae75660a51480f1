package skills

import (
	"strings"
	"testing"
)

func TestInstallPolicyAllow(t *testing.T) {
	r := NewRegistry(t.TempDir(), PolicyAllow)

	got, err := r.Install(Skill{Name: "weather", Description: "Fetch forecasts"})
	if err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if got.Status != StatusInstalled {
		t.Fatalf("expected installed, got %s", got.Status)
	}
	if !strings.Contains(r.Summary(), "weather") {
		t.Fatal("installed skill should appear in the summary")
	}
}

func TestInstallPolicyAskQueuesPending(t *testing.T) {
	r := NewRegistry(t.TempDir(), PolicyAsk)

	got, err := r.Install(Skill{Name: "calendar"})
	if err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if got.Status != StatusPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
	if r.Summary() != "" {
		t.Fatal("pending skills must not reach the system prompt")
	}
}

func TestInstallPolicyDeny(t *testing.T) {
	r := NewRegistry(t.TempDir(), PolicyDeny)
	if _, err := r.Install(Skill{Name: "anything"}); err == nil {
		t.Fatal("deny policy must reject installs")
	}
}

func TestInstallRejectsBadNames(t *testing.T) {
	r := NewRegistry(t.TempDir(), PolicyAllow)
	for _, name := range []string{"", "  ", "../escape", "UPPER", "a b"} {
		if _, err := r.Install(Skill{Name: name}); err == nil {
			t.Fatalf("name %q should be rejected", name)
		}
	}
}

func TestRegistryReloadsManifests(t *testing.T) {
	dir := t.TempDir()

	r := NewRegistry(dir, PolicyAllow)
	if _, err := r.Install(Skill{Name: "notes", Version: "1.2.0"}); err != nil {
		t.Fatalf("install failed: %v", err)
	}

	reloaded := NewRegistry(dir, PolicyAllow)
	list := reloaded.List()
	if len(list) != 1 || list[0].Name != "notes" || list[0].Version != "1.2.0" {
		t.Fatalf("manifest not reloaded: %+v", list)
	}
}
