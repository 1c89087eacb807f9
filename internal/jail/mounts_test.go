package jail

import (
	"testing"

	"github.com/cyrinux/jail-ai/internal/runtime"
)

func findMount(mounts []runtime.Mount, target string) *runtime.Mount {
	for i := range mounts {
		if mounts[i].Target == target {
			return &mounts[i]
		}
	}
	return nil
}

func TestComposeMountsDefaults(t *testing.T) {
	cfg := &Config{Name: "test", Workspace: "/tmp/project"}

	mounts := ComposeMounts(cfg)

	ws := findMount(mounts, WorkspaceTarget)
	if ws == nil {
		t.Fatal("workspace mount missing")
	}
	if ws.Source != "/tmp/project" || ws.ReadOnly {
		t.Errorf("workspace mount = %+v, want rw from /tmp/project", ws)
	}

	home := findMount(mounts, HomeDir)
	if home == nil {
		t.Fatal("home volume mount missing")
	}
	if home.Source != "test" {
		t.Errorf("home volume source = %q, want jail name", home.Source)
	}
}

func TestComposeMountsNoWorkspace(t *testing.T) {
	cfg := &Config{Name: "test", Workspace: "/tmp/project", NoWorkspace: true}
	if findMount(ComposeMounts(cfg), WorkspaceTarget) != nil {
		t.Error("workspace mounted despite NoWorkspace")
	}
}

func TestComposeMountsReadOnlyWins(t *testing.T) {
	cfg := &Config{
		Name:      "test",
		Workspace: "/tmp/project",
		Mounts: []runtime.Mount{
			// Caller remounts the workspace read-only: the explicit
			// read-only must win over the implicit read-write.
			{Source: "/tmp/project", Target: WorkspaceTarget, ReadOnly: true},
		},
	}

	mounts := ComposeMounts(cfg)
	ws := findMount(mounts, WorkspaceTarget)
	if ws == nil {
		t.Fatal("workspace mount missing")
	}
	if !ws.ReadOnly {
		t.Error("conflicting modes: read-only should win")
	}

	count := 0
	for _, m := range mounts {
		if m.Target == WorkspaceTarget {
			count++
		}
	}
	if count != 1 {
		t.Errorf("duplicate targets survived dedupe: %d", count)
	}
}

func TestComposeMountsCredentialMountsKept(t *testing.T) {
	cfg := &Config{
		Name:      "test",
		Workspace: "/tmp/project",
		Mounts: []runtime.Mount{
			{Source: "/home/user/.config/cred.json", Target: "/home/agent/.config/cred.json", ReadOnly: true},
		},
	}
	m := findMount(ComposeMounts(cfg), "/home/agent/.config/cred.json")
	if m == nil || !m.ReadOnly {
		t.Errorf("credential mount lost or writable: %+v", m)
	}
}

func TestComposeMountsVolumeOverride(t *testing.T) {
	cfg := &Config{Name: "test", Workspace: "/tmp/project", Volume: "shared-home"}
	home := findMount(ComposeMounts(cfg), HomeDir)
	if home == nil || home.Source != "shared-home" {
		t.Errorf("home volume = %+v, want shared-home", home)
	}
}
