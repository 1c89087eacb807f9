package jail

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/cyrinux/jail-ai/internal/runtime"
	"github.com/cyrinux/jail-ai/internal/runtime/runtimetest"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testConfig() *Config {
	return &Config{
		Name:      "jail__proj__abcd1234__claude",
		Workspace: "/tmp/proj",
		Agent:     "claude",
		BlockHost: true,
	}
}

func TestCreateIsIdempotent(t *testing.T) {
	fake := runtimetest.New()
	m := NewManager(fake, testLogger())
	cfg := testConfig()

	if err := m.Create(context.Background(), cfg, "img:1"); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	if err := m.Create(context.Background(), cfg, "img:1"); err != nil {
		t.Fatalf("second Create with same image failed: %v", err)
	}
}

func TestCreateConflictsOnDifferentImage(t *testing.T) {
	fake := runtimetest.New()
	m := NewManager(fake, testLogger())
	cfg := testConfig()

	if err := m.Create(context.Background(), cfg, "img:1"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	err := m.Create(context.Background(), cfg, "img:2")
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestCreateMakesHomeVolume(t *testing.T) {
	fake := runtimetest.New()
	m := NewManager(fake, testLogger())
	cfg := testConfig()

	if err := m.Create(context.Background(), cfg, "img:1"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !fake.HasVolume(cfg.Name) {
		t.Error("home volume not created")
	}
}

func TestCreateRecordsLabels(t *testing.T) {
	fake := runtimetest.New()
	m := NewManager(fake, testLogger())
	cfg := testConfig()

	if err := m.Create(context.Background(), cfg, "img:1"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	c := fake.Container(cfg.Name)
	if c.Spec.Labels[LabelBlockHost] != "true" {
		t.Error("block-host flag not recorded in labels")
	}
	if c.Spec.Labels[LabelWorkspace] != cfg.Workspace {
		t.Error("workspace not recorded in labels")
	}
}

func TestStartTwiceIsNoOp(t *testing.T) {
	fake := runtimetest.New()
	m := NewManager(fake, testLogger())
	cfg := testConfig()

	if err := m.Create(context.Background(), cfg, "img:1"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := m.Start(context.Background(), cfg.Name); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.Start(context.Background(), cfg.Name); err != nil {
		t.Errorf("Start on running container should be a no-op, got %v", err)
	}
}

func TestExecOnStoppedReportsState(t *testing.T) {
	fake := runtimetest.New()
	m := NewManager(fake, testLogger())
	cfg := testConfig()

	if err := m.Create(context.Background(), cfg, "img:1"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err := m.Exec(context.Background(), cfg.Name, []string{"true"}, false)
	var stateErr *StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected StateError, got %v", err)
	}
	if stateErr.Want != "running" {
		t.Errorf("StateError.Want = %q, want running", stateErr.Want)
	}
}

func TestRemoveRetainsVolumeByDefault(t *testing.T) {
	fake := runtimetest.New()
	m := NewManager(fake, testLogger())
	cfg := testConfig()

	if err := m.Create(context.Background(), cfg, "img:1"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := m.Remove(context.Background(), cfg, false); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	if fake.Container(cfg.Name) != nil {
		t.Error("container survived Remove")
	}
	if !fake.HasVolume(cfg.Name) {
		t.Error("volume removed without opt-in")
	}

	// Removing an already-removed jail is tolerated.
	if err := m.Remove(context.Background(), cfg, false); err != nil {
		t.Errorf("second Remove failed: %v", err)
	}
}

func TestRemoveWithVolume(t *testing.T) {
	fake := runtimetest.New()
	m := NewManager(fake, testLogger())
	cfg := testConfig()

	if err := m.Create(context.Background(), cfg, "img:1"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := m.Remove(context.Background(), cfg, true); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if fake.HasVolume(cfg.Name) {
		t.Error("volume survived opt-in removal")
	}
}

func TestUpgradePreservesVolume(t *testing.T) {
	fake := runtimetest.New()
	m := NewManager(fake, testLogger())
	cfg := testConfig()

	fake.SetImage("img:2", "sha256:2", nil)
	if err := m.Create(context.Background(), cfg, "img:1"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := m.Upgrade(context.Background(), cfg, "img:2"); err != nil {
		t.Fatalf("Upgrade failed: %v", err)
	}

	c := fake.Container(cfg.Name)
	if c == nil {
		t.Fatal("container missing after upgrade")
	}
	if c.Spec.Image != "img:2" {
		t.Errorf("container image = %q, want img:2", c.Spec.Image)
	}
	if !c.Running {
		t.Error("container not running after upgrade")
	}
	if !fake.HasVolume(cfg.Name) {
		t.Error("home volume lost during upgrade")
	}
}

func TestListFindsManagedJails(t *testing.T) {
	fake := runtimetest.New()
	m := NewManager(fake, testLogger())

	if err := m.Create(context.Background(), testConfig(), "img:1"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	names, err := m.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(names) != 1 || names[0] != testConfig().Name {
		t.Errorf("List = %v", names)
	}
}

func TestConfigSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Mounts = []runtime.Mount{{Source: "/a", Target: "/b", ReadOnly: true}}
	cfg.Env = map[string]string{"FOO": "bar"}
	cfg.MemoryMiB = 2048
	cfg.CPUPercent = 150

	if err := cfg.Save(dir); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := LoadConfig(dir, cfg.Name)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if loaded.Name != cfg.Name || loaded.Workspace != cfg.Workspace ||
		loaded.Agent != cfg.Agent || !loaded.BlockHost ||
		loaded.MemoryMiB != 2048 || loaded.CPUPercent != 150 {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
	if len(loaded.Mounts) != 1 || !loaded.Mounts[0].ReadOnly {
		t.Errorf("mounts lost in round trip: %+v", loaded.Mounts)
	}
}
