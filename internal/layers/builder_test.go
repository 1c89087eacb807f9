package layers

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/cyrinux/jail-ai/internal/agent"
	"github.com/cyrinux/jail-ai/internal/runtime/runtimetest"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func rustClaudePlan(t *testing.T) *Plan {
	t.Helper()
	plan, err := PlanStack(Input{
		Workspace: "/tmp/project",
		Tags:      []string{"base", "rust"},
		Agent:     agent.Claude,
	})
	if err != nil {
		t.Fatalf("PlanStack failed: %v", err)
	}
	return plan
}

func TestEnsureBuildsWholeStack(t *testing.T) {
	fake := runtimetest.New()
	b := NewBuilder(fake, testLogger())
	plan := rustClaudePlan(t)

	ref, err := b.Ensure(context.Background(), plan, Options{})
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if ref != "localhost/jail-ai-agent-claude:base-nodejs-rust" {
		t.Errorf("terminal ref = %q", ref)
	}

	want := []string{
		"localhost/jail-ai-base:latest",
		"localhost/jail-ai-rust:latest",
		"localhost/jail-ai-nodejs:latest",
		"localhost/jail-ai-agent-claude:base-nodejs-rust",
	}
	if len(fake.Builds) != len(want) {
		t.Fatalf("builds = %v, want %v", fake.Builds, want)
	}
	for i, tag := range want {
		if fake.Builds[i] != tag {
			t.Errorf("build[%d] = %q, want %q", i, fake.Builds[i], tag)
		}
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	fake := runtimetest.New()
	b := NewBuilder(fake, testLogger())
	plan := rustClaudePlan(t)

	if _, err := b.Ensure(context.Background(), plan, Options{}); err != nil {
		t.Fatalf("first Ensure failed: %v", err)
	}
	built := len(fake.Builds)

	if _, err := b.Ensure(context.Background(), plan, Options{}); err != nil {
		t.Fatalf("second Ensure failed: %v", err)
	}
	if len(fake.Builds) != built {
		t.Errorf("second Ensure rebuilt layers: %v", fake.Builds[built:])
	}
}

func TestEnsureRecordsRecipeAndParent(t *testing.T) {
	fake := runtimetest.New()
	b := NewBuilder(fake, testLogger())
	plan := rustClaudePlan(t)

	if _, err := b.Ensure(context.Background(), plan, Options{}); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	baseLabels := fake.ImageLabels("localhost/jail-ai-base:latest")
	wantBase, _ := RecipeHash("base")
	if baseLabels[LabelRecipeHash] != wantBase {
		t.Errorf("base recipe hash = %q, want %q", baseLabels[LabelRecipeHash], wantBase)
	}

	// Layer monotonicity: each layer's recorded parent digest equals
	// the parent's current digest.
	parent := "localhost/jail-ai-base:latest"
	for _, ref := range []string{"localhost/jail-ai-rust:latest", "localhost/jail-ai-nodejs:latest"} {
		parentInfo, err := fake.InspectImage(context.Background(), parent)
		if err != nil {
			t.Fatalf("inspect %s: %v", parent, err)
		}
		labels := fake.ImageLabels(ref)
		if labels[LabelParentDigest] != parentInfo.ID {
			t.Errorf("%s parent digest = %q, want %q", ref, labels[LabelParentDigest], parentInfo.ID)
		}
		parent = ref
	}
}

func TestEnsureRebuildsOnRecipeDrift(t *testing.T) {
	fake := runtimetest.New()
	b := NewBuilder(fake, testLogger())
	plan := rustClaudePlan(t)

	if _, err := b.Ensure(context.Background(), plan, Options{}); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	// Simulate an upgrade that changed the rust recipe: stamp a stale
	// hash on the stored image.
	fake.ImageLabels("localhost/jail-ai-rust:latest")[LabelRecipeHash] = "stale"
	fake.Builds = nil

	if _, err := b.Ensure(context.Background(), plan, Options{}); err != nil {
		t.Fatalf("Ensure after drift failed: %v", err)
	}

	// rust rebuilds, and everything downstream follows because the
	// parent digest changed.
	want := []string{
		"localhost/jail-ai-rust:latest",
		"localhost/jail-ai-nodejs:latest",
		"localhost/jail-ai-agent-claude:base-nodejs-rust",
	}
	if len(fake.Builds) != len(want) {
		t.Fatalf("builds after drift = %v, want %v", fake.Builds, want)
	}
}

func TestEnsureForceRebuildsEverything(t *testing.T) {
	fake := runtimetest.New()
	b := NewBuilder(fake, testLogger())
	plan := rustClaudePlan(t)

	if _, err := b.Ensure(context.Background(), plan, Options{}); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	fake.Builds = nil

	if _, err := b.Ensure(context.Background(), plan, Options{Force: true}); err != nil {
		t.Fatalf("forced Ensure failed: %v", err)
	}
	if len(fake.Builds) != 4 {
		t.Errorf("forced Ensure built %d layers, want 4: %v", len(fake.Builds), fake.Builds)
	}
}

func TestEnsureAliasWithoutAgent(t *testing.T) {
	fake := runtimetest.New()
	b := NewBuilder(fake, testLogger())

	plan, err := PlanStack(Input{
		Workspace: "/tmp/project",
		Tags:      []string{"base", "go"},
	})
	if err != nil {
		t.Fatalf("PlanStack failed: %v", err)
	}

	ref, err := b.Ensure(context.Background(), plan, Options{})
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if ref != "localhost/jail-ai-go:base-go" {
		t.Errorf("terminal ref = %q", ref)
	}
	if len(fake.Tags) != 1 || fake.Tags[0][1] != ref {
		t.Errorf("expected alias tag to %q, got %v", ref, fake.Tags)
	}

	// The alias must resolve to the same image as the top layer.
	top, _ := fake.InspectImage(context.Background(), "localhost/jail-ai-go:latest")
	alias, err := fake.InspectImage(context.Background(), ref)
	if err != nil {
		t.Fatalf("alias not created: %v", err)
	}
	if top.ID != alias.ID {
		t.Errorf("alias points at %q, top layer is %q", alias.ID, top.ID)
	}
}

func TestEnsureParallelLanguages(t *testing.T) {
	fake := runtimetest.New()
	b := NewBuilder(fake, testLogger())

	plan, err := PlanStack(Input{
		Workspace: "/tmp/project",
		Tags:      []string{"base", "rust", "go", "python"},
		Agent:     agent.Claude,
	})
	if err != nil {
		t.Fatalf("PlanStack failed: %v", err)
	}

	ref, err := b.Ensure(context.Background(), plan, Options{Parallel: true})
	if err != nil {
		t.Fatalf("parallel Ensure failed: %v", err)
	}
	if ref != plan.Terminal.Ref {
		t.Errorf("terminal ref = %q, want %q", ref, plan.Terminal.Ref)
	}

	// base first, then all languages (any order), then the agent.
	if fake.Builds[0] != "localhost/jail-ai-base:latest" {
		t.Errorf("first build = %q, want base", fake.Builds[0])
	}
	if fake.Builds[len(fake.Builds)-1] != plan.Terminal.Ref {
		t.Errorf("last build = %q, want terminal", fake.Builds[len(fake.Builds)-1])
	}
	if len(fake.Builds) != 6 {
		t.Errorf("built %d layers, want 6: %v", len(fake.Builds), fake.Builds)
	}
}

func TestBuildErrorNamesLayer(t *testing.T) {
	fake := runtimetest.New()
	fake.BuildErr = context.DeadlineExceeded
	b := NewBuilder(fake, testLogger())
	plan := rustClaudePlan(t)

	_, err := b.Ensure(context.Background(), plan, Options{})
	if err == nil {
		t.Fatal("expected build error")
	}
	buildErr, ok := err.(*BuildError)
	if !ok {
		t.Fatalf("expected *BuildError, got %T", err)
	}
	if buildErr.Layer != "base" {
		t.Errorf("failed layer = %q, want base", buildErr.Layer)
	}
}
