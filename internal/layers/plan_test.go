package layers

import (
	"reflect"
	"strings"
	"testing"

	"github.com/cyrinux/jail-ai/internal/agent"
)

func TestPlanStackRustWithAgent(t *testing.T) {
	plan, err := PlanStack(Input{
		Workspace: "/tmp/project",
		Tags:      []string{"base", "rust"},
		Agent:     agent.Claude,
	})
	if err != nil {
		t.Fatalf("PlanStack failed: %v", err)
	}

	// nodejs is injected for the agent; the identity tag stays
	// lexicographic.
	if plan.StackTag != "base-nodejs-rust" {
		t.Errorf("StackTag = %q, want base-nodejs-rust", plan.StackTag)
	}
	if plan.Terminal.Ref != "localhost/jail-ai-agent-claude:base-nodejs-rust" {
		t.Errorf("Terminal.Ref = %q", plan.Terminal.Ref)
	}

	// Build order keeps nodejs immediately before the agent.
	var order []string
	for _, l := range plan.Shared {
		order = append(order, l.Name)
	}
	if !reflect.DeepEqual(order, []string{"base", "rust", "nodejs"}) {
		t.Errorf("build order = %v, want [base rust nodejs]", order)
	}
}

func TestPlanStackDeterministic(t *testing.T) {
	in := Input{
		Workspace: "/tmp/project",
		Tags:      []string{"base", "nodejs", "rust"},
		Agent:     agent.Claude,
	}
	a, err := PlanStack(in)
	if err != nil {
		t.Fatalf("PlanStack failed: %v", err)
	}
	b, err := PlanStack(in)
	if err != nil {
		t.Fatalf("PlanStack failed: %v", err)
	}
	if a.StackTag != b.StackTag || a.Terminal.Ref != b.Terminal.Ref {
		t.Errorf("plan not deterministic: %v vs %v", a, b)
	}
}

func TestPlanStackNoAgentAliasesTerminal(t *testing.T) {
	plan, err := PlanStack(Input{
		Workspace: "/tmp/project",
		Tags:      []string{"base", "go"},
	})
	if err != nil {
		t.Fatalf("PlanStack failed: %v", err)
	}
	if plan.Terminal.Recipe != "" {
		t.Errorf("no-agent terminal should be an alias, got recipe %q", plan.Terminal.Recipe)
	}
	if plan.Terminal.Ref != "localhost/jail-ai-go:base-go" {
		t.Errorf("Terminal.Ref = %q", plan.Terminal.Ref)
	}
	// No nodejs injection without an agent.
	if plan.StackTag != "base-go" {
		t.Errorf("StackTag = %q, want base-go", plan.StackTag)
	}
}

func TestPlanStackNixElidedStack(t *testing.T) {
	plan, err := PlanStack(Input{
		Workspace: "/tmp/project",
		Tags:      []string{"base", "nix"},
		Agent:     agent.Claude,
	})
	if err != nil {
		t.Fatalf("PlanStack failed: %v", err)
	}
	// The flake owns the toolchain: no nodejs injection under nix.
	if plan.StackTag != "base-nix" {
		t.Errorf("StackTag = %q, want base-nix", plan.StackTag)
	}
	if plan.Terminal.Ref != "localhost/jail-ai-agent-claude:base-nix" {
		t.Errorf("Terminal.Ref = %q", plan.Terminal.Ref)
	}
}

func TestPlanStackCustomDigestSuffix(t *testing.T) {
	recipe := []byte("FROM scratch\n")
	plan, err := PlanStack(Input{
		Workspace:    "/tmp/project",
		Tags:         []string{"base", "rust", "custom"},
		Agent:        agent.Claude,
		CustomRecipe: recipe,
	})
	if err != nil {
		t.Fatalf("PlanStack failed: %v", err)
	}
	want := "base-nodejs-rust-custom-" + ShortDigest(recipe)
	if plan.StackTag != want {
		t.Errorf("StackTag = %q, want %q", plan.StackTag, want)
	}
	if plan.Custom == nil {
		t.Fatal("expected a custom layer")
	}
	if !strings.HasPrefix(plan.Custom.Ref, "localhost/jail-ai-custom:") {
		t.Errorf("Custom.Ref = %q", plan.Custom.Ref)
	}
}

func TestPlanStackIsolated(t *testing.T) {
	plan, err := PlanStack(Input{
		Workspace: "/tmp/project",
		Tags:      []string{"base", "rust"},
		Agent:     agent.Claude,
		Isolated:  true,
	})
	if err != nil {
		t.Fatalf("PlanStack failed: %v", err)
	}
	if plan.StackTag != WorkspaceID("/tmp/project") {
		t.Errorf("isolated StackTag = %q, want workspace id", plan.StackTag)
	}
}

func TestPlanStackErrors(t *testing.T) {
	tests := []struct {
		name string
		in   Input
	}{
		{"missing base", Input{Tags: []string{"rust"}}},
		{"double base", Input{Tags: []string{"base", "base"}}},
		{"unknown tag", Input{Tags: []string{"base", "cobol"}}},
		{"nix with languages", Input{Tags: []string{"base", "nix", "rust"}}},
		{"agent tag classified", Input{Tags: []string{"base", "agent-claude"}}},
		{"custom without recipe", Input{Tags: []string{"base", "custom"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := PlanStack(tt.in); err == nil {
				t.Errorf("PlanStack(%v) succeeded, want error", tt.in.Tags)
			}
		})
	}
}

func TestTerminalRefMatchesPlan(t *testing.T) {
	in := Input{
		Workspace: "/tmp/project",
		Tags:      []string{"base", "rust"},
		Agent:     agent.Claude,
	}
	ref, err := TerminalRef(in)
	if err != nil {
		t.Fatalf("TerminalRef failed: %v", err)
	}
	plan, err := PlanStack(in)
	if err != nil {
		t.Fatalf("PlanStack failed: %v", err)
	}
	if ref != plan.Terminal.Ref {
		t.Errorf("TerminalRef = %q, plan says %q", ref, plan.Terminal.Ref)
	}
}
