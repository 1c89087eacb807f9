package layers

import (
	"strings"
	"testing"
)

func TestRecipeInventory(t *testing.T) {
	want := []string{
		"base", "rust", "go", "nodejs", "python", "java", "php", "cpp",
		"csharp", "nix", "kubernetes", "terraform", "aws", "gcp",
		"agent-claude", "agent-copilot", "agent-cursor", "agent-gemini",
		"agent-codex", "agent-jules",
	}
	for _, name := range want {
		if _, ok := Recipe(name); !ok {
			t.Errorf("recipe %q missing from inventory", name)
		}
	}
	if _, ok := Recipe("cobol"); ok {
		t.Error("unexpected recipe for unknown name")
	}
}

func TestRecipeHashStable(t *testing.T) {
	a, ok := RecipeHash("base")
	if !ok {
		t.Fatal("base recipe has no hash")
	}
	b, _ := RecipeHash("base")
	if a != b {
		t.Errorf("recipe hash not stable: %q vs %q", a, b)
	}
	if len(a) != 16 {
		t.Errorf("recipe hash length = %d, want 16", len(a))
	}
}

func TestHashRecipeDiffers(t *testing.T) {
	if HashRecipe([]byte("a")) == HashRecipe([]byte("b")) {
		t.Error("different contents hash equal")
	}
}

func TestShortDigest(t *testing.T) {
	d := ShortDigest([]byte("FROM scratch\n"))
	if len(d) != 6 {
		t.Errorf("short digest length = %d, want 6", len(d))
	}
	if strings.ToLower(d) != d {
		t.Errorf("short digest %q is not lowercase hex", d)
	}
}

func TestRecipesDeclareParentArg(t *testing.T) {
	for _, name := range RecipeNames() {
		if name == "base" {
			continue
		}
		data, _ := Recipe(name)
		if !strings.Contains(string(data), "ARG BASE_IMAGE") {
			t.Errorf("recipe %q does not accept a BASE_IMAGE argument", name)
		}
	}
}
