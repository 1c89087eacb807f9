package classify

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatalf("touch %s: %v", name, err)
		}
	}
}

func TestWorkspace(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		opts  Options
		want  []string
	}{
		{
			name: "empty workspace",
			want: []string{"base"},
		},
		{
			name:  "rust",
			files: []string{"Cargo.toml"},
			want:  []string{"base", "rust"},
		},
		{
			name:  "go via go.sum only",
			files: []string{"go.sum"},
			want:  []string{"base", "go"},
		},
		{
			name:  "nodejs",
			files: []string{"package.json"},
			want:  []string{"base", "nodejs"},
		},
		{
			name:  "python via Pipfile",
			files: []string{"Pipfile"},
			want:  []string{"base", "python"},
		},
		{
			name:  "java via gradle kts",
			files: []string{"build.gradle.kts"},
			want:  []string{"base", "java"},
		},
		{
			name:  "php",
			files: []string{"composer.json"},
			want:  []string{"base", "php"},
		},
		{
			name:  "csharp via sln glob",
			files: []string{"App.sln"},
			want:  []string{"base", "csharp"},
		},
		{
			name:  "terraform via tf glob",
			files: []string{"main.tf"},
			want:  []string{"base", "terraform"},
		},
		{
			name:  "kubernetes via chart",
			files: []string{"Chart.yaml"},
			want:  []string{"base", "kubernetes"},
		},
		{
			name:  "cpp via cmake",
			files: []string{"CMakeLists.txt"},
			want:  []string{"base", "cpp"},
		},
		{
			name:  "cpp via makefile with sources",
			files: []string{"Makefile", "main.c"},
			want:  []string{"base", "cpp"},
		},
		{
			name:  "makefile alone is not cpp",
			files: []string{"Makefile"},
			want:  []string{"base"},
		},
		{
			name:  "multi language sorted",
			files: []string{"package.json", "Cargo.toml"},
			want:  []string{"base", "nodejs", "rust"},
		},
		{
			name:  "nix elides languages",
			files: []string{"flake.nix", "Cargo.toml", "package.json"},
			want:  []string{"base", "nix"},
		},
		{
			name:  "nix suppressed keeps languages",
			files: []string{"flake.nix", "Cargo.toml"},
			opts:  Options{NoNix: true},
			want:  []string{"base", "rust"},
		},
		{
			name:  "custom containerfile",
			files: []string{"Cargo.toml", CustomContainerfile},
			want:  []string{"base", "rust", "custom"},
		},
		{
			name:  "nix keeps custom",
			files: []string{"flake.nix", "Cargo.toml", CustomContainerfile},
			want:  []string{"base", "nix", "custom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			touch(t, dir, tt.files...)

			got, err := Workspace(dir, tt.opts)
			if err != nil {
				t.Fatalf("Workspace failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Workspace = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWorkspaceIsPure(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "Cargo.toml", "package.json")

	first, err := Workspace(dir, Options{})
	if err != nil {
		t.Fatalf("Workspace failed: %v", err)
	}
	second, err := Workspace(dir, Options{})
	if err != nil {
		t.Fatalf("Workspace failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("classification not stable: %v vs %v", first, second)
	}
}

func TestWorkspaceUnreadable(t *testing.T) {
	_, err := Workspace(filepath.Join(t.TempDir(), "missing"), Options{})
	if err == nil {
		t.Fatal("expected error for missing workspace")
	}
	var pathErr *PathError
	if !asPathError(err, &pathErr) {
		t.Fatalf("expected PathError, got %T", err)
	}
}

func asPathError(err error, target **PathError) bool {
	pe, ok := err.(*PathError)
	if ok {
		*target = pe
	}
	return ok
}

func TestHasCustomContainerfile(t *testing.T) {
	dir := t.TempDir()
	if HasCustomContainerfile(dir) {
		t.Error("empty dir should have no custom containerfile")
	}
	touch(t, dir, CustomContainerfile)
	if !HasCustomContainerfile(dir) {
		t.Error("custom containerfile not detected")
	}
}
