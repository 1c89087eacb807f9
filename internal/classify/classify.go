// Package classify inspects a workspace directory and produces the
// ordered set of ecosystem tags that drives layer planning.
//
// Classification is deliberately shallow: only the workspace root is
// examined, and the rule table is closed. The agent tag is never a
// classification output; the caller supplies it.
package classify

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Ecosystem tags. Order within a stack is significant: base first,
// language tags in stable lexicographic order, custom next-to-last,
// agent last.
const (
	TagBase       = "base"
	TagRust       = "rust"
	TagGo         = "go"
	TagNodeJS     = "nodejs"
	TagPython     = "python"
	TagJava       = "java"
	TagPHP        = "php"
	TagCpp        = "cpp"
	TagCSharp     = "csharp"
	TagNix        = "nix"
	TagKubernetes = "kubernetes"
	TagTerraform  = "terraform"
	TagAWS        = "aws"
	TagGCP        = "gcp"
	TagCustom     = "custom"
)

// CustomContainerfile is the workspace-local recipe that yields the
// custom tag.
const CustomContainerfile = "jail-ai.Containerfile"

// PathError reports a workspace that could not be read. Classification
// errors are fatal to the current operation.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("classify workspace %s: %v", e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// Options tunes classification policy.
type Options struct {
	// NoNix suppresses the nix-precedence rule: flake.nix is ignored
	// and language tags are kept.
	NoNix bool
}

// rule maps root-level signal files to a tag. Glob entries use
// filepath.Match syntax.
type rule struct {
	tag   string
	files []string
	globs []string
}

var rules = []rule{
	{tag: TagRust, files: []string{"Cargo.toml"}},
	{tag: TagGo, files: []string{"go.mod", "go.sum"}},
	{tag: TagNodeJS, files: []string{"package.json"}},
	{tag: TagPython, files: []string{"pyproject.toml", "requirements.txt", "setup.py", "Pipfile", "poetry.lock"}},
	{tag: TagJava, files: []string{"pom.xml", "build.gradle", "build.gradle.kts"}},
	{tag: TagPHP, files: []string{"composer.json"}},
	{tag: TagCSharp, globs: []string{"*.csproj", "*.sln"}},
	{tag: TagTerraform, files: []string{".terraform.lock.hcl"}, globs: []string{"*.tf"}},
	{tag: TagKubernetes, files: []string{"kustomization.yaml", "Chart.yaml", "skaffold.yaml"}},
	{tag: TagAWS, files: []string{"samconfig.toml", ".aws-sam"}},
	{tag: TagGCP, files: []string{"app.yaml", "cloudbuild.yaml"}},
}

// IsAgentTag reports whether tag names an agent layer.
func IsAgentTag(tag string) bool { return strings.HasPrefix(tag, "agent-") }

// Workspace classifies the workspace root and returns an ordered,
// deduplicated tag list. base is always present and always first.
// Absence of any signal file yields exactly {base}.
func Workspace(path string, opts Options) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, &PathError{Path: path, Err: err}
	}

	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
	}

	present := func(r rule) bool {
		for _, f := range r.files {
			if names[f] {
				return true
			}
		}
		for _, g := range r.globs {
			for n := range names {
				if ok, _ := filepath.Match(g, n); ok {
					return true
				}
			}
		}
		return false
	}

	var langs []string
	for _, r := range rules {
		if present(r) {
			langs = append(langs, r.tag)
		}
	}
	if detectCpp(path, names) {
		langs = append(langs, TagCpp)
	}
	sort.Strings(langs)

	hasNix := names["flake.nix"] && !opts.NoNix
	hasCustom := names[CustomContainerfile]

	tags := []string{TagBase}
	if hasNix {
		// The flake is the source of truth for the toolchain; language
		// layers are elided.
		tags = append(tags, TagNix)
	} else {
		tags = append(tags, langs...)
	}
	if hasCustom {
		tags = append(tags, TagCustom)
	}
	return tags, nil
}

// HasCustomContainerfile reports whether the workspace carries its own
// recipe. I/O errors are treated as absence; the build path will
// surface them with context.
func HasCustomContainerfile(path string) bool {
	fi, err := os.Stat(filepath.Join(path, CustomContainerfile))
	return err == nil && fi.Mode().IsRegular()
}

// detectCpp applies the cpp rule: CMakeLists.txt alone is a signal; a
// Makefile counts only alongside C/C++ sources in the root.
func detectCpp(path string, names map[string]bool) bool {
	if names["CMakeLists.txt"] {
		return true
	}
	if !names["Makefile"] {
		return false
	}
	for n := range names {
		switch filepath.Ext(n) {
		case ".c", ".cc", ".cpp", ".cxx", ".h", ".hpp":
			return true
		}
	}
	return false
}
