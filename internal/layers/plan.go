package layers

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cyrinux/jail-ai/internal/agent"
	"github.com/cyrinux/jail-ai/internal/classify"
)

// DefaultRegistry prefixes every image reference the planner produces.
const DefaultRegistry = "localhost"

// PlanError reports an invalid tag set. Planning errors are fatal.
type PlanError struct {
	Tags   []string
	Reason string
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("invalid layer stack %v: %s", e.Tags, e.Reason)
}

// Layer is one step of a planned stack.
type Layer struct {
	// Name is the ecosystem tag; Recipe the recipe it builds from.
	// They coincide for everything except the terminal alias layer,
	// whose Recipe is empty.
	Name   string
	Recipe string
	Ref    string
}

// Plan is the ordered layer stack for one workspace + agent.
type Plan struct {
	Workspace string
	Agent     agent.Agent // empty when no agent is selected
	// Tags is the ecosystem tag set in canonical identity order,
	// including any injected nodejs tag.
	Tags     []string
	StackTag string
	// Shared holds base and language layers in build order.
	Shared []Layer
	// Custom is the workspace-local layer, nil when absent.
	Custom *Layer
	// Terminal is the image the jail runs. An empty Recipe means the
	// terminal reference is a tag alias of the last built layer.
	Terminal Layer
}

// Input carries everything planning needs. CustomRecipe holds the
// workspace recipe bytes when the custom tag is present.
type Input struct {
	Workspace    string
	Tags         []string
	Agent        agent.Agent
	Isolated     bool
	CustomRecipe []byte
	Registry     string
}

// PlanStack maps an ecosystem tag set and an optional agent to the
// ordered layer stack and the deterministic terminal reference.
func PlanStack(in Input) (*Plan, error) {
	registry := in.Registry
	if registry == "" {
		registry = DefaultRegistry
	}

	seenBase := 0
	hasCustom := false
	hasNix := false
	var langs []string
	for _, tag := range in.Tags {
		switch {
		case tag == classify.TagBase:
			seenBase++
		case tag == classify.TagCustom:
			hasCustom = true
		case tag == classify.TagNix:
			hasNix = true
		case classify.IsAgentTag(tag):
			return nil, &PlanError{Tags: in.Tags, Reason: "agent tags are supplied separately, not classified"}
		default:
			if _, ok := Recipe(tag); !ok {
				return nil, &PlanError{Tags: in.Tags, Reason: fmt.Sprintf("unknown ecosystem tag %q", tag)}
			}
			langs = append(langs, tag)
		}
	}
	if seenBase != 1 {
		return nil, &PlanError{Tags: in.Tags, Reason: "base must be present exactly once"}
	}
	if hasNix && len(langs) > 0 {
		return nil, &PlanError{Tags: in.Tags, Reason: "nix is mutually exclusive with language tags"}
	}
	if hasCustom && len(in.CustomRecipe) == 0 {
		return nil, &PlanError{Tags: in.Tags, Reason: "custom tag without a workspace recipe"}
	}
	if in.Agent != "" {
		if _, ok := Recipe(in.Agent.LayerName()); !ok {
			return nil, &PlanError{Tags: in.Tags, Reason: fmt.Sprintf("unknown agent %q", in.Agent)}
		}
	}

	sort.Strings(langs)
	langs = dedupe(langs)

	// Agents need a Node toolchain; inject nodejs unless the stack is
	// nix-managed (the flake owns the toolchain there).
	if in.Agent != "" && in.Agent.RequiresNode() && !hasNix && !contains(langs, classify.TagNodeJS) {
		langs = append(langs, classify.TagNodeJS)
		sort.Strings(langs)
	}

	// Identity order: base, languages lexicographic (nix takes the
	// language position when present).
	identity := []string{classify.TagBase}
	if hasNix {
		identity = append(identity, classify.TagNix)
	} else {
		identity = append(identity, langs...)
	}

	stackTag := strings.Join(identity, "-")
	if hasCustom {
		stackTag += "-custom-" + ShortDigest(in.CustomRecipe)
	}
	if in.Isolated {
		stackTag = WorkspaceID(in.Workspace)
	}

	// Build order: nodejs goes last among languages so it sits
	// immediately before the agent layer.
	buildLangs := identity[1:]
	if in.Agent != "" {
		buildLangs = moveToEnd(buildLangs, classify.TagNodeJS)
	}

	plan := &Plan{
		Workspace: in.Workspace,
		Agent:     in.Agent,
		Tags:      identity,
		StackTag:  stackTag,
	}
	if hasCustom {
		plan.Tags = append(plan.Tags, classify.TagCustom)
	}

	plan.Shared = append(plan.Shared, Layer{
		Name:   classify.TagBase,
		Recipe: classify.TagBase,
		Ref:    sharedRef(registry, classify.TagBase),
	})
	for _, lang := range buildLangs {
		plan.Shared = append(plan.Shared, Layer{
			Name:   lang,
			Recipe: lang,
			Ref:    sharedRef(registry, lang),
		})
	}

	if hasCustom {
		plan.Custom = &Layer{
			Name:   classify.TagCustom,
			Recipe: classify.TagCustom,
			Ref:    fmt.Sprintf("%s/jail-ai-custom:%s", registry, stackTag),
		}
	}

	if in.Agent != "" {
		layerName := in.Agent.LayerName()
		plan.Terminal = Layer{
			Name:   layerName,
			Recipe: layerName,
			Ref:    fmt.Sprintf("%s/jail-ai-%s:%s", registry, layerName, stackTag),
		}
		plan.Tags = append(plan.Tags, layerName)
	} else {
		// No agent: the terminal reference aliases the top of the
		// stack under the deterministic tag.
		top := identity[len(identity)-1]
		plan.Terminal = Layer{
			Name: top,
			Ref:  fmt.Sprintf("%s/jail-ai-%s:%s", registry, top, stackTag),
		}
	}

	return plan, nil
}

// TerminalRef answers what image reference the planner would assign
// today, without building anything. The drift detector compares this
// against a container's recorded image.
func TerminalRef(in Input) (string, error) {
	plan, err := PlanStack(in)
	if err != nil {
		return "", err
	}
	return plan.Terminal.Ref, nil
}

func sharedRef(registry, recipe string) string {
	return fmt.Sprintf("%s/jail-ai-%s:latest", registry, recipe)
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || sorted[i-1] != s {
			out = append(out, s)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func moveToEnd(list []string, s string) []string {
	out := make([]string, 0, len(list))
	found := false
	for _, v := range list {
		if v == s {
			found = true
			continue
		}
		out = append(out, v)
	}
	if found {
		out = append(out, s)
	}
	return out
}
