// Package agent is the registry of supported AI coding agents.
//
// Each agent contributes a terminal image layer, a command to run inside
// the jail, and a normalized name used in jail and image naming.
package agent

import "strings"

// Agent identifies a supported coding agent.
type Agent string

const (
	Claude  Agent = "claude"
	Copilot Agent = "copilot"
	Cursor  Agent = "cursor"
	Gemini  Agent = "gemini"
	Codex   Agent = "codex"
	Jules   Agent = "jules"
)

// All lists the supported agents in display order.
func All() []Agent {
	return []Agent{Claude, Copilot, Cursor, Gemini, Codex, Jules}
}

// Parse resolves a user-supplied agent name. Returns "" and false for
// unknown names.
func Parse(s string) (Agent, bool) {
	switch strings.ToLower(s) {
	case "claude":
		return Claude, true
	case "copilot":
		return Copilot, true
	case "cursor", "cursor-agent":
		return Cursor, true
	case "gemini":
		return Gemini, true
	case "codex":
		return Codex, true
	case "jules":
		return Jules, true
	}
	return "", false
}

// Name returns the normalized agent name.
func (a Agent) Name() string { return string(a) }

// LayerName returns the ecosystem tag / recipe name of the agent layer.
func (a Agent) LayerName() string { return "agent-" + string(a) }

// Command returns the argv executed inside the jail when the agent is
// launched.
func (a Agent) Command() []string {
	switch a {
	case Cursor:
		return []string{"cursor-agent"}
	default:
		return []string{string(a)}
	}
}

// RequiresNode reports whether the agent's CLI needs a Node toolchain.
// All currently supported agents ship as npm packages, so the planner
// injects the nodejs layer whenever an agent is present.
func (a Agent) RequiresNode() bool { return true }
