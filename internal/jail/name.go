package jail

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cyrinux/jail-ai/internal/agent"
	"github.com/cyrinux/jail-ai/internal/layers"
)

// namePattern is the restricted character class for jail names. The
// name doubles as the container and volume name, so it must be safe for
// the runtime and for filesystem paths.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// maxNameLen bounds user-supplied jail names to the runtime's limits.
// DeriveName does not apply it.
const maxNameLen = 128

// ValidateName checks a user-supplied jail name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("jail name cannot be empty")
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("jail name too long (%d > %d)", len(name), maxNameLen)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("jail name %q contains invalid characters", name)
	}
	return nil
}

// DeriveName computes the deterministic jail name for a workspace and
// optional agent: jail__<sanitized-basename>__<short-id>[__<agent>].
// It is a pure function of its inputs.
func DeriveName(workspace string, ag agent.Agent) string {
	base := sanitizeNamePart(filepath.Base(workspace))
	name := "jail__" + base + "__" + layers.WorkspaceID(workspace)
	if ag != "" {
		name += "__" + ag.Name()
	}
	return name
}

// sanitizeNamePart maps arbitrary path components into the restricted
// name charset.
func sanitizeNamePart(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-.")
	if out == "" {
		out = "workspace"
	}
	return out
}
