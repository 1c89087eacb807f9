package jail

import (
	"os"
	"sort"
	"strings"
)

// envAllowlist contains the host variables inherited into every jail.
// Everything else comes from the caller's explicit additions.
var envAllowlist = []string{
	"TERM",
	"TZ",
}

// ComposeEnv builds the container environment: whitelisted host
// variables, the detected timezone, caller additions, and the
// signing-agent socket variable when its mount is enabled. Caller
// additions win over inherited values.
func ComposeEnv(cfg *Config) []string {
	env := make(map[string]string)

	for _, key := range envAllowlist {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			env[key] = v
		}
	}

	if _, ok := env["TZ"]; !ok {
		if tz := hostTimezone(); tz != "" {
			env["TZ"] = tz
		}
	}

	if cfg.SSHAgent && os.Getenv("SSH_AUTH_SOCK") != "" {
		env["SSH_AUTH_SOCK"] = sshAgentTarget
	}

	for k, v := range cfg.Env {
		env[k] = v
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// hostTimezone determines the host's timezone without shelling out:
// /etc/timezone where present, otherwise the /etc/localtime symlink.
func hostTimezone() string {
	if data, err := os.ReadFile("/etc/timezone"); err == nil {
		if tz := strings.TrimSpace(string(data)); tz != "" {
			return tz
		}
	}
	if link, err := os.Readlink("/etc/localtime"); err == nil {
		if i := strings.Index(link, "zoneinfo/"); i >= 0 {
			if tz := link[i+len("zoneinfo/"):]; tz != "" {
				return tz
			}
		}
	}
	return ""
}
