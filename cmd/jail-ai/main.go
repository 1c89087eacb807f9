// Command jail-ai wraps a rootless container runtime to provide
// per-workspace, per-agent sandboxes for command-line AI coding
// assistants.
package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"golang.org/x/term"

	"github.com/cyrinux/jail-ai/internal/classify"
	"github.com/cyrinux/jail-ai/internal/drift"
	"github.com/cyrinux/jail-ai/internal/jail"
	"github.com/cyrinux/jail-ai/internal/layers"
	"github.com/cyrinux/jail-ai/internal/runtime"
)

// Exit codes per error kind. Egress filter failures never reach here:
// the filter fails open.
const (
	exitOK       = 0
	exitGeneric  = 1
	exitClassify = 2
	exitPlan     = 3
	exitBuild    = 4
	exitState    = 5
)

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "jail-ai: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var pathErr *classify.PathError
	var planErr *layers.PlanError
	var buildErr *layers.BuildError
	var stateErr *jail.StateError
	switch {
	case errors.As(err, &pathErr):
		return exitClassify
	case errors.As(err, &planErr):
		return exitPlan
	case errors.As(err, &buildErr):
		return exitBuild
	case errors.As(err, &stateErr):
		return exitState
	}
	return exitGeneric
}

// newLogger routes debug output to stderr; quiet unless verbose.
func newLogger(verbose bool) *log.Logger {
	if !verbose {
		return log.New(io.Discard, "", 0)
	}
	return log.New(os.Stderr, "[jail-ai] ", log.LstdFlags|log.Lmsgprefix)
}

// newSession connects to the runtime and assembles the session. The
// prompt is interactive on a terminal and defaults to "no" otherwise.
func newSession(verbose bool) (*jail.Session, error) {
	logger := newLogger(verbose)
	rt, err := runtime.NewDocker(logger)
	if err != nil {
		return nil, err
	}

	var prompt drift.Prompter = drift.Deny{}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		prompt = drift.Terminal{In: os.Stdin, Out: os.Stderr}
	}
	return jail.NewSession(rt, logger, prompt, verbose), nil
}
