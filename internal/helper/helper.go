// Package helper implements the privileged side of the egress filter.
// It reads a single request document from standard input, validates it
// before any privileged syscall, loads and attaches the kernel program,
// drops every capability, and exits. It opens no sockets and keeps no
// state across invocations.
package helper

import (
	"fmt"
	"io"
	"log"

	"github.com/cyrinux/jail-ai/pkg/helperproto"
)

// Run executes the full helper flow and returns the process exit code.
// Failures after the request is parsed print a single structured
// "category=..." marker to stderr; a request that cannot be read or
// parsed exits 1 with a log line only.
func Run(stdin io.Reader, stderr io.Writer) int {
	logger := log.New(stderr, "[helper] ", log.LstdFlags|log.Lmsgprefix)

	req, err := helperproto.ReadRequest(stdin)
	if err != nil {
		logger.Printf("malformed request: %v", err)
		return 1
	}

	logf := func(format string, args ...any) {
		if req.Verbose {
			logger.Printf(format, args...)
		}
	}

	// Validation strictly precedes privilege: nothing below runs on a
	// request that fails the contract.
	if cerr := ValidateRequest(req); cerr != nil {
		return fail(stderr, logger, cerr)
	}

	if cerr := CheckPrivilege(); cerr != nil {
		return fail(stderr, logger, cerr)
	}

	if cerr := LoadAndAttach(req, logf); cerr != nil {
		return fail(stderr, logger, cerr)
	}

	if err := DropCapabilities(); err != nil {
		cerr := &CategoryError{Category: helperproto.CategoryInsufficientCaps, Err: err}
		return fail(stderr, logger, cerr)
	}

	logf("done, capabilities dropped")
	return helperproto.ExitOK
}

func fail(stderr io.Writer, logger *log.Logger, cerr *CategoryError) int {
	logger.Printf("%v", cerr.Err)
	fmt.Fprintln(stderr, helperproto.Marker(cerr.Category))
	return helperproto.ExitCode(cerr.Category)
}
