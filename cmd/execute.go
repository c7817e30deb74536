package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"firestige.xyz/rxprobe/internal/attach"
	"firestige.xyz/rxprobe/internal/core"
)

// Process exit statuses.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitUsage    = 2
	ExitNotFound = 4
)

// ExitError carries the process exit status for err.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Execute runs the root command with the process arguments and returns the
// exit status. This is called by main.main().
func Execute() int {
	return run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout)
	cmd.SetArgs(args)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	code := exitCode(err)
	switch code {
	case ExitOK:
	case ExitUsage:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fmt.Fprint(stderr, cmd.UsageString())
	case ExitNotFound:
		fmt.Fprintln(stderr, err)
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return code
}

// exitCode classifies err: configuration mistakes exit before capture with a
// usage status, an unknown interface with its own status, anything else 1.
func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var nf *attach.NotFoundError
	if errors.As(err, &nf) {
		return ExitNotFound
	}
	if errors.Is(err, core.ErrNoInterfaces) || errors.Is(err, core.ErrConfigInvalid) {
		return ExitUsage
	}
	return ExitFailure
}
