// Command templatectl inspects and exercises template governance manifests:
// validation, health checks, data migrations, deprecation scans, version
// arithmetic and tenant website resolution.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess          = 0
	ExitConfigError      = 1
	ExitManifestError    = 2
	ExitValidationFailed = 3
	ExitMigrationFailed  = 4
	ExitUsageError       = 64
)

// CommandError carries the exit code a failed command maps to.
type CommandError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *CommandError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		var cErr *CommandError
		if errors.As(err, &cErr) {
			return cErr.ExitCode
		}
		return ExitUsageError
	}
	return ExitSuccess
}
