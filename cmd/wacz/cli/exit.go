package cli

import "fmt"

// ExitError carries a process exit code for a command that has already
// reported its outcome. main exits with Code without printing anything.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) ExitCode() int {
	return e.Code
}
