package types

import (
	"fmt"
	"strings"
)

// ConfigurationError reports an unsupported or conflicting option. It is
// always raised before any work begins.
type ConfigurationError struct {
	Option string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Option == "" {
		return "configuration: " + e.Reason
	}
	return fmt.Sprintf("configuration: %s: %s", e.Option, e.Reason)
}

// StructuralError reports a missing, extra or malformed container member.
type StructuralError struct {
	Path   string
	Reason string
}

func (e *StructuralError) Error() string {
	if e.Path == "" {
		return "structure: " + e.Reason
	}
	return fmt.Sprintf("structure: %s: %s", e.Path, e.Reason)
}

// HashMismatch describes one resource whose bytes do not match the
// recorded hash. Actual is empty when the member is missing.
type HashMismatch struct {
	Path     string `json:"path"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// IntegrityError reports hash or digest mismatches. Mismatches holds every
// offending resource, not only the first.
type IntegrityError struct {
	Reason     string
	Mismatches []HashMismatch
}

func (e *IntegrityError) Error() string {
	if len(e.Mismatches) == 0 {
		return "integrity: " + e.Reason
	}
	paths := make([]string, len(e.Mismatches))
	for i, m := range e.Mismatches {
		paths[i] = m.Path
	}
	return fmt.Sprintf("integrity: %s: %s", e.Reason, strings.Join(paths, ", "))
}

// TrustError reports a signature that is present but could not be
// verified, or verified negatively.
type TrustError struct {
	Reason string
	Err    error
}

func (e *TrustError) Error() string {
	if e.Err == nil {
		return "trust: " + e.Reason
	}
	return fmt.Sprintf("trust: %s: %v", e.Reason, e.Err)
}

func (e *TrustError) Unwrap() error {
	return e.Err
}

// StateError reports an operation invoked out of order, such as adding a
// resource to a finalized manifest.
type StateError struct {
	Op  string
	Err error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}
