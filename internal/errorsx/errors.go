// Package errorsx defines the kind-carrying error taxonomy shared by every
// core package. HTTP adapters (internal/httpapi, internal/auditorapi) are
// the only place that translate a Kind into a status code; core packages
// never import net/http status constants.
package errorsx

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy of the orchestration core.
type Kind string

const (
	KindMissingField         Kind = "missing_field"
	KindNotFound             Kind = "not_found"
	KindUnreachableAgent     Kind = "unreachable_agent"
	KindBadManifest          Kind = "bad_manifest"
	KindUnsupportedGoal      Kind = "unsupported_goal"
	KindNoExecutableSteps    Kind = "no_executable_steps"
	KindPolicyDiscoveryError Kind = "policy_discovery_error"
	KindLLMError             Kind = "llm_error"
	KindPersistenceError     Kind = "persistence_error"
)

// Error is a structured, wrappable error carrying an Op (the failing
// operation, e.g. "registry.Register"), a Kind from the taxonomy above, an
// optional ID of the entity involved, a human message, and the underlying
// cause.
type Error struct {
	Op      string
	Kind    Kind
	ID      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil && e.ID != "":
		return fmt.Sprintf("%s [%s]: %s: %v", e.Op, e.ID, e.Kind, e.Err)
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a kind-carrying error.
func New(op string, kind Kind, message string) *Error {
	return &Error{Op: op, Kind: kind, Message: message}
}

// Wrap constructs a kind-carrying error around an existing cause.
func Wrap(op string, kind Kind, id string, err error) *Error {
	return &Error{Op: op, Kind: kind, ID: id, Err: err}
}

// KindOf extracts the Kind of err, walking the Unwrap chain. The zero Kind
// is returned when err carries no *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err's Kind (or any wrapped *Error's Kind) equals kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
