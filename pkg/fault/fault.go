// Package fault defines the error taxonomy shared by all engine operations.
//
// Three categories are distinguishable by callers:
//
//   - NotFoundError: an id does not resolve to a stored record.
//   - InvalidStateError: the record exists but the requested transition or
//     operation is illegal in its current state.
//   - MissingParamsError: required parameters are absent; carries every
//     missing key, not just the first.
//
// Everything else is wrapped with fmt.Errorf("...: %w", err) at the call site.
package fault

import (
	"fmt"
	"sort"
	"strings"
)

// NotFoundError reports that no record of the given kind has the given id.
type NotFoundError struct {
	Kind string // "node", "edge", "task", "plan", "run", "change set"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// NotFound constructs a NotFoundError.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// InvalidStateError reports an operation attempted against a record in the
// wrong state, for example executing a plan that was never approved.
type InvalidStateError struct {
	Kind    string
	ID      string
	State   string
	Message string
}

func (e *InvalidStateError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s in state %q: %s", e.Kind, e.ID, e.State, e.Message)
	}
	return fmt.Sprintf("%s %s in state %q: operation not allowed", e.Kind, e.ID, e.State)
}

// InvalidState constructs an InvalidStateError.
func InvalidState(kind, id, state, message string) error {
	return &InvalidStateError{Kind: kind, ID: id, State: state, Message: message}
}

// MissingParamsError reports every required parameter that was absent.
type MissingParamsError struct {
	Params []string
}

func (e *MissingParamsError) Error() string {
	params := append([]string(nil), e.Params...)
	sort.Strings(params)
	return fmt.Sprintf("missing required parameters: %s", strings.Join(params, ", "))
}

// MissingParams constructs a MissingParamsError, or returns nil when no
// parameters are missing.
func MissingParams(params ...string) error {
	if len(params) == 0 {
		return nil
	}
	return &MissingParamsError{Params: params}
}
