package pipeline

import (
	"fmt"
	"net/http"
)

// State is a step of the submission state machine.
type State int

// Submission states in the order they are reached.
const (
	Received State = iota
	Validated
	Extracted
	Enriched
	Persisted
	Notified
	Complete
	Failed
)

var stateNames = [...]string{
	Received:  "received",
	Validated: "validated",
	Extracted: "extracted",
	Enriched:  "enriched",
	Persisted: "persisted",
	Notified:  "notified",
	Complete:  "complete",
	Failed:    "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Kind classifies a failure for the client.
type Kind int

// Failure kinds.
const (
	// KindInternal covers anything not explicitly classified.
	KindInternal Kind = iota
	// KindUnauthorized is a token whose signature does not verify.
	KindUnauthorized
	// KindBadRequest is any other token or input problem, or a notifier failure.
	KindBadRequest
	// KindConflict is a snapshot replaced by a concurrent writer.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindBadRequest:
		return "bad_request"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// HTTPStatus maps the kind onto a response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnauthorized:
		return http.StatusForbidden
	case KindBadRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error records where and why a submission failed.
type Error struct {
	// State is the last state reached before the failure.
	State State
	Kind  Kind
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s after %s: %v", e.Kind, e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
