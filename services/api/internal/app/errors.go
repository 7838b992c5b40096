package app

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"docassist/services/api/internal/relayclient"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrForbidden          = errors.New("forbidden")
	ErrEmailTaken         = errors.New("email already taken")
)

// Field messages shared by the app and the request validators.
const (
	MsgEmailTaken      = "The email has already been taken."
	MsgUserIDInvalid   = "The selected user id is invalid."
	MsgUserIDMalformed = "The user id field must be an integer."
)

// ValidationError carries per-field messages for a 422 response.
type ValidationError struct {
	Fields map[string][]string
	Err    error
}

// NewValidationError returns an empty error ready for Add.
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: map[string][]string{}}
}

// Add appends msg to field.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

// Has reports whether field already has a message.
func (e *ValidationError) Has(field string) bool {
	return len(e.Fields[field]) > 0
}

// Empty reports whether no field failed.
func (e *ValidationError) Empty() bool {
	return len(e.Fields) == 0
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

func (e *ValidationError) Unwrap() error { return e.Err }

func fieldError(field, msg string, cause error) *ValidationError {
	return &ValidationError{Fields: map[string][]string{field: {msg}}, Err: cause}
}

// RelayFailure classifies a failed relay call.
type RelayFailure int

const (
	// RelayHTTP is a non-2xx reply; the relay status is propagated.
	RelayHTTP RelayFailure = iota + 1
	// RelayConnection is a transport failure, timeouts included.
	RelayConnection
	// RelayUnknown is anything else, such as an unreadable 2xx body.
	RelayUnknown
)

func (k RelayFailure) String() string {
	switch k {
	case RelayHTTP:
		return "http"
	case RelayConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// RelayError wraps a relay failure with the operation that produced it.
type RelayError struct {
	Op     string
	Kind   RelayFailure
	Status int
	Body   string
	Err    error
}

func (e *RelayError) Error() string {
	if e.Kind == RelayHTTP {
		return fmt.Sprintf("relay %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("relay %s: %v", e.Op, e.Err)
}

func (e *RelayError) Unwrap() error { return e.Err }

func classifyRelayError(op string, err error) *RelayError {
	var apiErr *relayclient.APIError
	if errors.As(err, &apiErr) {
		return &RelayError{Op: op, Kind: RelayHTTP, Status: apiErr.Status, Body: apiErr.Body, Err: err}
	}
	var connErr *relayclient.ConnectionError
	if errors.As(err, &connErr) {
		return &RelayError{Op: op, Kind: RelayConnection, Err: err}
	}
	return &RelayError{Op: op, Kind: RelayUnknown, Err: err}
}
