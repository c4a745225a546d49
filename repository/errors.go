package repository

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a repository failure so callers can route messages.
type Kind int

const (
	// KindNetwork is a transport failure or timeout. Retryable by the user.
	KindNetwork Kind = iota + 1
	// KindServer is a 5xx or otherwise unexpected response. Retryable.
	KindServer
	// KindValidation is a 4xx carrying a message about the input.
	KindValidation
	// KindNotFound means the record no longer exists server-side.
	KindNotFound
	// KindAuth is a 401/403; the caller should re-authenticate.
	KindAuth
	// KindBusy is raised locally when a mutation on the same record is
	// already in flight.
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAuth:
		return "auth"
	case KindBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Error is the single error type returned across the repository boundary.
type Error struct {
	Kind Kind
	// Op is the repository operation, e.g. "create".
	Op string
	// ID is the targeted record, when there is one.
	ID string
	// Status is the HTTP status code, 0 for transport and local failures.
	Status int
	// Message is a user-facing message, empty when the failure carried none.
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s %s (status %d): %s", e.Op, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether re-submitting unchanged input may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindServer
}

// NewBusyError reports a duplicate in-flight mutation on id.
func NewBusyError(op, id string) error {
	return &Error{
		Kind:    KindBusy,
		Op:      op,
		ID:      id,
		Message: "Another change to this report is still in progress",
	}
}

// KindOf returns the kind of err, or 0 when err is not a repository error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsNotFound reports whether err is a KindNotFound error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsAuth reports whether err is a KindAuth error.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

// IsBusy reports whether err is a KindBusy error.
func IsBusy(err error) bool { return KindOf(err) == KindBusy }

// IsRetryable reports whether err is a network or server failure.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}

// UserMessage returns the structured message err carries, or fallback.
func UserMessage(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}

// classifyStatus maps a non-2xx status to an error kind.
func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusRequestTimeout:
		return KindNetwork
	case status == http.StatusTooManyRequests:
		return KindServer
	case status >= 400 && status < 500:
		return KindValidation
	default:
		return KindServer
	}
}
