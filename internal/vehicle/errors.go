package vehicle

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Normalized command errors.
var (
	ErrTransport   = errors.New("TRANSPORT")
	ErrRejected    = errors.New("REJECTED")
	ErrUnavailable = errors.New("UNAVAILABLE")
	ErrTimeout     = errors.New("TIMEOUT")
	ErrInternal    = errors.New("INTERNAL")
)

// CommandError reports which command failed and why.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ActorErrorMap lists message tokens per normalized code.
type ActorErrorMap struct {
	Transport   []string
	Rejected    []string
	Unavailable []string
}

// ActorErrorMappings is checked in order Transport, Rejected, Unavailable.
// A message matching no token normalizes to ErrInternal.
var ActorErrorMappings = ActorErrorMap{
	Transport: []string{
		"CONNECTION",
		"CLOSED",
		"BROKEN PIPE",
		"RESET BY PEER",
		"EOF",
		"TRANSPORT",
	},
	Rejected: []string{
		"INVALID",
		"REJECTED",
		"DENIED",
		"NOT ALLOWED",
		"UNSUPPORTED",
		"UNKNOWN METHOD",
		"BAD PARAMETER",
	},
	Unavailable: []string{
		"NOT CONNECTED",
		"NOT_CONNECTED",
		"NOT READY",
		"UNAVAILABLE",
		"OFFLINE",
		"NOT ARMED",
	},
}

// ActorError keeps the actor's original error next to its normalized code.
type ActorError struct {
	Code     error
	Original error
	Details  interface{}
}

func (e *ActorError) Error() string {
	return fmt.Sprintf("%v (actor: %v)", e.Code, e.Original)
}

func (e *ActorError) Unwrap() []error {
	return []error{e.Code, e.Original}
}

// NormalizeActorError maps err to one of the normalized codes. Errors that
// already carry a code are returned unchanged.
func NormalizeActorError(err error, details interface{}) error {
	if err == nil {
		return nil
	}
	for _, code := range []error{ErrTransport, ErrRejected, ErrUnavailable, ErrTimeout, ErrInternal} {
		if errors.Is(err, code) {
			return err
		}
	}

	var code error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = ErrTimeout
	case errors.Is(err, context.Canceled):
		code = ErrTransport
	default:
		code = codeForMessage(err.Error())
	}
	return &ActorError{Code: code, Original: err, Details: details}
}

func codeForMessage(msg string) error {
	upper := strings.ToUpper(msg)
	for _, token := range ActorErrorMappings.Transport {
		if strings.Contains(upper, token) {
			return ErrTransport
		}
	}
	for _, token := range ActorErrorMappings.Rejected {
		if strings.Contains(upper, token) {
			return ErrRejected
		}
	}
	for _, token := range ActorErrorMappings.Unavailable {
		if strings.Contains(upper, token) {
			return ErrUnavailable
		}
	}
	return ErrInternal
}
