package hub

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frame types.
const (
	FrameCall   = "call"
	FrameResult = "result"
	FrameError  = "error"
	FrameEvent  = "event"
)

// Error codes carried in error frames.
const (
	CodeUnknownActor  = "UNKNOWN_ACTOR"
	CodeUnknownModule = "UNKNOWN_MODULE"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeBadFrame      = "BAD_FRAME"
	CodeActor         = "ACTOR_ERROR"
)

// Frame is the single message shape on every hub transport.
type Frame struct {
	Type   string            `json:"type"`
	ID     uint64            `json:"id,omitempty"`
	Actor  string            `json:"actor,omitempty"`
	Module string            `json:"module,omitempty"`
	Method string            `json:"method,omitempty"`
	Params []json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage   `json:"result,omitempty"`
	Code   string            `json:"code,omitempty"`
	Error  string            `json:"error,omitempty"`
	Event  string            `json:"event,omitempty"`
	Data   json.RawMessage   `json:"data,omitempty"`
}

var (
	// ErrClosed is returned once the hub connection is gone.
	ErrClosed = errors.New("hub connection closed")
	// ErrUnknownActor is returned when the hub hosts no such actor.
	ErrUnknownActor = errors.New("unknown actor")
	// ErrUnauthorized is returned when the hub refuses the caller.
	ErrUnauthorized = errors.New("unauthorized")
)

// RemoteError is an error reported by the hub or an actor.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is maps hub codes onto the package sentinels.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrUnknownActor:
		return e.Code == CodeUnknownActor
	case ErrUnauthorized:
		return e.Code == CodeUnauthorized
	}
	return false
}

// ErrorFrame builds the error reply to call.
func ErrorFrame(call *Frame, code string, err error) *Frame {
	return &Frame{Type: FrameError, ID: call.ID, Actor: call.Actor, Module: call.Module, Method: call.Method, Code: code, Error: err.Error()}
}

// ResultFrame builds the success reply to call.
func ResultFrame(call *Frame, result interface{}) (*Frame, error) {
	f := &Frame{Type: FrameResult, ID: call.ID, Actor: call.Actor, Module: call.Module, Method: call.Method}
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}
		f.Result = data
	}
	return f, nil
}

// EventFrame builds an event from actor/module.
func EventFrame(actor, module, event string, data interface{}) (*Frame, error) {
	f := &Frame{Type: FrameEvent, Actor: actor, Module: module, Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		f.Data = raw
	}
	return f, nil
}
