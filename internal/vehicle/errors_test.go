package vehicle

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestNormalizeActorError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"connection closed", errors.New("hub connection closed"), ErrTransport},
		{"eof", errors.New("unexpected EOF"), ErrTransport},
		{"invalid mode", errors.New("Invalid mode: LOITERX"), ErrRejected},
		{"denied", errors.New("arming denied: pre-arm check"), ErrRejected},
		{"not connected", errors.New("drone not connected"), ErrUnavailable},
		{"not ready", errors.New("GPS not ready"), ErrUnavailable},
		{"unknown", errors.New("something odd"), ErrInternal},
		{"deadline", context.DeadlineExceeded, ErrTimeout},
		{"canceled", context.Canceled, ErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeActorError(tt.err, nil)
			if !errors.Is(got, tt.want) {
				t.Errorf("NormalizeActorError(%v) = %v, want %v", tt.err, got, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("NormalizeActorError(%v) lost the original error", tt.err)
			}
		})
	}
}

func TestNormalizeActorErrorKeepsCodedErrors(t *testing.T) {
	coded := fmt.Errorf("%w: empty address", ErrRejected)
	if got := NormalizeActorError(coded, nil); got != coded {
		t.Errorf("NormalizeActorError() = %v, want unchanged %v", got, coded)
	}
	if NormalizeActorError(nil, nil) != nil {
		t.Error("NormalizeActorError(nil) should be nil")
	}
}

func TestCommandError(t *testing.T) {
	err := &CommandError{Command: CmdGoTo, Err: NormalizeActorError(errors.New("connection lost"), nil)}

	if !errors.Is(err, ErrTransport) {
		t.Errorf("errors.Is(%v, ErrTransport) = false", err)
	}
	if got := err.Error(); got != "command goTo failed: TRANSPORT (actor: connection lost)" {
		t.Errorf("Error() = %q", got)
	}
}

func TestParseTransportKind(t *testing.T) {
	for _, in := range []string{"udp", "UDP", " usb "} {
		if _, err := ParseTransportKind(in); err != nil {
			t.Errorf("ParseTransportKind(%q) failed: %v", in, err)
		}
	}
	if _, err := ParseTransportKind("tcp"); !errors.Is(err, ErrRejected) {
		t.Errorf("ParseTransportKind(tcp) error = %v, want REJECTED", err)
	}
}
