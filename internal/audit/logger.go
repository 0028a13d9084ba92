package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/flight-control/fcc/internal/flight"
	"github.com/flight-control/fcc/internal/mission"
	"github.com/flight-control/fcc/internal/vehicle"
)

// Entry is a single audit record.
type Entry struct {
	Timestamp time.Time              `json:"ts"`
	FlightID  string                 `json:"flightId"`
	Subject   string                 `json:"subject,omitempty"`
	Actor     string                 `json:"actor,omitempty"`
	Action    string                 `json:"action"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Outcome   string                 `json:"outcome"`
	Code      string                 `json:"code"`
}

// Actions written to the trail.
const (
	ActionPhase   = "phase"
	ActionCommand = "command"
	ActionEnd     = "flight_end"
)

// Logger appends one entry per transition, command and flight end. It is
// a flight.Observer.
type Logger struct {
	mu       sync.Mutex
	filePath string
	out      io.WriteCloser
	flightID string
	subject  string
	actor    string
	now      func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithSubject records who flew.
func WithSubject(subject string) Option {
	return func(l *Logger) { l.subject = subject }
}

// WithActor records which vehicle actor was flown.
func WithActor(actor string) Option {
	return func(l *Logger) { l.actor = actor }
}

// NewLogger opens a rotating audit file at path for flightID.
func NewLogger(path, flightID string, opts ...Option) (*Logger, error) {
	if path == "" {
		return nil, errors.New("audit file path is required")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	_ = f.Close()

	out := &lumberjack.Logger{Filename: path, MaxSize: 50, MaxBackups: 10}
	return newLogger(out, path, flightID, opts...), nil
}

// NewWriterLogger writes entries to w.
func NewWriterLogger(w io.WriteCloser, flightID string, opts ...Option) *Logger {
	return newLogger(w, "", flightID, opts...)
}

func newLogger(w io.WriteCloser, path, flightID string, opts ...Option) *Logger {
	l := &Logger{filePath: path, out: w, flightID: flightID, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// PhaseChanged records a transition.
func (l *Logger) PhaseChanged(t flight.Transition) {
	l.writeEntry(Entry{
		Timestamp: t.At.UTC(),
		Action:    ActionPhase,
		Params: map[string]interface{}{
			"from":   t.From.String(),
			"to":     t.To.String(),
			"reason": t.Reason,
		},
		Outcome: t.To.String(),
		Code:    "SUCCESS",
	})
}

// CommandIssued records one command attempt.
func (l *Logger) CommandIssued(c flight.CommandRecord) {
	outcome := "SUCCESS"
	if c.Err != nil {
		outcome = "ERROR"
	}
	params := map[string]interface{}{
		"command":   c.Command,
		"attempt":   c.Attempt,
		"latencyMs": c.Latency.Milliseconds(),
	}
	if len(c.Args) > 0 {
		params["args"] = c.Args
	}
	if c.Err != nil {
		params["error"] = c.Err.Error()
	}
	l.writeEntry(Entry{
		Timestamp: c.At.UTC(),
		Action:    ActionCommand,
		Params:    params,
		Outcome:   outcome,
		Code:      CodeFromError(c.Err),
	})
}

// FlightEnded records the terminal status.
func (l *Logger) FlightEnded(s flight.Status) {
	params := map[string]interface{}{
		"phase":  s.Phase.String(),
		"reason": s.Reason,
	}
	if s.TeardownErr != nil {
		params["teardownError"] = s.TeardownErr.Error()
	}
	l.writeEntry(Entry{
		Timestamp: l.now().UTC(),
		Action:    ActionEnd,
		Params:    params,
		Outcome:   s.Outcome.String(),
		Code:      CodeFromError(s.Err),
	})
}

// CodeFromError maps an error to its audit code.
func CodeFromError(err error) string {
	switch {
	case err == nil:
		return "SUCCESS"
	case errors.Is(err, vehicle.ErrTransport):
		return "TRANSPORT"
	case errors.Is(err, vehicle.ErrRejected):
		return "REJECTED"
	case errors.Is(err, vehicle.ErrUnavailable):
		return "UNAVAILABLE"
	case errors.Is(err, vehicle.ErrTimeout):
		return "TIMEOUT"
	case errors.Is(err, mission.ErrInvalidParameter):
		return "INVALID_MISSION_PARAMETER"
	case errors.Is(err, flight.ErrUnexpectedDisarm):
		return "UNEXPECTED_DISARM"
	case errors.Is(err, flight.ErrFlightTimeout):
		return "FLIGHT_TIMEOUT"
	case errors.Is(err, flight.ErrCancelled):
		return "CANCELLED"
	case errors.Is(err, flight.ErrTelemetryClosed):
		return "TELEMETRY_CLOSED"
	default:
		return "ERROR"
	}
}

// writeEntry writes an audit entry as one JSON line.
func (l *Logger) writeEntry(entry Entry) {
	entry.FlightID = l.flightID
	entry.Subject = l.subject
	entry.Actor = l.actor

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal audit entry: %v\n", err)
		return
	}
	if _, err := l.out.Write(append(data, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write audit entry: %v\n", err)
	}
}

// Rotate starts a new audit file, keeping the old one as a backup.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.out.(*lumberjack.Logger)
	if !ok {
		return errors.New("audit logger is not file backed")
	}
	return r.Rotate()
}

// Close closes the audit file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out == nil {
		return nil
	}
	err := l.out.Close()
	l.out = nil
	return err
}

// GetFilePath returns the path to the audit log file.
func (l *Logger) GetFilePath() string {
	return l.filePath
}

var _ flight.Observer = (*Logger)(nil)
