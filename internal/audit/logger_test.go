package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flight-control/fcc/internal/flight"
	"github.com/flight-control/fcc/internal/mission"
	"github.com/flight-control/fcc/internal/vehicle"
)

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	defer func() { _ = f.Close() }()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line %q is not an entry: %v", scanner.Text(), err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	logger, err := NewLogger(path, "flight-1")
	if err != nil {
		t.Fatalf("NewLogger() failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	if logger.GetFilePath() != path {
		t.Errorf("GetFilePath() = %s, want %s", logger.GetFilePath(), path)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("audit log file was not created")
	}
}

func TestNewLoggerErrors(t *testing.T) {
	if _, err := NewLogger("", "flight-1"); err == nil {
		t.Error("NewLogger() with empty path should fail")
	}
	if _, err := NewLogger(filepath.Join(t.TempDir(), "missing", "audit.jsonl"), "flight-1"); err == nil {
		t.Error("NewLogger() in a missing directory should fail")
	}
}

func TestLoggerRecordsFlight(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := NewLogger(path, "flight-1", WithSubject("pilot"), WithActor("arducopter:1"))
	if err != nil {
		t.Fatalf("NewLogger() failed: %v", err)
	}

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	logger.PhaseChanged(flight.Transition{From: flight.Idle, To: flight.Arming, Reason: "mode GUIDED", At: at})
	logger.CommandIssued(flight.CommandRecord{Command: vehicle.CmdClimbTo, Args: []interface{}{30.0}, Attempt: 2, Latency: 15 * time.Millisecond, At: at})
	logger.CommandIssued(flight.CommandRecord{
		Command: vehicle.CmdTakeoff,
		Attempt: 1,
		Err:     &vehicle.CommandError{Command: vehicle.CmdTakeoff, Err: vehicle.ErrUnavailable},
		At:      at,
	})
	logger.FlightEnded(flight.FailedStatus(&vehicle.CommandError{Command: vehicle.CmdTakeoff, Err: vehicle.ErrUnavailable}))
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	entries := readEntries(t, path)
	if len(entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(entries))
	}
	for _, e := range entries {
		if e.FlightID != "flight-1" || e.Subject != "pilot" || e.Actor != "arducopter:1" {
			t.Errorf("entry identity = %s/%s/%s", e.FlightID, e.Subject, e.Actor)
		}
	}

	if e := entries[0]; e.Action != ActionPhase || e.Params["to"] != "arming" || !e.Timestamp.Equal(at) {
		t.Errorf("phase entry = %+v", e)
	}
	if e := entries[1]; e.Action != ActionCommand || e.Params["command"] != "climbTo" || e.Params["attempt"] != 2.0 || e.Code != "SUCCESS" {
		t.Errorf("command entry = %+v", e)
	}
	if e := entries[2]; e.Outcome != "ERROR" || e.Code != "UNAVAILABLE" {
		t.Errorf("failed command entry = %+v, want ERROR/UNAVAILABLE", e)
	}
	if e := entries[3]; e.Action != ActionEnd || e.Outcome != "failed" || e.Code != "UNAVAILABLE" {
		t.Errorf("end entry = %+v", e)
	}
}

func TestLoggerAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	logger, err := NewLogger(path, "flight-1")
	if err != nil {
		t.Fatalf("NewLogger() failed: %v", err)
	}
	_ = logger.Close()
	_ = logger.Close()

	logger.FlightEnded(flight.CompletedStatus())
	if entries := readEntries(t, path); len(entries) != 0 {
		t.Errorf("entries after Close() = %d, want 0", len(entries))
	}
}

func TestRotate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	logger, err := NewLogger(path, "flight-1")
	if err != nil {
		t.Fatalf("NewLogger() failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.FlightEnded(flight.CompletedStatus())
	if err := logger.Rotate(); err != nil {
		t.Fatalf("Rotate() failed: %v", err)
	}
	logger.FlightEnded(flight.CompletedStatus())

	files, _ := filepath.Glob(filepath.Join(dir, "audit-*.jsonl"))
	if len(files) != 1 {
		t.Errorf("rotated backups = %v, want 1", files)
	}

	if err := NewWriterLogger(nopWriteCloser{}, "x").Rotate(); err == nil {
		t.Error("Rotate() on a writer logger should fail")
	}
}

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }

func TestCodeFromError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "SUCCESS"},
		{&vehicle.CommandError{Command: "goTo", Err: vehicle.ErrTransport}, "TRANSPORT"},
		{fmt.Errorf("x: %w", vehicle.ErrRejected), "REJECTED"},
		{vehicle.ErrTimeout, "TIMEOUT"},
		{fmt.Errorf("%w: radius", mission.ErrInvalidParameter), "INVALID_MISSION_PARAMETER"},
		{fmt.Errorf("%w during climbing", flight.ErrUnexpectedDisarm), "UNEXPECTED_DISARM"},
		{flight.ErrFlightTimeout, "FLIGHT_TIMEOUT"},
		{flight.ErrCancelled, "CANCELLED"},
		{flight.ErrTelemetryClosed, "TELEMETRY_CLOSED"},
		{errors.New("boom"), "ERROR"},
	}
	for _, tt := range tests {
		if got := CodeFromError(tt.err); got != tt.want {
			t.Errorf("CodeFromError(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
