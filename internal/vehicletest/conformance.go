package vehicletest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/flight-control/fcc/internal/geo"
	"github.com/flight-control/fcc/internal/mission"
	"github.com/flight-control/fcc/internal/vehicle"
)

// Options describes the port under test.
type Options struct {
	// Name labels the report.
	Name string
	// Kind and Address are used for Connect.
	Kind    vehicle.TransportKind
	Address string
	// Timeout bounds each command.
	Timeout time.Duration
}

// Result is the outcome of one conformance check.
type Result struct {
	Name     string
	Passed   bool
	Error    string
	Duration time.Duration
}

// Report collects the results of a run.
type Report struct {
	PortName string
	Results  []Result
	Passed   int
	Failed   int
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
	if res.Passed {
		r.Passed++
	} else {
		r.Failed++
	}
}

// RunConformance checks newPort against the shared Port contract. Each
// check gets a fresh port.
func RunConformance(t *testing.T, newPort func() vehicle.Port, opts Options) {
	t.Helper()
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Kind == "" {
		opts.Kind = vehicle.TransportUDP
	}
	if opts.Address == "" {
		opts.Address = "localhost:14551"
	}

	report := &Report{PortName: opts.Name}
	for _, check := range []struct {
		name string
		run  func(ctx context.Context, p vehicle.Port, opts Options) error
	}{
		{"Connect_Valid", checkConnect},
		{"Connect_InvalidKind", checkConnectInvalidKind},
		{"Command_BeforeConnect", checkBeforeConnect},
		{"Command_Sequence", checkSequence},
		{"Mission_SaveAndStart", checkMission},
		{"Events_Toggle", checkEvents},
		{"Command_Resend", checkResend},
		{"Context_Cancelled", checkCancelled},
	} {
		ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout*4)
		start := time.Now()
		err := check.run(ctx, newPort(), opts)
		cancel()

		res := Result{Name: check.name, Passed: err == nil, Duration: time.Since(start)}
		if err != nil {
			res.Error = err.Error()
		}
		report.add(res)
	}

	for _, res := range report.Results {
		if res.Passed {
			t.Logf("PASS %s (%v)", res.Name, res.Duration)
		} else {
			t.Errorf("FAIL %s: %s", res.Name, res.Error)
		}
	}
	t.Logf("%s conformance: %d/%d passed", report.PortName, report.Passed, len(report.Results))
}

func checkConnect(ctx context.Context, p vehicle.Port, opts Options) error {
	if err := p.Connect(ctx, opts.Kind, opts.Address); err != nil {
		return fmt.Errorf("Connect failed: %w", err)
	}
	return p.Disconnect(ctx)
}

func checkConnectInvalidKind(ctx context.Context, p vehicle.Port, opts Options) error {
	err := p.Connect(ctx, vehicle.TransportKind("carrier-pigeon"), opts.Address)
	if err == nil {
		return errors.New("Connect with unknown kind succeeded")
	}
	if !errors.Is(err, vehicle.ErrRejected) {
		return fmt.Errorf("Connect error = %v, want REJECTED", err)
	}
	return expectCommand(err, vehicle.CmdConnect)
}

func checkBeforeConnect(ctx context.Context, p vehicle.Port, _ Options) error {
	err := p.Arm(ctx, true)
	if err == nil {
		return errors.New("Arm before Connect succeeded")
	}
	if !errors.Is(err, vehicle.ErrUnavailable) {
		return fmt.Errorf("Arm error = %v, want UNAVAILABLE", err)
	}
	return expectCommand(err, vehicle.CmdArm)
}

func checkSequence(ctx context.Context, p vehicle.Port, opts Options) error {
	steps := []struct {
		name string
		do   func() error
	}{
		{"Connect", func() error { return p.Connect(ctx, opts.Kind, opts.Address) }},
		{"SetMode", func() error { return p.SetMode(ctx, "GUIDED") }},
		{"Arm", func() error { return p.Arm(ctx, true) }},
		{"Takeoff", func() error { return p.Takeoff(ctx, 10) }},
		{"ClimbTo", func() error { return p.ClimbTo(ctx, 30) }},
		{"GoTo", func() error { return p.GoTo(ctx, 0.0003, 0) }},
		{"StartGimbalControl", func() error { return p.StartGimbalControl(ctx) }},
		{"SetGimbalOrientation", func() error { return p.SetGimbalOrientation(ctx, -45, 0, 0) }},
		{"StopGimbalControl", func() error { return p.StopGimbalControl(ctx) }},
		{"StartVideoRecording", func() error { return p.StartVideoRecording(ctx) }},
		{"StopVideoRecording", func() error { return p.StopVideoRecording(ctx) }},
		{"Land", func() error { return p.Land(ctx) }},
		{"Disconnect", func() error { return p.Disconnect(ctx) }},
	}
	for _, step := range steps {
		if err := step.do(); err != nil {
			return fmt.Errorf("%s failed: %w", step.name, err)
		}
	}
	return nil
}

func checkMission(ctx context.Context, p vehicle.Port, opts Options) error {
	plan, err := mission.BuildLoopMission(geo.Coordinate{}, 10, 30, geo.Offset{X: 0.0003}, 10, 2)
	if err != nil {
		return err
	}
	if err := p.Connect(ctx, opts.Kind, opts.Address); err != nil {
		return fmt.Errorf("Connect failed: %w", err)
	}
	if err := p.SaveMission(ctx, plan); err != nil {
		return fmt.Errorf("SaveMission failed: %w", err)
	}
	if err := p.StartMission(ctx, true, true); err != nil {
		return fmt.Errorf("StartMission failed: %w", err)
	}
	return p.Disconnect(ctx)
}

func checkEvents(ctx context.Context, p vehicle.Port, _ Options) error {
	if err := p.DisableEvents(ctx, nil); err != nil {
		return fmt.Errorf("DisableEvents(nil) failed: %w", err)
	}
	if err := p.EnableEvents(ctx, []string{"mode", "position"}); err != nil {
		return fmt.Errorf("EnableEvents failed: %w", err)
	}
	if err := p.DisableEvents(ctx, []string{"position"}); err != nil {
		return fmt.Errorf("DisableEvents failed: %w", err)
	}
	return nil
}

// checkResend verifies the retry-safe commands can be issued repeatedly.
func checkResend(ctx context.Context, p vehicle.Port, opts Options) error {
	if err := p.Connect(ctx, opts.Kind, opts.Address); err != nil {
		return fmt.Errorf("Connect failed: %w", err)
	}
	for i := 0; i < 3; i++ {
		if err := p.ClimbTo(ctx, 30); err != nil {
			return fmt.Errorf("ClimbTo #%d failed: %w", i+1, err)
		}
		if err := p.GoTo(ctx, 1, 1); err != nil {
			return fmt.Errorf("GoTo #%d failed: %w", i+1, err)
		}
	}
	return p.Disconnect(ctx)
}

func checkCancelled(ctx context.Context, p vehicle.Port, opts Options) error {
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	err := p.Connect(cctx, opts.Kind, opts.Address)
	if err == nil {
		return errors.New("Connect with cancelled context succeeded")
	}
	if !errors.Is(err, context.Canceled) {
		return fmt.Errorf("Connect error = %v, want context.Canceled", err)
	}
	return nil
}

func expectCommand(err error, command string) error {
	var cmdErr *vehicle.CommandError
	if !errors.As(err, &cmdErr) {
		return fmt.Errorf("error %v is not a CommandError", err)
	}
	if cmdErr.Command != command {
		return fmt.Errorf("CommandError.Command = %q, want %q", cmdErr.Command, command)
	}
	return nil
}
