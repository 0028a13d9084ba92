package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/flight-control/fcc/internal/mission"
	"github.com/flight-control/fcc/internal/vehicle"
)

// Call is one recorded command.
type Call struct {
	Command string
	Args    []interface{}
}

// Port implements vehicle.Port. Commands other than connect fail with
// vehicle.ErrUnavailable until Connect succeeds, as they do on a real actor.
type Port struct {
	mu sync.Mutex

	calls     []Call
	failures  map[string]error
	connected bool
	mode      string
	armed     bool
	plan      mission.Plan
	enabled   []string

	// OnCall runs after a command is recorded and accepted, outside the
	// lock. Tests use it to answer commands with telemetry.
	OnCall func(Call)
}

// NewPort returns a disconnected fake.
func NewPort() *Port {
	return &Port{failures: make(map[string]error)}
}

// SetError makes every later call of command fail with err. A nil err
// clears the failure.
func (p *Port) SetError(command string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, command)
		return
	}
	p.failures[command] = err
}

// Calls returns a copy of the recorded commands.
func (p *Port) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Count returns how many times command was called, failed calls included.
func (p *Port) Count(command string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c.Command == command {
			n++
		}
	}
	return n
}

// Commands lists the recorded command names in order.
func (p *Port) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, len(p.calls))
	for i, c := range p.calls {
		names[i] = c.Command
	}
	return names
}

// Last returns the most recent call of command.
func (p *Port) Last(command string) (Call, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.calls) - 1; i >= 0; i-- {
		if p.calls[i].Command == command {
			return p.calls[i], true
		}
	}
	return Call{}, false
}

// Plan returns the last saved mission.
func (p *Port) Plan() mission.Plan {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plan
}

// State reports the simulated link, mode and arming state.
func (p *Port) State() (connected bool, mode string, armed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected, p.mode, p.armed
}

// EnabledEvents returns the last enableEvents argument.
func (p *Port) EnabledEvents() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.enabled...)
}

func (p *Port) Connect(ctx context.Context, kind vehicle.TransportKind, address string) error {
	return p.do(ctx, vehicle.CmdConnect, []interface{}{kind, address}, func() error {
		if _, err := vehicle.ParseTransportKind(string(kind)); err != nil {
			return err
		}
		if address == "" {
			return fmt.Errorf("%w: empty address", vehicle.ErrRejected)
		}
		p.connected = true
		return nil
	})
}

func (p *Port) Disconnect(ctx context.Context) error {
	return p.do(ctx, vehicle.CmdDisconnect, nil, func() error {
		p.connected = false
		p.armed = false
		return nil
	})
}

func (p *Port) SetMode(ctx context.Context, mode string) error {
	return p.connectedDo(ctx, vehicle.CmdSetMode, []interface{}{mode}, func() { p.mode = mode })
}

func (p *Port) Arm(ctx context.Context, arm bool) error {
	return p.connectedDo(ctx, vehicle.CmdArm, []interface{}{arm}, func() { p.armed = arm })
}

func (p *Port) Takeoff(ctx context.Context, altitude float64) error {
	return p.connectedDo(ctx, vehicle.CmdTakeoff, []interface{}{altitude}, nil)
}

func (p *Port) ClimbTo(ctx context.Context, altitude float64) error {
	return p.connectedDo(ctx, vehicle.CmdClimbTo, []interface{}{altitude}, nil)
}

func (p *Port) GoTo(ctx context.Context, x, y float64) error {
	return p.connectedDo(ctx, vehicle.CmdGoTo, []interface{}{x, y}, nil)
}

func (p *Port) Land(ctx context.Context) error {
	return p.connectedDo(ctx, vehicle.CmdLand, nil, nil)
}

func (p *Port) StartGimbalControl(ctx context.Context) error {
	return p.connectedDo(ctx, vehicle.CmdStartGimbalControl, nil, nil)
}

func (p *Port) StopGimbalControl(ctx context.Context) error {
	return p.connectedDo(ctx, vehicle.CmdStopGimbalControl, nil, nil)
}

func (p *Port) SetGimbalOrientation(ctx context.Context, pitch, yaw, roll float64) error {
	return p.connectedDo(ctx, vehicle.CmdSetGimbalOrientation, []interface{}{pitch, yaw, roll}, nil)
}

func (p *Port) StartVideoRecording(ctx context.Context) error {
	return p.connectedDo(ctx, vehicle.CmdStartVideoRecording, nil, nil)
}

func (p *Port) StopVideoRecording(ctx context.Context) error {
	return p.connectedDo(ctx, vehicle.CmdStopVideoRecording, nil, nil)
}

func (p *Port) SaveMission(ctx context.Context, plan mission.Plan) error {
	return p.connectedDo(ctx, vehicle.CmdSaveMission, []interface{}{plan}, func() { p.plan = plan })
}

func (p *Port) StartMission(ctx context.Context, arm, auto bool) error {
	return p.connectedDo(ctx, vehicle.CmdStartMission, []interface{}{arm, auto}, func() {
		if arm {
			p.armed = true
		}
		if auto {
			p.mode = "AUTO"
		}
	})
}

// EnableEvents and DisableEvents are accepted without a vehicle link; the
// actor owns the subscription, not the flight controller.
func (p *Port) EnableEvents(ctx context.Context, names []string) error {
	return p.do(ctx, vehicle.CmdEnableEvents, []interface{}{names}, func() error {
		p.enabled = append([]string(nil), names...)
		return nil
	})
}

func (p *Port) DisableEvents(ctx context.Context, names []string) error {
	return p.do(ctx, vehicle.CmdDisableEvents, []interface{}{names}, func() error {
		if names == nil {
			p.enabled = nil
		}
		return nil
	})
}

func (p *Port) connectedDo(ctx context.Context, command string, args []interface{}, apply func()) error {
	return p.do(ctx, command, args, func() error {
		if !p.connected {
			return fmt.Errorf("%w: vehicle not connected", vehicle.ErrUnavailable)
		}
		if apply != nil {
			apply()
		}
		return nil
	})
}

// do records the call, then applies it unless the context is done or a
// failure is simulated.
func (p *Port) do(ctx context.Context, command string, args []interface{}, apply func() error) error {
	call := Call{Command: command, Args: args}

	p.mu.Lock()
	p.calls = append(p.calls, call)
	err := ctx.Err()
	if err == nil {
		err = p.failures[command]
	}
	if err == nil {
		err = apply()
	}
	hook := p.OnCall
	p.mu.Unlock()

	if err != nil {
		return &vehicle.CommandError{Command: command, Err: vehicle.NormalizeActorError(err, nil)}
	}
	if hook != nil {
		hook(call)
	}
	return nil
}

var _ vehicle.Port = (*Port)(nil)
