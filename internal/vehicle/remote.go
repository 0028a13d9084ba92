package vehicle

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/flight-control/fcc/internal/mission"
)

// Caller invokes a method on a remote actor module and returns its raw
// result.
type Caller interface {
	Call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error)
}

// DefaultCommandTimeout bounds a single command acknowledgement.
const DefaultCommandTimeout = 5 * time.Second

// Remote is a Port that forwards every command to an actor module.
type Remote struct {
	caller  Caller
	timeout time.Duration
	logger  *slog.Logger
}

// RemoteOption configures a Remote.
type RemoteOption func(*Remote)

// WithCommandTimeout bounds each command. Zero disables the bound.
func WithCommandTimeout(d time.Duration) RemoteOption {
	return func(r *Remote) {
		r.timeout = d
	}
}

// WithLogger sets the logger used for command tracing.
func WithLogger(logger *slog.Logger) RemoteOption {
	return func(r *Remote) {
		r.logger = logger.With(slog.String("component", "vehicle"))
	}
}

// NewRemote returns a Port backed by caller.
func NewRemote(caller Caller, opts ...RemoteOption) *Remote {
	r := &Remote{
		caller:  caller,
		timeout: DefaultCommandTimeout,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Remote) Connect(ctx context.Context, kind TransportKind, address string) error {
	k, err := ParseTransportKind(string(kind))
	if err != nil {
		return &CommandError{Command: CmdConnect, Err: err}
	}
	return r.call(ctx, CmdConnect, strings.ToUpper(string(k)), address)
}

func (r *Remote) Disconnect(ctx context.Context) error {
	return r.call(ctx, CmdDisconnect)
}

func (r *Remote) SetMode(ctx context.Context, mode string) error {
	return r.call(ctx, CmdSetMode, mode)
}

func (r *Remote) Arm(ctx context.Context, arm bool) error {
	return r.call(ctx, CmdArm, arm)
}

func (r *Remote) Takeoff(ctx context.Context, altitude float64) error {
	return r.call(ctx, CmdTakeoff, altitude)
}

func (r *Remote) ClimbTo(ctx context.Context, altitude float64) error {
	return r.call(ctx, CmdClimbTo, altitude)
}

func (r *Remote) GoTo(ctx context.Context, x, y float64) error {
	return r.call(ctx, CmdGoTo, x, y)
}

func (r *Remote) Land(ctx context.Context) error {
	return r.call(ctx, CmdLand)
}

func (r *Remote) StartGimbalControl(ctx context.Context) error {
	return r.call(ctx, CmdStartGimbalControl)
}

func (r *Remote) StopGimbalControl(ctx context.Context) error {
	return r.call(ctx, CmdStopGimbalControl)
}

func (r *Remote) SetGimbalOrientation(ctx context.Context, pitch, yaw, roll float64) error {
	return r.call(ctx, CmdSetGimbalOrientation, pitch, yaw, roll)
}

func (r *Remote) StartVideoRecording(ctx context.Context) error {
	return r.call(ctx, CmdStartVideoRecording)
}

func (r *Remote) StopVideoRecording(ctx context.Context) error {
	return r.call(ctx, CmdStopVideoRecording)
}

func (r *Remote) SaveMission(ctx context.Context, plan mission.Plan) error {
	return r.call(ctx, CmdSaveMission, plan.Encode())
}

func (r *Remote) StartMission(ctx context.Context, arm, auto bool) error {
	return r.call(ctx, CmdStartMission, arm, auto)
}

func (r *Remote) EnableEvents(ctx context.Context, names []string) error {
	return r.call(ctx, CmdEnableEvents, eventNames(names))
}

func (r *Remote) DisableEvents(ctx context.Context, names []string) error {
	return r.call(ctx, CmdDisableEvents, eventNames(names))
}

// call sends one command and normalizes its failure.
func (r *Remote) call(ctx context.Context, method string, params ...interface{}) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := r.caller.Call(ctx, method, params...)
	latency := time.Since(start)
	if err != nil {
		r.logger.Debug("command failed", "method", method, "latency", latency, "error", err)
		return &CommandError{Command: method, Err: NormalizeActorError(err, result)}
	}

	r.logger.Debug("command acknowledged", "method", method, "latency", latency)
	return nil
}

// eventNames keeps nil as the "all events" marker on the wire.
func eventNames(names []string) interface{} {
	if names == nil {
		return nil
	}
	return names
}

var _ Port = (*Remote)(nil)
