package flight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/flight-control/fcc/internal/geo"
	"github.com/flight-control/fcc/internal/mission"
	"github.com/flight-control/fcc/internal/retry"
	"github.com/flight-control/fcc/internal/telemetry"
	"github.com/flight-control/fcc/internal/vehicle"
)

// Session is the hub session torn down after the vehicle.
type Session interface {
	Disconnect(ctx context.Context) error
}

// EventSource is the telemetry bus the controller listens on.
type EventSource interface {
	UnsubscribeAll()
	Resubscribe(ctx context.Context) error
}

// Controller is the phase state machine. All methods except the
// constructor must be called from one goroutine, normally through Run.
type Controller struct {
	cfg       Config
	port      vehicle.Port
	session   Session
	source    EventSource
	observers Observers
	logger    *slog.Logger
	retryOpts []retry.Option

	// closed when the hub session underneath the port is gone
	lost      <-chan struct{}
	lostCause func() error

	phase  Phase
	status Status

	retry   *retry.Handle
	retries []RetryRecord

	attempts map[string]int

	// observed vehicle state
	mode          string
	armed         bool
	altitude      float64
	haveAltitude  bool
	position      geo.Coordinate
	havePosition  bool
	reference     geo.Coordinate
	haveReference bool
	missionSaved  bool
	linkLost      bool

	goal    geo.Coordinate
	goalSet bool
	epsilon float64
	plan    mission.Plan

	waitingForFix bool
	tornDown      bool
	surveying     bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger.With(slog.String("component", "flight"))
	}
}

// WithObserver adds an observer of transitions and commands.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// WithRetryTicker replaces the timer source of retry handles.
func WithRetryTicker(newTicker func(time.Duration) retry.Ticker) Option {
	return func(c *Controller) {
		c.retryOpts = append(c.retryOpts, retry.WithTicker(newTicker))
	}
}

// WithSessionLoss fails the flight with a transport error once done is
// closed. cause, if set, explains the loss.
func WithSessionLoss(done <-chan struct{}, cause func() error) Option {
	return func(c *Controller) {
		c.lost = done
		c.lostCause = cause
	}
}

// NewController returns a controller in Idle.
func NewController(cfg Config, port vehicle.Port, session Session, source EventSource, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flight config: %w", err)
	}
	if port == nil {
		return nil, errors.New("vehicle port is required")
	}
	if source == nil {
		return nil, errors.New("event source is required")
	}

	c := &Controller{
		cfg:      cfg,
		port:     port,
		session:  session,
		source:   source,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		phase:    Idle,
		attempts: make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Kinds lists the telemetry the configured recipe reacts to.
func (c *Controller) Kinds() []telemetry.Kind {
	kinds := []telemetry.Kind{
		telemetry.KindMode,
		telemetry.KindArmedState,
		telemetry.KindPosition,
		telemetry.KindAltitude,
		telemetry.KindConnected,
		telemetry.KindDisconnected,
	}
	if c.cfg.Recipe.isMission() {
		kinds = append(kinds, telemetry.KindMissionSaved, telemetry.KindCommandReached)
	}
	return kinds
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase { return c.phase }

// Status returns the terminal status; it is zero until Terminated.
func (c *Controller) Status() Status { return c.status }

// Terminated reports whether the flight is over.
func (c *Controller) Terminated() bool { return c.phase == Terminated }

// Retries lists the retry handles that have stopped, oldest first.
func (c *Controller) Retries() []RetryRecord {
	return append([]RetryRecord(nil), c.retries...)
}

// Goal returns the transit goal once it is known.
func (c *Controller) Goal() (geo.Coordinate, bool) { return c.goal, c.goalSet }

// Plan returns the uploaded mission, if any.
func (c *Controller) Plan() mission.Plan { return c.plan }

// Run processes events and retry ticks until the flight terminates, then
// returns its status. Cancelling ctx aborts the flight with full teardown.
func (c *Controller) Run(ctx context.Context, events <-chan telemetry.Event) Status {
	for c.phase != Terminated {
		select {
		case <-ctx.Done():
			c.terminate(ctx, AbortedStatus(AbortCause(ctx)))
		case ev, ok := <-events:
			if !ok {
				c.terminate(ctx, AbortedStatus(ErrTelemetryClosed))
				continue
			}
			c.Handle(ctx, ev)
		case <-c.retry.C():
			c.Tick(ctx)
		case <-c.lost:
			c.lost = nil
			c.sessionLost(ctx)
		}
	}
	return c.status
}

// sessionLost fails the flight once no command or event can reach it.
func (c *Controller) sessionLost(ctx context.Context) {
	err := ErrSessionLost
	if c.lostCause != nil {
		if cause := c.lostCause(); cause != nil {
			err = fmt.Errorf("%w: %v", ErrSessionLost, cause)
		}
	}
	c.fail(ctx, fmt.Errorf("%w: %w", vehicle.ErrTransport, err))
}

// Handle applies one telemetry event and runs every transition it enables.
func (c *Controller) Handle(ctx context.Context, ev telemetry.Event) {
	if c.phase == Terminated {
		return
	}

	switch ev.Kind {
	case telemetry.KindPosition:
		c.position, c.havePosition = ev.Position, true
		if !c.haveReference && !ev.Position.IsOrigin() {
			c.reference, c.haveReference = ev.Position, true
			c.logger.Debug("reference position fixed", "position", ev.Position.String())
		}
	case telemetry.KindAltitude:
		c.altitude, c.haveAltitude = ev.Altitude, true
	case telemetry.KindMode:
		c.mode = ev.Mode
	case telemetry.KindArmedState:
		c.armed = ev.Armed
		if !ev.Armed {
			c.disarmed(ctx)
			return
		}
	case telemetry.KindMissionSaved:
		c.missionSaved = true
	case telemetry.KindCommandReached:
		c.commandReached(ev.Index)
		return
	case telemetry.KindDisconnected:
		c.linkLost = true
		c.logger.Warn("vehicle link lost", "phase", c.phase.String())
		return
	case telemetry.KindConnected:
		if c.linkLost {
			c.linkLost = false
			if err := c.source.Resubscribe(ctx); err != nil {
				c.fail(ctx, fmt.Errorf("resubscribe after reconnect: %w", err))
				return
			}
			c.logger.Info("vehicle link restored, events resubscribed")
		}
		return
	default:
		return
	}

	c.advance(ctx)
}

// Tick handles one resend tick of the live retry.
func (c *Controller) Tick(ctx context.Context) {
	if c.retry == nil || c.phase == Terminated {
		return
	}
	if err := c.retry.Fire(); err != nil {
		c.fail(ctx, err)
		return
	}
	if c.retry.State() != retry.Running {
		c.retireRetry()
	}
}

// Abort ends the flight without failure and tears the session down.
func (c *Controller) Abort(ctx context.Context, cause error) Status {
	c.terminate(ctx, AbortedStatus(cause))
	return c.status
}

// Fail ends the flight with err and tears the session down.
func (c *Controller) Fail(ctx context.Context, err error) Status {
	c.fail(ctx, err)
	return c.status
}

// advance runs transitions until no guard holds.
func (c *Controller) advance(ctx context.Context) {
	for c.phase != Terminated {
		if c.phase == Transiting && !c.goalSet {
			if !c.haveReference {
				return
			}
			if !c.startTransit(ctx) {
				return
			}
		}

		next, reason, ok := c.guard()
		if !ok {
			return
		}
		c.enter(ctx, next, reason)
	}
}

// guard evaluates the exit condition of the current phase.
func (c *Controller) guard() (Phase, string, bool) {
	switch c.phase {
	case Idle:
		if !strings.EqualFold(c.mode, c.cfg.TargetMode) {
			return 0, "", false
		}
		if !c.cfg.Recipe.isMission() {
			return Arming, "mode " + c.mode, true
		}
		if !c.havePosition {
			if !c.waitingForFix {
				c.waitingForFix = true
				c.logger.Info("mode reached, waiting for a position to plan the mission", "mode", c.mode)
			}
			return 0, "", false
		}
		return MissionUploading, "mode " + c.mode, true

	case Arming:
		if c.armed {
			return TakingOff, "armed", true
		}

	case TakingOff:
		if c.haveAltitude && c.tookOff() {
			return Climbing, "altitude " + meters(c.altitude), true
		}

	case Climbing:
		if c.climbed() {
			return Transiting, "altitude " + meters(c.altitude), true
		}

	case Transiting:
		if c.arrived() {
			return Landing, "goal distance " + humanize.FtoaWithDigits(c.goalDistance(), 7), true
		}

	case Landing:
		if c.haveAltitude && c.altitude < c.cfg.LandedAltitude {
			return Disarming, "altitude " + meters(c.altitude), true
		}

	case MissionUploading:
		if c.missionSaved {
			return MissionRunning, "mission saved", true
		}
	}
	return 0, "", false
}

// enter switches to next and runs its entry action.
func (c *Controller) enter(ctx context.Context, next Phase, reason string) {
	c.stopRetry()
	c.setPhase(next, reason)

	switch next {
	case Arming:
		c.do(ctx, vehicle.CmdArm, []interface{}{true}, func(ctx context.Context) error {
			return c.port.Arm(ctx, true)
		})

	case TakingOff:
		alt := c.cfg.TakeoffAltitude
		c.do(ctx, vehicle.CmdTakeoff, []interface{}{alt}, func(ctx context.Context) error {
			return c.port.Takeoff(ctx, alt)
		})

	case Climbing:
		alt := c.cfg.CruiseAltitude
		c.startRetry(ctx, vehicle.CmdClimbTo, []interface{}{alt}, func(ctx context.Context) error {
			return c.port.ClimbTo(ctx, alt)
		}, c.climbed)

	case Transiting:
		c.goalSet = false
		if !c.startSurvey(ctx) {
			return
		}
		if !c.haveReference {
			c.logger.Info("waiting for a position fix to set the transit goal")
		}

	case Landing:
		if !c.stopSurvey(ctx) {
			return
		}
		c.do(ctx, vehicle.CmdLand, nil, c.port.Land)

	case Disarming:
		c.logger.Info("landed, waiting for disarm")

	case MissionUploading:
		plan, err := c.buildPlan()
		if err != nil {
			c.fail(ctx, err)
			return
		}
		c.plan = plan
		c.missionSaved = false
		c.do(ctx, vehicle.CmdSaveMission, []interface{}{plan.Kinds()}, func(ctx context.Context) error {
			return c.port.SaveMission(ctx, plan)
		})

	case MissionRunning:
		c.do(ctx, vehicle.CmdStartMission, []interface{}{true, true}, func(ctx context.Context) error {
			return c.port.StartMission(ctx, true, true)
		})
	}
}

func (c *Controller) tookOff() bool {
	target := c.cfg.TakeoffAltitude
	return c.altitude >= c.cfg.TakeoffRatio*target || math.Abs(c.altitude-target) < c.cfg.TakeoffTolerance
}

func (c *Controller) climbed() bool {
	return c.haveAltitude && c.altitude >= c.cfg.ClimbRatio*c.cfg.CruiseAltitude
}

func (c *Controller) arrived() bool {
	return c.goalSet && c.havePosition && c.goalDistance() < c.epsilon
}

func (c *Controller) goalDistance() float64 {
	return geo.PlanarDistance(c.position, c.goal)
}

// startTransit fixes the goal relative to the reference position and
// starts resending goTo until the vehicle is within the arrival radius.
func (c *Controller) startTransit(ctx context.Context) bool {
	c.goal = mission.Goal(c.reference, c.cfg.TargetOffset)
	c.epsilon = c.cfg.ArrivalRadius()
	c.goalSet = true
	c.logger.Info("transit goal set",
		"reference", c.reference.String(),
		"goal", c.goal.String(),
		"arrival_radius", humanize.FtoaWithDigits(c.epsilon, 7))

	x, y := c.goal.X, c.goal.Y
	return c.startRetry(ctx, vehicle.CmdGoTo, []interface{}{x, y}, func(ctx context.Context) error {
		return c.port.GoTo(ctx, x, y)
	}, c.arrived)
}

// startSurvey takes the gimbal and starts recording when the survey is on.
func (c *Controller) startSurvey(ctx context.Context) bool {
	if !c.cfg.Survey.Enabled {
		return true
	}
	pitch, yaw := c.cfg.Survey.Pitch, c.cfg.Survey.Yaw
	ok := c.do(ctx, vehicle.CmdStartGimbalControl, nil, c.port.StartGimbalControl) &&
		c.do(ctx, vehicle.CmdSetGimbalOrientation, []interface{}{pitch, yaw, 0.0}, func(ctx context.Context) error {
			return c.port.SetGimbalOrientation(ctx, pitch, yaw, 0)
		}) &&
		c.do(ctx, vehicle.CmdStartVideoRecording, nil, c.port.StartVideoRecording)
	c.surveying = ok
	return ok
}

// stopSurvey ends the recording and releases the gimbal.
func (c *Controller) stopSurvey(ctx context.Context) bool {
	if !c.surveying {
		return true
	}
	c.surveying = false
	return c.do(ctx, vehicle.CmdStopVideoRecording, nil, c.port.StopVideoRecording) &&
		c.do(ctx, vehicle.CmdStopGimbalControl, nil, c.port.StopGimbalControl)
}

func (c *Controller) buildPlan() (mission.Plan, error) {
	ref := c.position
	switch c.cfg.Recipe {
	case RecipeLoopMission:
		return mission.BuildLoopMission(ref, c.cfg.TakeoffAltitude, c.cfg.CruiseAltitude, c.cfg.TargetOffset, c.cfg.CircleRadius, c.cfg.CircleTurns)
	default:
		return mission.BuildLinearMission(ref, c.cfg.TakeoffAltitude, c.cfg.CruiseAltitude, c.cfg.TargetOffset)
	}
}

func (c *Controller) commandReached(index int) {
	kind := "unknown"
	if item := c.plan.At(index); item != nil {
		kind = string(item.Kind())
	}
	c.logger.Info("mission item reached", "index", index, "item", kind, "of", c.plan.Len())
}

func (c *Controller) disarmed(ctx context.Context) {
	if c.phase.disarmExpected() {
		c.terminate(ctx, CompletedStatus())
		return
	}
	c.terminate(ctx, AbortedStatus(fmt.Errorf("%w during %s", ErrUnexpectedDisarm, c.phase)))
}

// startRetry issues a resendable command. It reports false when the first
// issue failed and the flight was terminated.
func (c *Controller) startRetry(ctx context.Context, command string, args []interface{}, call func(context.Context) error, isDone func() bool) bool {
	h, err := retry.Start(command, func() error {
		return c.issue(ctx, command, args, call)
	}, isDone, c.cfg.RetryInterval, c.retryOpts...)
	c.retry = h
	if err != nil {
		c.fail(ctx, err)
		return false
	}
	if h.State() != retry.Running {
		c.retireRetry()
	}
	return true
}

func (c *Controller) stopRetry() {
	if c.retry == nil {
		return
	}
	c.retry.Cancel()
	c.retireRetry()
}

func (c *Controller) retireRetry() {
	h := c.retry
	c.retry = nil
	rec := RetryRecord{Goal: h.Goal(), State: h.State().String(), Issues: h.Issues()}
	c.retries = append(c.retries, rec)
	c.logger.Debug("retry stopped", "goal", rec.Goal, "state", rec.State, "issues", rec.Issues)
}

// do issues a one-shot command and fails the flight if it is refused.
func (c *Controller) do(ctx context.Context, command string, args []interface{}, call func(context.Context) error) bool {
	if err := c.issue(ctx, command, args, call); err != nil {
		c.fail(ctx, err)
		return false
	}
	return true
}

// issue sends one command with the command timeout and reports it.
func (c *Controller) issue(ctx context.Context, command string, args []interface{}, call func(context.Context) error) error {
	c.attempts[command]++
	attempt := c.attempts[command]

	cctx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	defer cancel()

	start := time.Now()
	err := call(cctx)
	rec := CommandRecord{Command: command, Args: args, Attempt: attempt, Latency: time.Since(start), At: start}

	if err != nil {
		var cmdErr *vehicle.CommandError
		if !errors.As(err, &cmdErr) {
			err = &vehicle.CommandError{Command: command, Err: vehicle.NormalizeActorError(err, nil)}
		}
		rec.Err = err
		c.logger.Warn("command failed", "command", command, "attempt", attempt, "error", err)
	} else {
		c.logger.Info("command issued", "command", command, "args", args, "attempt", attempt, "latency", rec.Latency)
	}

	c.observers.CommandIssued(rec)
	return err
}

func (c *Controller) fail(ctx context.Context, err error) {
	c.terminate(ctx, FailedStatus(err))
}

// terminate is the single exit: it stops the live retry, enters
// Terminated and tears the vehicle and hub session down.
func (c *Controller) terminate(ctx context.Context, st Status) {
	if c.phase == Terminated {
		return
	}
	st.Phase = c.phase
	c.stopRetry()
	c.setPhase(Terminated, st.Outcome.String())

	st.TeardownErr = c.teardown(ctx)
	c.status = st

	if st.Outcome == Failed {
		c.logger.Error("flight failed", "phase", st.Phase.String(), "error", st.Err)
	} else {
		c.logger.Info("flight ended", "outcome", st.Outcome.String(), "phase", st.Phase.String(), "reason", st.Reason)
	}
	c.observers.FlightEnded(st)
}

func (c *Controller) teardown(ctx context.Context) error {
	if c.tornDown {
		return nil
	}
	c.tornDown = true

	c.source.UnsubscribeAll()

	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.CommandTimeout)
	defer cancel()

	var errs []error
	if c.surveying {
		c.surveying = false
		if err := c.issue(tctx, vehicle.CmdStopVideoRecording, nil, c.port.StopVideoRecording); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.issue(tctx, vehicle.CmdDisconnect, nil, c.port.Disconnect); err != nil {
		errs = append(errs, err)
	}
	if c.session != nil {
		if err := c.session.Disconnect(tctx); err != nil {
			errs = append(errs, fmt.Errorf("session disconnect: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		c.logger.Warn("teardown incomplete", "error", err)
		return err
	}
	return nil
}

func (c *Controller) setPhase(next Phase, reason string) {
	t := Transition{From: c.phase, To: next, Reason: reason, At: time.Now()}
	c.phase = next
	c.logger.Info("phase transition", "from", t.From.String(), "to", t.To.String(), "reason", reason)
	c.observers.PhaseChanged(t)
}

// AbortCause maps the end of ctx to an abort reason: a deadline is a flight
// timeout, a plain cancel is ErrCancelled, any other cause is kept.
func AbortCause(ctx context.Context) error {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, context.DeadlineExceeded):
		return ErrFlightTimeout
	case errors.Is(cause, context.Canceled):
		return ErrCancelled
	case cause == nil:
		return ErrCancelled
	default:
		return cause
	}
}

func meters(v float64) string {
	return humanize.FtoaWithDigits(v, 2) + "m"
}
