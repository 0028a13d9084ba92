package flight

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flight-control/fcc/internal/geo"
	"github.com/flight-control/fcc/internal/mission"
	"github.com/flight-control/fcc/internal/retry"
	"github.com/flight-control/fcc/internal/telemetry"
	"github.com/flight-control/fcc/internal/vehicle"
	"github.com/flight-control/fcc/internal/vehicle/fake"
)

// MockSession counts hub disconnects.
type MockSession struct {
	mu            sync.Mutex
	disconnects   int
	DisconnectErr error
}

func (m *MockSession) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
	return m.DisconnectErr
}

func (m *MockSession) Disconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnects
}

// MockEventSource counts listener teardown and resubscriptions.
type MockEventSource struct {
	unsubscribeAll int
	resubscribes   int
	ResubscribeErr error
}

func (m *MockEventSource) UnsubscribeAll() { m.unsubscribeAll++ }

func (m *MockEventSource) Resubscribe(ctx context.Context) error {
	m.resubscribes++
	return m.ResubscribeErr
}

// MockObserver records what the controller reports.
type MockObserver struct {
	mu          sync.Mutex
	transitions []Transition
	commands    []CommandRecord
	ended       []Status
}

func (m *MockObserver) PhaseChanged(t Transition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, t)
}

func (m *MockObserver) CommandIssued(c CommandRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, c)
}

func (m *MockObserver) FlightEnded(s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended = append(m.ended, s)
}

// stillTicker never ticks; tests drive resends with Tick.
type stillTicker struct{}

func (stillTicker) C() <-chan time.Time { return nil }
func (stillTicker) Stop()               {}

type harness struct {
	ctrl     *Controller
	port     *fake.Port
	session  *MockSession
	source   *MockEventSource
	observer *MockObserver
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		port:     fake.NewPort(),
		session:  &MockSession{},
		source:   &MockEventSource{},
		observer: &MockObserver{},
	}
	if err := h.port.Connect(context.Background(), vehicle.TransportUDP, "localhost:14551"); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}

	opts = append([]Option{
		WithObserver(h.observer),
		WithRetryTicker(func(time.Duration) retry.Ticker { return stillTicker{} }),
	}, opts...)
	ctrl, err := NewController(cfg, h.port, h.session, h.source, opts...)
	if err != nil {
		t.Fatalf("NewController() failed: %v", err)
	}
	h.ctrl = ctrl
	return h
}

func (h *harness) feed(events ...telemetry.Event) {
	for _, ev := range events {
		h.ctrl.Handle(context.Background(), ev)
	}
}

func altitudes(alts ...float64) []telemetry.Event {
	events := make([]telemetry.Event, len(alts))
	for i, a := range alts {
		events[i] = telemetry.AltitudeEvent(a)
	}
	return events
}

func TestNewControllerValidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TakeoffAltitude = 0
	if _, err := NewController(cfg, fake.NewPort(), nil, &MockEventSource{}); err == nil {
		t.Error("NewController() with zero takeoff altitude should fail")
	}
	if _, err := NewController(DefaultConfig(), nil, nil, &MockEventSource{}); err == nil {
		t.Error("NewController() without port should fail")
	}
}

func TestIdleEntersArmingOnlyOnTargetMode(t *testing.T) {
	tests := []struct {
		name      string
		modes     []string
		wantPhase Phase
		wantArms  int
	}{
		{"no target", []string{"STABILIZE", "LOITER"}, Idle, 0},
		{"target later", []string{"STABILIZE", "GUIDED"}, Arming, 1},
		{"case insensitive", []string{"Guided"}, Arming, 1},
		{"repeated target", []string{"GUIDED", "GUIDED", "LOITER", "GUIDED"}, Arming, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, DefaultConfig())
			for _, m := range tt.modes {
				h.feed(telemetry.ModeEvent(m))
			}
			if h.ctrl.Phase() != tt.wantPhase {
				t.Errorf("Phase() = %v, want %v", h.ctrl.Phase(), tt.wantPhase)
			}
			if got := h.port.Count(vehicle.CmdArm); got != tt.wantArms {
				t.Errorf("arm calls = %d, want %d", got, tt.wantArms)
			}
		})
	}
}

func TestTakingOffToClimbingTriggersOnce(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.feed(telemetry.ModeEvent("GUIDED"), telemetry.ArmedEvent(true))
	if h.ctrl.Phase() != TakingOff {
		t.Fatalf("Phase() = %v, want taking_off", h.ctrl.Phase())
	}

	h.feed(altitudes(2, 5, 7.9)...)
	if h.ctrl.Phase() != TakingOff {
		t.Fatalf("Phase() = %v below 0.8x takeoff, want taking_off", h.ctrl.Phase())
	}

	h.feed(altitudes(8.5, 6, 9, 8.1, 12)...)
	if h.ctrl.Phase() != Climbing {
		t.Errorf("Phase() = %v, want climbing", h.ctrl.Phase())
	}
	if got := h.port.Count(vehicle.CmdClimbTo); got != 1 {
		t.Errorf("climbTo calls = %d, want 1", got)
	}
	if got := h.port.Count(vehicle.CmdTakeoff); got != 1 {
		t.Errorf("takeoff calls = %d, want 1", got)
	}

	climbs := 0
	for _, tr := range h.observer.transitions {
		if tr.From == TakingOff && tr.To == Climbing {
			climbs++
		}
	}
	if climbs != 1 {
		t.Errorf("taking_off -> climbing transitions = %d, want 1", climbs)
	}
}

func TestTakeoffToleranceGuard(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TakeoffRatio = 1
	h := newHarness(t, cfg)
	h.feed(telemetry.ModeEvent("GUIDED"), telemetry.ArmedEvent(true), telemetry.AltitudeEvent(9.2))

	if h.ctrl.Phase() != Climbing {
		t.Errorf("Phase() = %v, want climbing within tolerance", h.ctrl.Phase())
	}
}

func TestClimbScenario(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TakeoffAltitude = 10
	cfg.CruiseAltitude = 30
	h := newHarness(t, cfg)

	h.feed(telemetry.ModeEvent("GUIDED"), telemetry.ArmedEvent(true))
	h.feed(altitudes(9.2, 28, 27.5, 27.1)...)

	if h.ctrl.Phase() != Transiting {
		t.Fatalf("Phase() = %v, want transiting", h.ctrl.Phase())
	}

	retries := h.ctrl.Retries()
	if len(retries) != 1 {
		t.Fatalf("Retries() = %v, want exactly one", retries)
	}
	if retries[0].Goal != vehicle.CmdClimbTo || retries[0].State != "cancelled" || retries[0].Issues != 1 {
		t.Errorf("Retries()[0] = %+v, want one cancelled climbTo with one issue", retries[0])
	}
	if got := h.port.Count(vehicle.CmdGoTo); got != 0 {
		t.Errorf("goTo calls = %d before any position fix, want 0", got)
	}
}

func TestClimbRetryResendsUntilAltitude(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	h.feed(telemetry.ModeEvent("GUIDED"), telemetry.ArmedEvent(true), telemetry.AltitudeEvent(9))

	h.ctrl.Tick(ctx)
	h.ctrl.Tick(ctx)
	if got := h.port.Count(vehicle.CmdClimbTo); got != 3 {
		t.Fatalf("climbTo calls = %d after two ticks, want 3", got)
	}

	h.feed(telemetry.AltitudeEvent(27.5))
	h.ctrl.Tick(ctx)
	h.ctrl.Tick(ctx)
	if got := h.port.Count(vehicle.CmdClimbTo); got != 3 {
		t.Errorf("climbTo calls = %d after reaching altitude, want 3", got)
	}

	if last, _ := h.port.Last(vehicle.CmdClimbTo); last.Args[0] != 30.0 {
		t.Errorf("climbTo args = %v, want [30]", last.Args)
	}

	attempts := 0
	for _, c := range h.observer.commands {
		if c.Command == vehicle.CmdClimbTo {
			attempts = c.Attempt
		}
	}
	if attempts != 3 {
		t.Errorf("last climbTo attempt = %d, want 3", attempts)
	}
}

func TestClimbSkippedWhenAlreadyAtCruise(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TakeoffAltitude = 30
	cfg.CruiseAltitude = 30
	h := newHarness(t, cfg)

	h.feed(telemetry.ModeEvent("GUIDED"), telemetry.ArmedEvent(true), telemetry.AltitudeEvent(29.5))

	if h.ctrl.Phase() != Transiting {
		t.Errorf("Phase() = %v, want transiting", h.ctrl.Phase())
	}
	if got := h.port.Count(vehicle.CmdClimbTo); got != 0 {
		t.Errorf("climbTo calls = %d, want 0 for an empty retry", got)
	}
	if r := h.ctrl.Retries(); len(r) != 1 || r[0].State != "done" {
		t.Errorf("Retries() = %v, want one done climbTo", r)
	}
}

func TestDirectFlightCompletes(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	home := geo.Coordinate{X: 35.0, Y: 139.0, Z: 0}

	h.feed(
		telemetry.PositionEvent(geo.Coordinate{}),
		telemetry.PositionEvent(home),
		telemetry.ModeEvent("GUIDED"),
		telemetry.ArmedEvent(true),
		telemetry.AltitudeEvent(9),
		telemetry.AltitudeEvent(28),
	)
	if h.ctrl.Phase() != Transiting {
		t.Fatalf("Phase() = %v, want transiting", h.ctrl.Phase())
	}

	goal, ok := h.ctrl.Goal()
	if !ok {
		t.Fatal("Goal() not set with a reference position")
	}
	if want := (geo.Coordinate{X: 35.0003, Y: 139.0}); geo.PlanarDistance(goal, want) > 1e-12 {
		t.Errorf("Goal() = %v, want %v", goal, want)
	}
	if last, _ := h.port.Last(vehicle.CmdGoTo); last.Args[0] != goal.X || last.Args[1] != goal.Y {
		t.Errorf("goTo args = %v, want goal", last.Args)
	}

	// Still farther than a tenth of the offset.
	h.feed(telemetry.PositionEvent(geo.Coordinate{X: 35.0002, Y: 139.0, Z: 30}))
	if h.ctrl.Phase() != Transiting {
		t.Fatalf("Phase() = %v, want transiting", h.ctrl.Phase())
	}

	h.feed(telemetry.PositionEvent(geo.Coordinate{X: 35.00028, Y: 139.0, Z: 30}))
	if h.ctrl.Phase() != Landing {
		t.Fatalf("Phase() = %v, want landing", h.ctrl.Phase())
	}
	h.ctrl.Tick(context.Background())
	if got := h.port.Count(vehicle.CmdGoTo); got != 1 {
		t.Errorf("goTo calls = %d, want 1 (no resend after arrival)", got)
	}

	h.feed(altitudes(20, 5, 0.3)...)
	if h.ctrl.Phase() != Disarming {
		t.Fatalf("Phase() = %v, want disarming", h.ctrl.Phase())
	}

	h.feed(telemetry.ArmedEvent(false))
	st := h.ctrl.Status()
	if st.Outcome != Completed {
		t.Errorf("Status() = %v, want completed", st)
	}
	if st.Phase != Disarming {
		t.Errorf("Status().Phase = %v, want disarming", st.Phase)
	}

	want := []string{
		vehicle.CmdConnect, vehicle.CmdArm, vehicle.CmdTakeoff, vehicle.CmdClimbTo,
		vehicle.CmdGoTo, vehicle.CmdLand, vehicle.CmdDisconnect,
	}
	got := h.port.Commands()
	if len(got) != len(want) {
		t.Fatalf("commands = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("commands[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if h.session.Disconnects() != 1 || h.source.unsubscribeAll != 1 {
		t.Errorf("session disconnects = %d, unsubscribeAll = %d, want 1 and 1", h.session.Disconnects(), h.source.unsubscribeAll)
	}
	if len(h.observer.ended) != 1 {
		t.Errorf("FlightEnded calls = %d, want 1", len(h.observer.ended))
	}
}

func surveyConfig() Config {
	cfg := DefaultConfig()
	cfg.Survey = Survey{Enabled: true, Pitch: -90, Yaw: 15}
	return cfg
}

func toTransit(h *harness) {
	h.feed(
		telemetry.PositionEvent(geo.Coordinate{X: 35.0, Y: 139.0}),
		telemetry.ModeEvent("GUIDED"),
		telemetry.ArmedEvent(true),
		telemetry.AltitudeEvent(9),
		telemetry.AltitudeEvent(28),
	)
}

func TestSurveyCoversTransit(t *testing.T) {
	h := newHarness(t, surveyConfig())
	toTransit(h)
	if h.ctrl.Phase() != Transiting {
		t.Fatalf("Phase() = %v, want transiting", h.ctrl.Phase())
	}
	if last, ok := h.port.Last(vehicle.CmdSetGimbalOrientation); !ok || last.Args[0] != -90.0 || last.Args[1] != 15.0 {
		t.Errorf("setGimbalOrientation args = %v, want pitch -90 yaw 15", last.Args)
	}

	h.feed(telemetry.PositionEvent(geo.Coordinate{X: 35.00029, Y: 139.0, Z: 30}))
	h.feed(altitudes(0.3)...)
	h.feed(telemetry.ArmedEvent(false))
	if st := h.ctrl.Status(); st.Outcome != Completed {
		t.Fatalf("Status() = %v, want completed", st)
	}

	want := []string{
		vehicle.CmdConnect, vehicle.CmdArm, vehicle.CmdTakeoff, vehicle.CmdClimbTo,
		vehicle.CmdStartGimbalControl, vehicle.CmdSetGimbalOrientation, vehicle.CmdStartVideoRecording,
		vehicle.CmdGoTo,
		vehicle.CmdStopVideoRecording, vehicle.CmdStopGimbalControl, vehicle.CmdLand,
		vehicle.CmdDisconnect,
	}
	got := h.port.Commands()
	if len(got) != len(want) {
		t.Fatalf("commands = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("commands[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestSurveyStoppedOnAbort(t *testing.T) {
	h := newHarness(t, surveyConfig())
	toTransit(h)
	h.feed(telemetry.ArmedEvent(false))

	if st := h.ctrl.Status(); st.Outcome != Aborted || st.Phase != Transiting {
		t.Fatalf("Status() = %v, want aborted in transiting", st)
	}
	got := h.port.Commands()
	if n := len(got); n < 2 || got[n-2] != vehicle.CmdStopVideoRecording || got[n-1] != vehicle.CmdDisconnect {
		t.Errorf("commands = %v, want stopVideoRecording before disconnect", got)
	}
}

func TestSurveyFailureFailsFast(t *testing.T) {
	h := newHarness(t, surveyConfig())
	h.port.SetError(vehicle.CmdStartVideoRecording, errors.New("camera UNAVAILABLE"))
	toTransit(h)

	st := h.ctrl.Status()
	if st.Outcome != Failed || st.Phase != Transiting {
		t.Fatalf("Status() = %v, want failed in transiting", st)
	}
	if !errors.Is(st.Err, vehicle.ErrUnavailable) {
		t.Errorf("Status().Err = %v, want unavailable", st.Err)
	}
	if got := h.port.Count(vehicle.CmdGoTo); got != 0 {
		t.Errorf("goTo calls = %d, want 0 after the camera failed", got)
	}
	if got := h.port.Count(vehicle.CmdStopVideoRecording); got != 0 {
		t.Errorf("stopVideoRecording calls = %d, want 0 when recording never started", got)
	}
}

func TestDisarmTerminatesFromAnyPhase(t *testing.T) {
	home := telemetry.PositionEvent(geo.Coordinate{X: 35, Y: 139})
	direct := DefaultConfig()
	loop := DefaultConfig()
	loop.Recipe = RecipeLoopMission

	tests := []struct {
		name        string
		cfg         Config
		prefix      []telemetry.Event
		wantPhase   Phase
		wantOutcome Outcome
	}{
		{"idle", direct, nil, Idle, Aborted},
		{"arming", direct, []telemetry.Event{telemetry.ModeEvent("GUIDED")}, Arming, Aborted},
		{"taking off", direct, []telemetry.Event{telemetry.ModeEvent("GUIDED"), telemetry.ArmedEvent(true)}, TakingOff, Aborted},
		{"climbing", direct, []telemetry.Event{telemetry.ModeEvent("GUIDED"), telemetry.ArmedEvent(true), telemetry.AltitudeEvent(9)}, Climbing, Aborted},
		{"transiting", direct, []telemetry.Event{home, telemetry.ModeEvent("GUIDED"), telemetry.ArmedEvent(true), telemetry.AltitudeEvent(9), telemetry.AltitudeEvent(29)}, Transiting, Aborted},
		{"landing", direct, []telemetry.Event{home, telemetry.ModeEvent("GUIDED"), telemetry.ArmedEvent(true), telemetry.AltitudeEvent(29), telemetry.PositionEvent(geo.Coordinate{X: 35.0003, Y: 139, Z: 29})}, Landing, Completed},
		{"disarming", direct, []telemetry.Event{home, telemetry.ModeEvent("GUIDED"), telemetry.ArmedEvent(true), telemetry.AltitudeEvent(29), telemetry.PositionEvent(geo.Coordinate{X: 35.0003, Y: 139, Z: 29}), telemetry.AltitudeEvent(0.1)}, Disarming, Completed},
		{"mission uploading", loop, []telemetry.Event{home, telemetry.ModeEvent("GUIDED")}, MissionUploading, Aborted},
		{"mission running", loop, []telemetry.Event{home, telemetry.ModeEvent("GUIDED"), telemetry.MissionSavedEvent()}, MissionRunning, Completed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.cfg)
			h.feed(tt.prefix...)
			if h.ctrl.Phase() != tt.wantPhase {
				t.Fatalf("Phase() = %v before disarm, want %v", h.ctrl.Phase(), tt.wantPhase)
			}

			h.feed(telemetry.ArmedEvent(false))
			h.feed(telemetry.ArmedEvent(false), telemetry.ModeEvent("GUIDED"))

			if h.ctrl.Phase() != Terminated {
				t.Fatalf("Phase() = %v, want terminated", h.ctrl.Phase())
			}
			st := h.ctrl.Status()
			if st.Outcome != tt.wantOutcome {
				t.Errorf("Outcome = %v, want %v", st.Outcome, tt.wantOutcome)
			}
			if tt.wantOutcome == Aborted && !errors.Is(st.Err, ErrUnexpectedDisarm) {
				t.Errorf("Status().Err = %v, want ErrUnexpectedDisarm", st.Err)
			}
			if got := h.port.Count(vehicle.CmdDisconnect); got != 1 {
				t.Errorf("vehicle disconnects = %d, want 1", got)
			}
			if got := h.session.Disconnects(); got != 1 {
				t.Errorf("session disconnects = %d, want 1", got)
			}
		})
	}
}

func TestCommandFailureFailsFast(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.port.SetError(vehicle.CmdTakeoff, errors.New("connection closed"))

	h.feed(telemetry.ModeEvent("GUIDED"), telemetry.ArmedEvent(true))

	st := h.ctrl.Status()
	if h.ctrl.Phase() != Terminated || st.Outcome != Failed {
		t.Fatalf("Phase() = %v Status() = %v, want terminated/failed", h.ctrl.Phase(), st)
	}
	if st.Phase != TakingOff {
		t.Errorf("Status().Phase = %v, want taking_off", st.Phase)
	}
	var cmdErr *vehicle.CommandError
	if !errors.As(st.Err, &cmdErr) || cmdErr.Command != vehicle.CmdTakeoff {
		t.Errorf("Status().Err = %v, want CommandError for takeoff", st.Err)
	}
	if !errors.Is(st.Err, vehicle.ErrTransport) {
		t.Errorf("Status().Err = %v, want TRANSPORT", st.Err)
	}
	if got := h.port.Count(vehicle.CmdTakeoff); got != 1 {
		t.Errorf("takeoff calls = %d, want 1 (no retry across command failures)", got)
	}
	if got := h.port.Count(vehicle.CmdDisconnect); got != 1 {
		t.Errorf("vehicle disconnects = %d, want 1", got)
	}

	h.feed(altitudes(9, 29)...)
	if got := h.port.Count(vehicle.CmdClimbTo); got != 0 {
		t.Errorf("climbTo calls = %d after termination, want 0", got)
	}
}

func TestRetryResendFailureFailsFlight(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.feed(telemetry.ModeEvent("GUIDED"), telemetry.ArmedEvent(true), telemetry.AltitudeEvent(9))

	h.port.SetError(vehicle.CmdClimbTo, errors.New("drone not connected"))
	h.ctrl.Tick(context.Background())

	st := h.ctrl.Status()
	if st.Outcome != Failed || !errors.Is(st.Err, vehicle.ErrUnavailable) {
		t.Errorf("Status() = %v, want failed with UNAVAILABLE", st)
	}
	if r := h.ctrl.Retries(); len(r) != 1 || r[0].State != "failed" || r[0].Issues != 2 {
		t.Errorf("Retries() = %v, want one failed climbTo after two issues", r)
	}
}

func TestTeardownErrorsDoNotChangeOutcome(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.session.DisconnectErr = errors.New("hub gone")
	h.port.SetError(vehicle.CmdDisconnect, errors.New("connection closed"))

	h.feed(telemetry.ArmedEvent(false))

	st := h.ctrl.Status()
	if st.Outcome != Aborted {
		t.Errorf("Outcome = %v, want aborted", st.Outcome)
	}
	if st.TeardownErr == nil {
		t.Error("TeardownErr is nil, want disconnect failures")
	}
	if h.session.Disconnects() != 1 {
		t.Errorf("session disconnects = %d, want 1 even after vehicle disconnect failed", h.session.Disconnects())
	}
}

func TestMissionRecipe(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Recipe = RecipeLoopMission
	cfg.CircleRadius = 10
	cfg.CircleTurns = 2
	h := newHarness(t, cfg)

	h.feed(telemetry.ModeEvent("GUIDED"))
	if h.ctrl.Phase() != Idle {
		t.Fatalf("Phase() = %v without a position, want idle", h.ctrl.Phase())
	}

	h.feed(telemetry.PositionEvent(geo.Coordinate{X: 35, Y: 139}))
	if h.ctrl.Phase() != MissionUploading {
		t.Fatalf("Phase() = %v, want mission_uploading", h.ctrl.Phase())
	}

	plan := h.port.Plan()
	wantKinds := []mission.ItemKind{mission.KindTakeoff, mission.KindWaypoint, mission.KindWaypoint, mission.KindCircle, mission.KindLand}
	if got := plan.Kinds(); len(got) != len(wantKinds) {
		t.Fatalf("saved plan = %v, want %v", got, wantKinds)
	}
	if c := plan.At(3).(mission.Circle); c.Radius != 10 || c.Turns != 2 {
		t.Errorf("circle = %+v", c)
	}

	h.feed(telemetry.MissionSavedEvent())
	if h.ctrl.Phase() != MissionRunning {
		t.Fatalf("Phase() = %v, want mission_running", h.ctrl.Phase())
	}
	if last, ok := h.port.Last(vehicle.CmdStartMission); !ok || last.Args[0] != true || last.Args[1] != true {
		t.Errorf("startMission = %v, want (true, true)", last.Args)
	}

	before := len(h.port.Calls())
	h.feed(
		telemetry.ArmedEvent(true),
		telemetry.CommandReachedEvent(1),
		telemetry.AltitudeEvent(30),
		telemetry.CommandReachedEvent(3),
		telemetry.AltitudeEvent(0.1),
	)
	if got := len(h.port.Calls()); got != before {
		t.Errorf("controller issued %d commands while the mission ran, want 0", got-before)
	}

	h.feed(telemetry.ArmedEvent(false))
	if st := h.ctrl.Status(); st.Outcome != Completed || st.Phase != MissionRunning {
		t.Errorf("Status() = %v, want completed in mission_running", st)
	}
}

func TestMissionInvalidParameterFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Recipe = RecipeLoopMission
	cfg.CircleRadius = 0
	h := newHarness(t, cfg)

	h.feed(telemetry.PositionEvent(geo.Coordinate{X: 1, Y: 1}), telemetry.ModeEvent("GUIDED"))

	st := h.ctrl.Status()
	if st.Outcome != Failed || !errors.Is(st.Err, mission.ErrInvalidParameter) {
		t.Errorf("Status() = %v, want failed with ErrInvalidParameter", st)
	}
	if got := h.port.Count(vehicle.CmdSaveMission); got != 0 {
		t.Errorf("saveMission calls = %d, want 0", got)
	}
}

func TestReconnectResubscribes(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	h.feed(telemetry.ConnectedEvent())
	if h.source.resubscribes != 0 {
		t.Errorf("resubscribes = %d on first connect, want 0", h.source.resubscribes)
	}

	h.feed(telemetry.DisconnectedEvent(), telemetry.ConnectedEvent())
	if h.source.resubscribes != 1 {
		t.Errorf("resubscribes = %d after reconnect, want 1", h.source.resubscribes)
	}

	h.source.ResubscribeErr = errors.New("connection closed")
	h.feed(telemetry.DisconnectedEvent(), telemetry.ConnectedEvent())
	if st := h.ctrl.Status(); st.Outcome != Failed {
		t.Errorf("Status() = %v, want failed when resubscribe fails", st)
	}
}

func TestRunDrivesRetryTicks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryInterval = 5 * time.Millisecond
	port := fake.NewPort()
	_ = port.Connect(context.Background(), vehicle.TransportUDP, "localhost:14551")
	session := &MockSession{}

	ctrl, err := NewController(cfg, port, session, &MockEventSource{})
	if err != nil {
		t.Fatalf("NewController() failed: %v", err)
	}

	events := make(chan telemetry.Event, 8)
	done := make(chan Status, 1)
	go func() { done <- ctrl.Run(context.Background(), events) }()

	events <- telemetry.ModeEvent("GUIDED")
	events <- telemetry.ArmedEvent(true)
	events <- telemetry.AltitudeEvent(9)

	deadline := time.Now().Add(2 * time.Second)
	for port.Count(vehicle.CmdClimbTo) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("climbTo calls = %d, want resends from the retry timer", port.Count(vehicle.CmdClimbTo))
		}
		time.Sleep(time.Millisecond)
	}

	events <- telemetry.ArmedEvent(false)
	select {
	case st := <-done:
		if st.Outcome != Aborted || st.Phase != Climbing {
			t.Errorf("Run() = %v, want aborted in climbing", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return")
	}

	n := port.Count(vehicle.CmdClimbTo)
	time.Sleep(30 * time.Millisecond)
	if got := port.Count(vehicle.CmdClimbTo); got != n {
		t.Errorf("climbTo calls went from %d to %d after termination", n, got)
	}
	if session.Disconnects() != 1 {
		t.Errorf("session disconnects = %d, want 1", session.Disconnects())
	}
}

func TestRunAbortsOnContext(t *testing.T) {
	tests := []struct {
		name    string
		makeCtx func() (context.Context, context.CancelFunc)
		want    error
	}{
		{"cancelled", func() (context.Context, context.CancelFunc) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			return ctx, cancel
		}, ErrCancelled},
		{"watchdog", func() (context.Context, context.CancelFunc) {
			return context.WithTimeout(context.Background(), 10*time.Millisecond)
		}, ErrFlightTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, DefaultConfig())
			ctx, cancel := tt.makeCtx()
			defer cancel()

			st := h.ctrl.Run(ctx, make(chan telemetry.Event))
			if st.Outcome != Aborted || !errors.Is(st.Err, tt.want) {
				t.Errorf("Run() = %v, want aborted with %v", st, tt.want)
			}
			if got := h.port.Count(vehicle.CmdDisconnect); got != 1 {
				t.Errorf("vehicle disconnects = %d, want 1", got)
			}
			if h.session.Disconnects() != 1 {
				t.Errorf("session disconnects = %d, want 1", h.session.Disconnects())
			}
		})
	}
}

func TestRunEndsWhenTelemetryCloses(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	events := make(chan telemetry.Event)
	close(events)

	st := h.ctrl.Run(context.Background(), events)
	if st.Outcome != Aborted || !errors.Is(st.Err, ErrTelemetryClosed) {
		t.Errorf("Run() = %v, want aborted with ErrTelemetryClosed", st)
	}
}

func TestRunFailsWhenSessionLost(t *testing.T) {
	lost := make(chan struct{})
	cause := errors.New("connection reset by peer")
	port := fake.NewPort()
	_ = port.Connect(context.Background(), vehicle.TransportUDP, "localhost:14551")
	session := &MockSession{}
	ctrl, err := NewController(DefaultConfig(), port, session, &MockEventSource{},
		WithSessionLoss(lost, func() error { return cause }))
	if err != nil {
		t.Fatalf("NewController() failed: %v", err)
	}

	events := make(chan telemetry.Event)
	done := make(chan Status, 1)
	go func() { done <- ctrl.Run(context.Background(), events) }()

	events <- telemetry.ModeEvent("GUIDED")
	events <- telemetry.ArmedEvent(true)
	close(lost)

	select {
	case st := <-done:
		if st.Outcome != Failed || st.Phase != TakingOff {
			t.Errorf("Run() = %v, want failed in taking_off", st)
		}
		if !errors.Is(st.Err, vehicle.ErrTransport) || !errors.Is(st.Err, ErrSessionLost) {
			t.Errorf("Run() error = %v, want transport error wrapping ErrSessionLost", st.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after the session was lost")
	}
	if session.Disconnects() != 1 {
		t.Errorf("session disconnects = %d, want 1", session.Disconnects())
	}
}

func TestAbortAndFailAreIdempotent(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()

	st := h.ctrl.Fail(ctx, errors.New("connect failed"))
	if st.Outcome != Failed {
		t.Errorf("Fail() = %v, want failed", st)
	}
	st = h.ctrl.Abort(ctx, ErrFlightTimeout)
	if st.Outcome != Failed {
		t.Errorf("Abort() after Fail() = %v, want the first status", st)
	}
	if got := h.port.Count(vehicle.CmdDisconnect); got != 1 {
		t.Errorf("vehicle disconnects = %d, want 1", got)
	}
}
