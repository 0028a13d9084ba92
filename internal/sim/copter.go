package sim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/golang/geo/r3"

	"github.com/flight-control/fcc/internal/mission"
	"github.com/flight-control/fcc/internal/telemetry"
	"github.com/flight-control/fcc/internal/vehicle"
)

// ModuleName is the only module a Copter exposes.
const ModuleName = "ArduCopter"

// ErrUnknownModule is returned for calls to any other module.
var ErrUnknownModule = errors.New("unknown module")

// Config tunes the simulated vehicle.
type Config struct {
	ID string
	// Home is the start position; Z is ignored.
	Home [3]float64
	// Tick is the simulation step.
	Tick time.Duration
	// ClimbRate in metres per second.
	ClimbRate float64
	// Speed in coordinate units per second.
	Speed float64
	// PositionEvery emits a position event every N ticks.
	PositionEvery int
	// DropRate is the fraction of climbTo and goTo commands acknowledged
	// but not acted on.
	DropRate float64
	// DropFirst drops that many climbTo/goTo commands before DropRate applies.
	DropFirst int
	// Seed makes drops reproducible.
	Seed int64
	// TurnDuration is the time one circle turn takes.
	TurnDuration time.Duration
}

// DefaultConfig is a copter at the origin of a small test field.
func DefaultConfig() Config {
	return Config{
		ID:            "arducopter:1",
		Home:          [3]float64{35.0, 139.0, 0},
		Tick:          100 * time.Millisecond,
		ClimbRate:     5,
		Speed:         0.00005,
		PositionEvery: 5,
		Seed:          1,
		TurnDuration:  2 * time.Second,
	}
}

// EventFunc receives the copter's events.
type EventFunc func(module, event string, data interface{})

type request struct {
	method string
	params []json.RawMessage
	reply  chan response
}

type response struct {
	result interface{}
	err    error
}

// Copter is a simulated vehicle actor. Its state is owned by Run.
type Copter struct {
	cfg    Config
	logger *slog.Logger
	reqs   chan request

	subMu   sync.Mutex
	subs    map[int]EventFunc
	nextSub int

	// owned by Run
	rng       *rand.Rand
	drops     int
	connected bool
	mode      string
	armed     bool
	pos       r3.Vector
	home      r3.Vector
	targetAlt float64
	goal      *r3.Vector
	landing   bool
	enabled   map[string]bool
	allEvents bool
	plan      mission.Plan
	exec      *executor
	ticks     int
	gimbal    bool
	attitude  [3]float64
	recording bool
}

// Option configures a Copter.
type Option func(*Copter)

// WithLogger sets the copter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Copter) {
		c.logger = logger.With(slog.String("component", "sim"), slog.String("actor", c.cfg.ID))
	}
}

// NewCopter returns a landed, disarmed copter in STABILIZE.
func NewCopter(cfg Config, opts ...Option) *Copter {
	def := DefaultConfig()
	if cfg.Tick <= 0 {
		cfg.Tick = def.Tick
	}
	if cfg.ClimbRate <= 0 {
		cfg.ClimbRate = def.ClimbRate
	}
	if cfg.Speed <= 0 {
		cfg.Speed = def.Speed
	}
	if cfg.PositionEvery <= 0 {
		cfg.PositionEvery = 1
	}
	if cfg.TurnDuration <= 0 {
		cfg.TurnDuration = def.TurnDuration
	}

	home := r3.Vector{X: cfg.Home[0], Y: cfg.Home[1]}
	c := &Copter{
		cfg:     cfg,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		reqs:    make(chan request, 64),
		subs:    make(map[int]EventFunc),
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		mode:    "STABILIZE",
		pos:     home,
		home:    home,
		enabled: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the actor id.
func (c *Copter) ID() string { return c.cfg.ID }

// Subscribe registers fn for every emitted event until cancel is called.
func (c *Copter) Subscribe(fn EventFunc) (cancel func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

// Call queues method for the Run loop and waits for its reply.
func (c *Copter) Call(ctx context.Context, module, method string, params []json.RawMessage) (interface{}, error) {
	if module != ModuleName {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}
	req := request{method: method, params: params, reply: make(chan response, 1)}
	select {
	case c.reqs <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case resp := <-req.reply:
		return resp.result, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run processes commands in FIFO order and advances the model every tick
// until ctx is done.
func (c *Copter) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-c.reqs:
			result, err := c.handle(req.method, req.params)
			req.reply <- response{result: result, err: err}
		case <-ticker.C:
			c.step(c.cfg.Tick.Seconds())
		}
	}
}

func (c *Copter) emit(event string, data interface{}) {
	if !c.allEvents && !c.enabled[event] {
		return
	}
	c.subMu.Lock()
	subs := make([]EventFunc, 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subMu.Unlock()

	for _, fn := range subs {
		fn(ModuleName, event, data)
	}
}

func (c *Copter) emitPosition() {
	c.emit(telemetry.WirePosition, map[string]interface{}{"coordinate": []float64{c.pos.X, c.pos.Y, c.pos.Z}})
}

func (c *Copter) setArmed(armed bool) {
	if c.armed == armed {
		return
	}
	c.armed = armed
	if armed {
		c.emit(telemetry.WireArmed, nil)
		return
	}
	c.targetAlt = 0
	c.goal = nil
	c.landing = false
	c.exec = nil
	c.emit(telemetry.WireDisarmed, nil)
}

func (c *Copter) setMode(mode string) {
	c.mode = strings.ToUpper(mode)
	c.emit(telemetry.WireMode, map[string]interface{}{"mode": c.mode})
}

// dropped decides whether a resendable command is lost.
func (c *Copter) dropped() bool {
	if c.drops < c.cfg.DropFirst {
		c.drops++
		return true
	}
	return c.cfg.DropRate > 0 && c.rng.Float64() < c.cfg.DropRate
}

func (c *Copter) handle(method string, params []json.RawMessage) (interface{}, error) {
	switch method {
	case methodSnapshot:
		return c.snapshot(), nil
	case vehicle.CmdConnect:
		return nil, c.connect(params)
	case vehicle.CmdEnableEvents:
		return nil, c.toggleEvents(params, true)
	case vehicle.CmdDisableEvents:
		return nil, c.toggleEvents(params, false)
	}

	if !c.connected {
		return nil, errors.New("vehicle NOT CONNECTED")
	}

	switch method {
	case vehicle.CmdDisconnect:
		if err := decodeParams(params); err != nil {
			return nil, err
		}
		c.connected = false
		c.emit(telemetry.WireDisconnected, nil)
		return nil, nil

	case vehicle.CmdSetMode:
		var mode string
		if err := decodeParams(params, &mode); err != nil {
			return nil, err
		}
		c.setMode(mode)
		return nil, nil

	case vehicle.CmdArm:
		var arm bool
		if err := decodeParams(params, &arm); err != nil {
			return nil, err
		}
		if arm && c.mode != "GUIDED" && c.mode != "AUTO" {
			return nil, fmt.Errorf("arm NOT ALLOWED in mode %s", c.mode)
		}
		if !arm && c.pos.Z > 0.5 {
			return nil, errors.New("disarm NOT ALLOWED while airborne")
		}
		c.setArmed(arm)
		return nil, nil

	case vehicle.CmdTakeoff:
		var alt float64
		if err := decodeParams(params, &alt); err != nil {
			return nil, err
		}
		if !c.armed {
			return nil, errors.New("takeoff: vehicle NOT ARMED")
		}
		c.targetAlt, c.landing = alt, false
		return nil, nil

	case vehicle.CmdClimbTo:
		var alt float64
		if err := decodeParams(params, &alt); err != nil {
			return nil, err
		}
		if c.dropped() {
			c.logger.Debug("dropping climbTo", "altitude", alt)
			return nil, nil
		}
		if c.armed {
			c.targetAlt, c.landing = alt, false
		}
		return nil, nil

	case vehicle.CmdGoTo:
		var x, y float64
		if err := decodeParams(params, &x, &y); err != nil {
			return nil, err
		}
		if c.dropped() {
			c.logger.Debug("dropping goTo", "x", x, "y", y)
			return nil, nil
		}
		if c.armed {
			c.goal = &r3.Vector{X: x, Y: y}
		}
		return nil, nil

	case vehicle.CmdLand:
		if err := decodeParams(params); err != nil {
			return nil, err
		}
		c.land()
		return nil, nil

	case vehicle.CmdSaveMission:
		var items []map[string]interface{}
		if err := decodeParams(params, &items); err != nil {
			return nil, err
		}
		plan, err := mission.Decode(items)
		if err != nil {
			return nil, fmt.Errorf("INVALID mission: %v", err)
		}
		c.plan = plan
		c.emit(telemetry.WireMissionSaved, nil)
		return nil, nil

	case vehicle.CmdStartMission:
		var arm, auto bool
		if err := decodeParams(params, &arm, &auto); err != nil {
			return nil, err
		}
		if c.plan.Len() == 0 {
			return nil, errors.New("startMission: no mission loaded, NOT READY")
		}
		if auto {
			c.setMode("AUTO")
		}
		if arm {
			c.setArmed(true)
		}
		c.exec = newExecutor(c.plan)
		return nil, nil

	case vehicle.CmdStartGimbalControl, vehicle.CmdStopGimbalControl:
		if err := decodeParams(params); err != nil {
			return nil, err
		}
		c.gimbal = method == vehicle.CmdStartGimbalControl
		return nil, nil

	case vehicle.CmdSetGimbalOrientation:
		var pitch, yaw, roll float64
		if err := decodeParams(params, &pitch, &yaw, &roll); err != nil {
			return nil, err
		}
		if !c.gimbal {
			return nil, errors.New("gimbal control NOT READY")
		}
		if pitch < -90 || pitch > 30 {
			return nil, fmt.Errorf("INVALID gimbal pitch %v", pitch)
		}
		c.attitude = [3]float64{pitch, yaw, roll}
		return nil, nil

	case vehicle.CmdStartVideoRecording, vehicle.CmdStopVideoRecording:
		if err := decodeParams(params); err != nil {
			return nil, err
		}
		c.recording = method == vehicle.CmdStartVideoRecording
		return nil, nil

	default:
		return nil, fmt.Errorf("UNKNOWN METHOD %s", method)
	}
}

func (c *Copter) connect(params []json.RawMessage) error {
	var kind, address string
	if err := decodeParams(params, &kind, &address); err != nil {
		return err
	}
	if _, err := vehicle.ParseTransportKind(kind); err != nil {
		return fmt.Errorf("INVALID connection type %q", kind)
	}
	if address == "" {
		return errors.New("INVALID empty address")
	}
	c.connected = true
	c.emit(telemetry.WireConnected, nil)
	c.emit(telemetry.WireMode, map[string]interface{}{"mode": c.mode})
	c.emitPosition()
	return nil
}

func (c *Copter) toggleEvents(params []json.RawMessage, on bool) error {
	var names []string
	if err := decodeParams(params, &names); err != nil {
		return err
	}
	if names == nil {
		c.allEvents = on
		c.enabled = make(map[string]bool)
		return nil
	}
	for _, n := range names {
		if on {
			c.enabled[n] = true
		} else {
			delete(c.enabled, n)
		}
	}
	return nil
}

func (c *Copter) land() {
	c.landing = true
	c.goal = nil
	c.targetAlt = 0
}

// step advances the model by dt seconds.
func (c *Copter) step(dt float64) {
	c.ticks++
	if c.armed {
		if c.exec != nil {
			c.exec.step(c, dt)
		}
		c.fly(dt)
		if c.landing && c.pos.Z <= 0.05 {
			c.pos.Z = 0
			c.landing = false
			if c.exec != nil {
				c.exec.touchdown(c)
			}
			c.logger.Info("landed, disarming")
			c.setArmed(false)
		}
	}
	if c.connected && c.ticks%c.cfg.PositionEvery == 0 {
		c.emitPosition()
	}
}

func (c *Copter) fly(dt float64) {
	dz := c.targetAlt - c.pos.Z
	climb := c.cfg.ClimbRate * dt
	switch {
	case dz > climb:
		c.pos.Z += climb
	case dz < -climb:
		c.pos.Z -= climb
	default:
		c.pos.Z = c.targetAlt
	}

	if c.goal == nil || c.pos.Z < 1 {
		return
	}
	d := r3.Vector{X: c.goal.X - c.pos.X, Y: c.goal.Y - c.pos.Y}
	move := c.cfg.Speed * dt
	if d.Norm() <= move {
		c.pos.X, c.pos.Y = c.goal.X, c.goal.Y
		return
	}
	d = d.Normalize().Mul(move)
	c.pos.X += d.X
	c.pos.Y += d.Y
}

// Snapshot is the observable state, for tests and the hub's status page.
type Snapshot struct {
	Connected bool       `json:"connected"`
	Mode      string     `json:"mode"`
	Armed     bool       `json:"armed"`
	Position  [3]float64 `json:"position"`
	Mission   int        `json:"missionItems"`
	Gimbal    bool       `json:"gimbal"`
	Attitude  [3]float64 `json:"gimbalAttitude"`
	Recording bool       `json:"recording"`
}

const methodSnapshot = "snapshot"

// Snapshot reads the state through the Run loop.
func (c *Copter) Snapshot(ctx context.Context) (Snapshot, error) {
	res, err := c.Call(ctx, ModuleName, methodSnapshot, nil)
	if err != nil {
		return Snapshot{}, err
	}
	return res.(Snapshot), nil
}

func (c *Copter) snapshot() Snapshot {
	return Snapshot{
		Connected: c.connected,
		Mode:      c.mode,
		Armed:     c.armed,
		Position:  [3]float64{c.pos.X, c.pos.Y, c.pos.Z},
		Mission:   c.plan.Len(),
		Gimbal:    c.gimbal,
		Attitude:  c.attitude,
		Recording: c.recording,
	}
}

// decodeParams decodes exactly len(out) positional params into out.
func decodeParams(params []json.RawMessage, out ...interface{}) error {
	if len(params) != len(out) {
		return fmt.Errorf("BAD PARAMETER count %d, want %d", len(params), len(out))
	}
	for i, p := range params {
		if err := json.Unmarshal(p, out[i]); err != nil {
			return fmt.Errorf("BAD PARAMETER %d: %v", i, err)
		}
	}
	return nil
}
