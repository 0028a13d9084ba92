package sim

import (
	"math"
	"time"

	"github.com/golang/geo/r3"

	"github.com/flight-control/fcc/internal/mission"
	"github.com/flight-control/fcc/internal/telemetry"
)

// arrivalRadius is how close, in coordinate units, a mission waypoint
// must be reached.
const arrivalRadius = 1e-6

// executor flies an uploaded plan item by item, emitting commandReached
// with the zero-based item index as each one completes.
type executor struct {
	plan    mission.Plan
	index   int
	started bool
	hold    time.Duration
	jumps   map[int]int
}

func newExecutor(plan mission.Plan) *executor {
	return &executor{plan: plan, jumps: make(map[int]int)}
}

func (e *executor) done() bool { return e.index >= e.plan.Len() }

func (e *executor) step(c *Copter, dt float64) {
	for !e.done() {
		item := e.plan.At(e.index)
		if !e.started {
			e.started = true
			e.hold = 0
			if !e.begin(c, item) {
				return
			}
		}
		if !e.reached(c, item, dt) {
			return
		}
		e.advance(c, item)
	}
}

// begin applies the item's command. It reports false for items that
// complete only on touchdown.
func (e *executor) begin(c *Copter, item mission.Item) bool {
	switch it := item.(type) {
	case mission.Takeoff:
		c.targetAlt, c.landing = it.Altitude, false
	case mission.Waypoint:
		e.fly(c, it.Coordinate.X, it.Coordinate.Y, it.Coordinate.Z)
		e.hold = secs(it.Delay)
	case mission.SplineWaypoint:
		e.fly(c, it.Coordinate.X, it.Coordinate.Y, it.Coordinate.Z)
		e.hold = secs(it.Delay)
	case mission.Circle:
		if it.Coordinate != nil {
			e.fly(c, it.Coordinate.X, it.Coordinate.Y, it.Coordinate.Z)
		}
		e.hold = time.Duration(it.Turns) * c.cfg.TurnDuration
	case mission.ReturnToLaunch:
		if it.Altitude > 0 {
			c.targetAlt = it.Altitude
		}
		home := c.home
		c.goal = &home
	case mission.Land:
		if it.Coordinate != nil && !(it.Coordinate.X == 0 && it.Coordinate.Y == 0) {
			c.goal = &r3.Vector{X: it.Coordinate.X, Y: it.Coordinate.Y}
		}
		c.landing, c.targetAlt = true, 0
		return false
	}
	return true
}

// fly sets the goal; a zero x/y pair changes altitude only.
func (e *executor) fly(c *Copter, x, y, z float64) {
	if x != 0 || y != 0 {
		c.goal = &r3.Vector{X: x, Y: y}
	}
	if z > 0 {
		c.targetAlt = z
	}
}

func (e *executor) reached(c *Copter, item mission.Item, dt float64) bool {
	switch item.(type) {
	case mission.Takeoff:
		return math.Abs(c.pos.Z-c.targetAlt) < 0.5
	case mission.Waypoint, mission.SplineWaypoint, mission.Circle, mission.ReturnToLaunch:
		if math.Abs(c.pos.Z-c.targetAlt) >= 0.5 {
			return false
		}
		if c.goal != nil && (r3.Vector{X: c.goal.X - c.pos.X, Y: c.goal.Y - c.pos.Y}).Norm() > arrivalRadius {
			return false
		}
		if e.hold > 0 {
			e.hold -= secs(dt)
			return false
		}
		return true
	case mission.Land:
		return false
	}
	return true
}

func (e *executor) advance(c *Copter, item mission.Item) {
	c.emit(telemetry.WireCommandReached, map[string]interface{}{"index": e.index})

	next := e.index + 1
	switch it := item.(type) {
	case mission.ChangeSpeed:
		if it.Speed > 0 {
			c.cfg.Speed = it.Speed
		}
	case mission.ReturnToLaunch:
		c.landing, c.targetAlt = true, 0
	case mission.DoJump:
		if e.jumps[e.index] < it.RepeatCount {
			e.jumps[e.index]++
			next = it.Index
		}
	}
	e.index, e.started = next, false
}

// touchdown completes a pending Land item before the copter disarms.
func (e *executor) touchdown(c *Copter) {
	if e.done() {
		return
	}
	if _, ok := e.plan.At(e.index).(mission.Land); ok && e.started {
		c.emit(telemetry.WireCommandReached, map[string]interface{}{"index": e.index})
		e.index++
	}
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
