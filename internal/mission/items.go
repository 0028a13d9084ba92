package mission

import "github.com/flight-control/fcc/internal/geo"

// ItemKind is the wire "type" of a mission item.
type ItemKind string

const (
	KindTakeoff        ItemKind = "takeoff"
	KindWaypoint       ItemKind = "waypoint"
	KindSplineWaypoint ItemKind = "splineWaypoint"
	KindChangeSpeed    ItemKind = "changeSpeed"
	KindReturnToLaunch ItemKind = "returnToLaunch"
	KindLand           ItemKind = "land"
	KindCircle         ItemKind = "circle"
	KindYawCondition   ItemKind = "yawCondition"
	KindDoJump         ItemKind = "doJump"
)

// Item is one mission step. The set of implementations is closed.
type Item interface {
	Kind() ItemKind
	encode() map[string]interface{}
}

// Takeoff climbs to Altitude from the ground.
type Takeoff struct {
	Altitude float64
}

// Waypoint flies to Coordinate and holds for Delay seconds.
type Waypoint struct {
	Coordinate geo.Coordinate
	Delay      float64
}

// SplineWaypoint is a Waypoint reached on a curved path.
type SplineWaypoint struct {
	Coordinate geo.Coordinate
	Delay      float64
}

// ChangeSpeed sets the cruise speed in m/s.
type ChangeSpeed struct {
	Speed float64
}

// ReturnToLaunch flies home at Altitude.
type ReturnToLaunch struct {
	Altitude float64
}

// Land descends at Coordinate, or in place when Coordinate is nil.
type Land struct {
	Coordinate *geo.Coordinate
}

// Circle loiters Turns times around Coordinate (or in place when nil).
type Circle struct {
	Coordinate *geo.Coordinate
	Radius     float64
	Turns      int
}

// YawCondition turns the vehicle to Angle degrees.
type YawCondition struct {
	Angle        float64
	AngularSpeed float64
	Relative     bool
}

// DoJump jumps back to the item at Index, RepeatCount times.
type DoJump struct {
	Index       int
	RepeatCount int
}

func (Takeoff) Kind() ItemKind        { return KindTakeoff }
func (Waypoint) Kind() ItemKind       { return KindWaypoint }
func (SplineWaypoint) Kind() ItemKind { return KindSplineWaypoint }
func (ChangeSpeed) Kind() ItemKind    { return KindChangeSpeed }
func (ReturnToLaunch) Kind() ItemKind { return KindReturnToLaunch }
func (Land) Kind() ItemKind           { return KindLand }
func (Circle) Kind() ItemKind         { return KindCircle }
func (YawCondition) Kind() ItemKind   { return KindYawCondition }
func (DoJump) Kind() ItemKind         { return KindDoJump }

// Plan is an ordered, immutable list of mission items.
type Plan struct {
	items []Item
}

// NewPlan copies items into a new Plan.
func NewPlan(items ...Item) Plan {
	return Plan{items: append([]Item(nil), items...)}
}

// Len returns the number of items.
func (p Plan) Len() int {
	return len(p.items)
}

// At returns the item at index i, or nil when out of range.
func (p Plan) At(i int) Item {
	if i < 0 || i >= len(p.items) {
		return nil
	}
	return p.items[i]
}

// Items returns a copy of the plan's items.
func (p Plan) Items() []Item {
	return append([]Item(nil), p.items...)
}

// Kinds lists the item kinds in order.
func (p Plan) Kinds() []ItemKind {
	kinds := make([]ItemKind, len(p.items))
	for i, item := range p.items {
		kinds[i] = item.Kind()
	}
	return kinds
}
