package geo

import (
	"fmt"
	"math"
)

// Coordinate is a point in the local frame. Z is altitude, positive up.
type Coordinate struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Offset is a planar displacement.
type Offset struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Finite reports whether every component is a finite number.
func (c Coordinate) Finite() bool {
	return finite(c.X) && finite(c.Y) && finite(c.Z)
}

// IsOrigin reports whether the planar part is exactly (0, 0). Vehicles
// report the origin before they have a position fix.
func (c Coordinate) IsOrigin() bool {
	return c.X == 0 && c.Y == 0
}

// Add returns c displaced by o. Altitude is kept.
func (c Coordinate) Add(o Offset) Coordinate {
	return Coordinate{X: c.X + o.X, Y: c.Y + o.Y, Z: c.Z}
}

// Array returns the [x, y, z] wire form.
func (c Coordinate) Array() []float64 {
	return []float64{c.X, c.Y, c.Z}
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.7f, %.7f, %.2f)", c.X, c.Y, c.Z)
}

// FromArray builds a Coordinate from the [x, y, z] wire form. A missing
// altitude is treated as zero.
func FromArray(v []float64) (Coordinate, error) {
	if len(v) < 2 || len(v) > 3 {
		return Coordinate{}, fmt.Errorf("coordinate must have 2 or 3 components, got %d", len(v))
	}
	c := Coordinate{X: v[0], Y: v[1]}
	if len(v) == 3 {
		c.Z = v[2]
	}
	if !c.Finite() {
		return Coordinate{}, fmt.Errorf("coordinate %v is not finite", v)
	}
	return c, nil
}

// Finite reports whether both components are finite numbers.
func (o Offset) Finite() bool {
	return finite(o.X) && finite(o.Y)
}

// Length is the planar length of the offset.
func (o Offset) Length() float64 {
	return math.Hypot(o.X, o.Y)
}

// PlanarDistance is the Euclidean distance between a and b ignoring altitude.
func PlanarDistance(a, b Coordinate) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
