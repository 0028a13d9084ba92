package mission

import (
	"errors"
	"fmt"
	"math"

	"github.com/flight-control/fcc/internal/geo"
)

// ErrInvalidParameter is returned when a plan cannot be built from the
// given parameters. Such a plan is never submitted.
var ErrInvalidParameter = errors.New("INVALID_MISSION_PARAMETER")

// BuildLinearMission returns [Takeoff, Waypoint(0,0,cruise), Waypoint(goal), Land]
// where goal is reference displaced by offset at ground level.
func BuildLinearMission(reference geo.Coordinate, takeoffAlt, cruiseAlt float64, offset geo.Offset) (Plan, error) {
	if err := validateCommon(reference, takeoffAlt, cruiseAlt, offset); err != nil {
		return Plan{}, err
	}

	goal := Goal(reference, offset)
	return NewPlan(
		Takeoff{Altitude: takeoffAlt},
		Waypoint{Coordinate: geo.Coordinate{Z: cruiseAlt}},
		Waypoint{Coordinate: goal},
		Land{},
	), nil
}

// BuildLoopMission is BuildLinearMission with a Circle around the goal
// inserted before Land.
func BuildLoopMission(reference geo.Coordinate, takeoffAlt, cruiseAlt float64, offset geo.Offset, radius float64, turns int) (Plan, error) {
	if err := validateCommon(reference, takeoffAlt, cruiseAlt, offset); err != nil {
		return Plan{}, err
	}
	if math.IsNaN(radius) || math.IsInf(radius, 0) || radius <= 0 {
		return Plan{}, fmt.Errorf("%w: radius must be positive, got %v", ErrInvalidParameter, radius)
	}
	if turns <= 0 {
		return Plan{}, fmt.Errorf("%w: turns must be positive, got %d", ErrInvalidParameter, turns)
	}

	goal := Goal(reference, offset)
	center := goal
	return NewPlan(
		Takeoff{Altitude: takeoffAlt},
		Waypoint{Coordinate: geo.Coordinate{Z: cruiseAlt}},
		Waypoint{Coordinate: goal},
		Circle{Coordinate: &center, Radius: radius, Turns: turns},
		Land{},
	), nil
}

// Goal is the ground-level point reached by displacing reference by offset.
func Goal(reference geo.Coordinate, offset geo.Offset) geo.Coordinate {
	return geo.Coordinate{X: reference.X + offset.X, Y: reference.Y + offset.Y}
}

func validateCommon(reference geo.Coordinate, takeoffAlt, cruiseAlt float64, offset geo.Offset) error {
	if !reference.Finite() {
		return fmt.Errorf("%w: reference %v is not finite", ErrInvalidParameter, reference)
	}
	if !offset.Finite() {
		return fmt.Errorf("%w: offset %+v is not finite", ErrInvalidParameter, offset)
	}
	if !(takeoffAlt > 0) || math.IsInf(takeoffAlt, 0) {
		return fmt.Errorf("%w: takeoff altitude must be positive, got %v", ErrInvalidParameter, takeoffAlt)
	}
	if !(cruiseAlt > 0) || math.IsInf(cruiseAlt, 0) {
		return fmt.Errorf("%w: cruise altitude must be positive, got %v", ErrInvalidParameter, cruiseAlt)
	}
	return nil
}
