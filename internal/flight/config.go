package flight

import (
	"fmt"
	"math"
	"time"

	"github.com/flight-control/fcc/internal/geo"
)

// Config holds the guards and targets of a flight.
type Config struct {
	Recipe     Recipe
	TargetMode string

	TakeoffAltitude float64
	CruiseAltitude  float64
	TargetOffset    geo.Offset
	LandedAltitude  float64

	// TakingOff ends once altitude >= TakeoffRatio*TakeoffAltitude or
	// within TakeoffTolerance of it.
	TakeoffRatio     float64
	TakeoffTolerance float64
	// Climbing ends once altitude >= ClimbRatio*CruiseAltitude.
	ClimbRatio float64
	// ArrivalFraction of the offset length is the arrival radius.
	ArrivalFraction float64

	CircleRadius float64
	CircleTurns  int

	Survey Survey

	RetryInterval  time.Duration
	CommandTimeout time.Duration
}

// Survey points the gimbal and records video for the length of the
// transit leg.
type Survey struct {
	Enabled bool
	Pitch   float64
	Yaw     float64
}

// DefaultConfig returns the stock direct flight: 10 m takeoff, 30 m
// cruise, a short hop east, and 10 s resends.
func DefaultConfig() Config {
	return Config{
		Recipe:           RecipeDirect,
		TargetMode:       "GUIDED",
		TakeoffAltitude:  10,
		CruiseAltitude:   30,
		TargetOffset:     geo.Offset{X: 0.0003, Y: 0},
		LandedAltitude:   0.5,
		TakeoffRatio:     0.8,
		TakeoffTolerance: 1,
		ClimbRatio:       0.9,
		ArrivalFraction:  0.1,
		CircleRadius:     25,
		CircleTurns:      2,
		Survey:           Survey{Pitch: -90},
		RetryInterval:    10 * time.Second,
		CommandTimeout:   5 * time.Second,
	}
}

// Validate checks the config before a flight starts.
func (c Config) Validate() error {
	if _, err := ParseRecipe(string(c.Recipe)); err != nil {
		return err
	}
	if c.TargetMode == "" {
		return fmt.Errorf("target mode must be set")
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"takeoff altitude", c.TakeoffAltitude},
		{"cruise altitude", c.CruiseAltitude},
		{"takeoff ratio", c.TakeoffRatio},
		{"climb ratio", c.ClimbRatio},
		{"arrival fraction", c.ArrivalFraction},
	} {
		if !(f.v > 0) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%s must be positive, got %v", f.name, f.v)
		}
	}
	if c.TakeoffTolerance < 0 {
		return fmt.Errorf("takeoff tolerance must not be negative, got %v", c.TakeoffTolerance)
	}
	if c.LandedAltitude < 0 {
		return fmt.Errorf("landed altitude must not be negative, got %v", c.LandedAltitude)
	}
	if c.CruiseAltitude < c.TakeoffAltitude {
		return fmt.Errorf("cruise altitude %v must not be below takeoff altitude %v", c.CruiseAltitude, c.TakeoffAltitude)
	}
	if !c.TargetOffset.Finite() || c.TargetOffset.Length() == 0 {
		return fmt.Errorf("target offset must be finite and non-zero, got %+v", c.TargetOffset)
	}
	if c.Survey.Enabled && (c.Survey.Pitch < -90 || c.Survey.Pitch > 30) {
		return fmt.Errorf("survey pitch must be within [-90, 30], got %v", c.Survey.Pitch)
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("retry interval must be positive, got %v", c.RetryInterval)
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("command timeout must be positive, got %v", c.CommandTimeout)
	}
	return nil
}

// ArrivalRadius is the planar distance to the goal counted as arrived.
func (c Config) ArrivalRadius() float64 {
	return c.TargetOffset.Length() * c.ArrivalFraction
}
