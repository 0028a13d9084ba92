package config

import (
	"fmt"
	"time"

	"github.com/flight-control/fcc/internal/flight"
	"github.com/flight-control/fcc/internal/geo"
)

// Config is the complete controller configuration.
type Config struct {
	Hub      HubConfig      `yaml:"hub"`
	Actor    ActorConfig    `yaml:"actor"`
	Vehicle  VehicleConfig  `yaml:"vehicle"`
	Flight   FlightConfig   `yaml:"flight"`
	Timing   TimingConfig   `yaml:"timing"`
	Log      LogConfig      `yaml:"log"`
	Audit    AuditConfig    `yaml:"audit"`
	Recorder RecorderConfig `yaml:"recorder"`
	Status   StatusConfig   `yaml:"status"`
}

// HubConfig locates the hub and the credentials presented to it.
type HubConfig struct {
	Address   string `yaml:"address"`
	Transport string `yaml:"transport"`
	Secret    string `yaml:"secret"`
	Subject   string `yaml:"subject"`
}

// ActorConfig names the vehicle actor and its module on the hub.
type ActorConfig struct {
	ID     string `yaml:"id"`
	Module string `yaml:"module"`
}

// VehicleConfig describes the link between actor and flight controller.
type VehicleConfig struct {
	Transport   string   `yaml:"transport"`
	Address     string   `yaml:"address"`
	TargetMode  string   `yaml:"target_mode"`
	SettleDelay Duration `yaml:"settle_delay"`
}

// FlightConfig holds the recipe and its altitudes.
type FlightConfig struct {
	Recipe           string       `yaml:"recipe"`
	TakeoffAltitude  float64      `yaml:"takeoff_altitude"`
	CruiseAltitude   float64      `yaml:"cruise_altitude"`
	TargetOffset     geo.Offset   `yaml:"target_offset"`
	LandedAltitude   float64      `yaml:"landed_altitude"`
	ClimbRatio       float64      `yaml:"climb_ratio"`
	TakeoffRatio     float64      `yaml:"takeoff_ratio"`
	TakeoffTolerance float64      `yaml:"takeoff_tolerance"`
	ArrivalFraction  float64      `yaml:"arrival_fraction"`
	Circle           CircleConfig `yaml:"circle"`
	Survey           SurveyConfig `yaml:"survey"`
}

// SurveyConfig turns on gimbal and video recording over the transit leg.
type SurveyConfig struct {
	Enabled bool    `yaml:"enabled"`
	Pitch   float64 `yaml:"pitch"`
	Yaw     float64 `yaml:"yaw"`
}

// CircleConfig is the loop mission's circle around the goal.
type CircleConfig struct {
	Radius float64 `yaml:"radius"`
	Turns  int     `yaml:"turns"`
}

// TimingConfig holds resend, command and watchdog durations.
type TimingConfig struct {
	RetryInterval  Duration `yaml:"retry_interval"`
	CommandTimeout Duration `yaml:"command_timeout"`
	// FlightTimeout of zero disables the watchdog.
	FlightTimeout Duration `yaml:"flight_timeout"`
}

// LogConfig selects level, format and optional rotating file output.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// AuditConfig enables the JSONL audit trail when File is set.
type AuditConfig struct {
	File string `yaml:"file"`
}

// RecorderConfig enables the sqlite flight recorder when Path is set.
type RecorderConfig struct {
	Path string `yaml:"path"`
}

// StatusConfig enables the status API when Addr is set.
type StatusConfig struct {
	Addr string `yaml:"addr"`
}

// Duration is a time.Duration written as "10s" in YAML.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// UnmarshalYAML accepts integer seconds and duration strings.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var secs int64
	if err := unmarshal(&secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	var s string
	if err := unmarshal(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\" or integer seconds")
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Defaults returns the baseline configuration.
func Defaults() *Config {
	fc := flight.DefaultConfig()
	return &Config{
		Hub: HubConfig{
			Address:   "ws://localhost:8080",
			Transport: "websocket",
			Subject:   "fcc",
		},
		Actor: ActorConfig{
			ID:     "arducopter:1",
			Module: "ArduCopter",
		},
		Vehicle: VehicleConfig{
			Transport:   "udp",
			Address:     "localhost:14551",
			TargetMode:  fc.TargetMode,
			SettleDelay: Duration(3 * time.Second),
		},
		Flight: FlightConfig{
			Recipe:           string(fc.Recipe),
			TakeoffAltitude:  fc.TakeoffAltitude,
			CruiseAltitude:   fc.CruiseAltitude,
			TargetOffset:     fc.TargetOffset,
			LandedAltitude:   fc.LandedAltitude,
			ClimbRatio:       fc.ClimbRatio,
			TakeoffRatio:     fc.TakeoffRatio,
			TakeoffTolerance: fc.TakeoffTolerance,
			ArrivalFraction:  fc.ArrivalFraction,
			Circle:           CircleConfig{Radius: fc.CircleRadius, Turns: fc.CircleTurns},
			Survey:           SurveyConfig{Enabled: fc.Survey.Enabled, Pitch: fc.Survey.Pitch, Yaw: fc.Survey.Yaw},
		},
		Timing: TimingConfig{
			RetryInterval:  Duration(fc.RetryInterval),
			CommandTimeout: Duration(fc.CommandTimeout),
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// FlightSettings converts the flight and timing sections for the controller.
func (c *Config) FlightSettings() flight.Config {
	return flight.Config{
		Recipe:           flight.Recipe(c.Flight.Recipe),
		TargetMode:       c.Vehicle.TargetMode,
		TakeoffAltitude:  c.Flight.TakeoffAltitude,
		CruiseAltitude:   c.Flight.CruiseAltitude,
		TargetOffset:     c.Flight.TargetOffset,
		LandedAltitude:   c.Flight.LandedAltitude,
		TakeoffRatio:     c.Flight.TakeoffRatio,
		TakeoffTolerance: c.Flight.TakeoffTolerance,
		ClimbRatio:       c.Flight.ClimbRatio,
		ArrivalFraction:  c.Flight.ArrivalFraction,
		CircleRadius:     c.Flight.Circle.Radius,
		CircleTurns:      c.Flight.Circle.Turns,
		Survey: flight.Survey{
			Enabled: c.Flight.Survey.Enabled,
			Pitch:   c.Flight.Survey.Pitch,
			Yaw:     c.Flight.Survey.Yaw,
		},
		RetryInterval:  c.Timing.RetryInterval.D(),
		CommandTimeout: c.Timing.CommandTimeout.D(),
	}
}
