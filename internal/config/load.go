package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// EnvConfigFile names the config file when Load is given no path.
const EnvConfigFile = "FCC_CONFIG"

// Load merges Defaults() + optional YAML file + FCC_* env overrides and
// validates the result. An empty path falls back to $FCC_CONFIG; with
// neither set only defaults and environment apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// loadFromFile overlays a YAML file; keys it omits keep their values.
func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

type envBinding struct {
	key   string
	apply func(string) error
}

func str(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func float(dst *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst = f
		return nil
	}
}

func integer(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func boolean(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func duration(dst *Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = Duration(d)
		return nil
	}
}

// applyEnvOverrides applies FCC_* environment variables to cfg. A value
// that does not parse is an error rather than silently ignored.
func applyEnvOverrides(cfg *Config) error {
	bindings := []envBinding{
		{"FCC_HUB_ADDRESS", str(&cfg.Hub.Address)},
		{"FCC_HUB_TRANSPORT", str(&cfg.Hub.Transport)},
		{"FCC_HUB_SECRET", str(&cfg.Hub.Secret)},
		{"FCC_HUB_SUBJECT", str(&cfg.Hub.Subject)},
		{"FCC_ACTOR_ID", str(&cfg.Actor.ID)},
		{"FCC_ACTOR_MODULE", str(&cfg.Actor.Module)},
		{"FCC_VEHICLE_TRANSPORT", str(&cfg.Vehicle.Transport)},
		{"FCC_VEHICLE_ADDRESS", str(&cfg.Vehicle.Address)},
		{"FCC_TARGET_MODE", str(&cfg.Vehicle.TargetMode)},
		{"FCC_SETTLE_DELAY", duration(&cfg.Vehicle.SettleDelay)},
		{"FCC_RECIPE", str(&cfg.Flight.Recipe)},
		{"FCC_TAKEOFF_ALTITUDE", float(&cfg.Flight.TakeoffAltitude)},
		{"FCC_CRUISE_ALTITUDE", float(&cfg.Flight.CruiseAltitude)},
		{"FCC_TARGET_OFFSET_X", float(&cfg.Flight.TargetOffset.X)},
		{"FCC_TARGET_OFFSET_Y", float(&cfg.Flight.TargetOffset.Y)},
		{"FCC_LANDED_ALTITUDE", float(&cfg.Flight.LandedAltitude)},
		{"FCC_CIRCLE_RADIUS", float(&cfg.Flight.Circle.Radius)},
		{"FCC_CIRCLE_TURNS", integer(&cfg.Flight.Circle.Turns)},
		{"FCC_SURVEY", boolean(&cfg.Flight.Survey.Enabled)},
		{"FCC_SURVEY_PITCH", float(&cfg.Flight.Survey.Pitch)},
		{"FCC_RETRY_INTERVAL", duration(&cfg.Timing.RetryInterval)},
		{"FCC_COMMAND_TIMEOUT", duration(&cfg.Timing.CommandTimeout)},
		{"FCC_FLIGHT_TIMEOUT", duration(&cfg.Timing.FlightTimeout)},
		{"FCC_LOG_LEVEL", str(&cfg.Log.Level)},
		{"FCC_LOG_FORMAT", str(&cfg.Log.Format)},
		{"FCC_LOG_FILE", str(&cfg.Log.File)},
		{"FCC_AUDIT_FILE", str(&cfg.Audit.File)},
		{"FCC_RECORDER_PATH", str(&cfg.Recorder.Path)},
		{"FCC_STATUS_ADDR", str(&cfg.Status.Addr)},
	}

	for _, b := range bindings {
		val, ok := os.LookupEnv(b.key)
		if !ok || val == "" {
			continue
		}
		if err := b.apply(val); err != nil {
			return fmt.Errorf("%s=%q: %w", b.key, val, err)
		}
	}
	return nil
}

// GetEnvVar returns the value of an environment variable with a default.
func GetEnvVar(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvDuration returns the value of an environment variable as a duration with a default.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
