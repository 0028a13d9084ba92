package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/flight-control/fcc/internal/vehicle"
)

// Validate checks every section and the flight settings derived from them.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateHub(cfg); err != nil {
		return fmt.Errorf("hub validation failed: %w", err)
	}
	if err := validateVehicle(cfg); err != nil {
		return fmt.Errorf("vehicle validation failed: %w", err)
	}
	if err := validateTiming(cfg); err != nil {
		return fmt.Errorf("timing validation failed: %w", err)
	}
	if err := cfg.FlightSettings().Validate(); err != nil {
		return fmt.Errorf("flight validation failed: %w", err)
	}
	if err := validateLog(cfg); err != nil {
		return fmt.Errorf("log validation failed: %w", err)
	}
	return nil
}

func validateHub(cfg *Config) error {
	u, err := url.Parse(cfg.Hub.Address)
	if err != nil || u.Host == "" {
		return fmt.Errorf("address %q is not a URL with a host", cfg.Hub.Address)
	}
	switch cfg.Hub.Transport {
	case "websocket":
		switch u.Scheme {
		case "ws", "wss", "http", "https":
		default:
			return fmt.Errorf("websocket transport needs a ws, wss, http or https address, got %q", u.Scheme)
		}
	case "grpc":
	default:
		return fmt.Errorf("transport must be websocket or grpc, got %q", cfg.Hub.Transport)
	}
	if cfg.Actor.ID == "" {
		return fmt.Errorf("actor id must be set")
	}
	if cfg.Actor.Module == "" {
		return fmt.Errorf("actor module must be set")
	}
	return nil
}

func validateVehicle(cfg *Config) error {
	if _, err := vehicle.ParseTransportKind(cfg.Vehicle.Transport); err != nil {
		return err
	}
	if cfg.Vehicle.Address == "" {
		return fmt.Errorf("address must be set")
	}
	if cfg.Vehicle.SettleDelay < 0 {
		return fmt.Errorf("settle delay must not be negative, got %v", cfg.Vehicle.SettleDelay.D())
	}
	return nil
}

func validateTiming(cfg *Config) error {
	if cfg.Timing.RetryInterval <= 0 {
		return fmt.Errorf("retry interval must be positive, got %v", cfg.Timing.RetryInterval.D())
	}
	if cfg.Timing.CommandTimeout <= 0 {
		return fmt.Errorf("command timeout must be positive, got %v", cfg.Timing.CommandTimeout.D())
	}
	if cfg.Timing.FlightTimeout < 0 {
		return fmt.Errorf("flight timeout must not be negative, got %v", cfg.Timing.FlightTimeout.D())
	}
	return nil
}

func validateLog(cfg *Config) error {
	if _, err := ParseLevel(cfg.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("format must be text or json, got %q", cfg.Log.Format)
	}
	if cfg.Log.File != "" && cfg.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("max size must be positive, got %d", cfg.Log.MaxSizeMB)
	}
	return nil
}

// ParseLevel maps debug, info, warn and error onto slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
