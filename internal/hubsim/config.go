package hubsim

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/flight-control/fcc/internal/auth"
	"github.com/flight-control/fcc/internal/config"
	"github.com/flight-control/fcc/internal/sim"
)

// EnvConfigFile names a YAML file loaded over the defaults.
const EnvConfigFile = "HUBSIM_CONFIG"

// Config is the simulated hub's configuration.
type Config struct {
	Network  NetworkConfig    `yaml:"network"`
	Auth     AuthConfig       `yaml:"auth"`
	Vehicles []VehicleConfig  `yaml:"vehicles"`
	Log      config.LogConfig `yaml:"log"`
}

// NetworkConfig holds listener settings.
type NetworkConfig struct {
	HTTPAddr     string   `yaml:"httpAddr"`
	GRPCAddr     string   `yaml:"grpcAddr"`
	AllowedCIDRs []string `yaml:"allowedCidrs"`
}

// AuthConfig enables caller tokens. HS256 uses SecretKey, RS256 reads
// PublicKeyFile.
type AuthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Algorithm     string `yaml:"algorithm"`
	SecretKey     string `yaml:"secretKey"`
	PublicKeyFile string `yaml:"publicKeyFile"`
}

// VehicleConfig describes one simulated copter.
type VehicleConfig struct {
	ID            string     `yaml:"id"`
	Home          [3]float64 `yaml:"home"`
	TickMs        int        `yaml:"tickMs"`
	ClimbRate     float64    `yaml:"climbRate"`
	Speed         float64    `yaml:"speed"`
	PositionEvery int        `yaml:"positionEvery"`
	DropRate      float64    `yaml:"dropRate"`
	DropFirst     int        `yaml:"dropFirst"`
	Seed          int64      `yaml:"seed"`
}

// DefaultConfig hosts a single copter on :8080 and :8081.
func DefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			HTTPAddr: ":8080",
			GRPCAddr: ":8081",
		},
		Auth: AuthConfig{Algorithm: auth.AlgHS256},
		Vehicles: []VehicleConfig{
			vehicleDefaults(sim.DefaultConfig()),
		},
		Log: config.Defaults().Log,
	}
}

func vehicleDefaults(c sim.Config) VehicleConfig {
	return VehicleConfig{
		ID:            c.ID,
		Home:          c.Home,
		TickMs:        int(c.Tick / time.Millisecond),
		ClimbRate:     c.ClimbRate,
		Speed:         c.Speed,
		PositionEvery: c.PositionEvery,
		Seed:          c.Seed,
	}
}

// SimConfig converts v to the copter's settings.
func (v VehicleConfig) SimConfig() sim.Config {
	cfg := sim.DefaultConfig()
	cfg.ID = v.ID
	cfg.Home = v.Home
	if v.TickMs > 0 {
		cfg.Tick = time.Duration(v.TickMs) * time.Millisecond
	}
	if v.ClimbRate > 0 {
		cfg.ClimbRate = v.ClimbRate
	}
	if v.Speed > 0 {
		cfg.Speed = v.Speed
	}
	if v.PositionEvery > 0 {
		cfg.PositionEvery = v.PositionEvery
	}
	cfg.DropRate = v.DropRate
	cfg.DropFirst = v.DropFirst
	cfg.Seed = v.Seed
	return cfg
}

// Load reads defaults, then path (if set), then HUBSIM_CONFIG, then the
// HUBSIM_* overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}
	if env := os.Getenv(EnvConfigFile); env != "" {
		if err := loadFromFile(cfg, env); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", env, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides applies HUBSIM_* variables. Drop settings apply to
// every vehicle.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("HUBSIM_HTTP_ADDR"); v != "" {
		cfg.Network.HTTPAddr = v
	}
	if v := os.Getenv("HUBSIM_GRPC_ADDR"); v != "" {
		cfg.Network.GRPCAddr = v
	}
	if v := os.Getenv("HUBSIM_SECRET_KEY"); v != "" {
		cfg.Auth.Enabled = true
		cfg.Auth.Algorithm = auth.AlgHS256
		cfg.Auth.SecretKey = v
	}
	if v := os.Getenv("HUBSIM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("HUBSIM_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("HUBSIM_DROP_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid HUBSIM_DROP_RATE %q: %w", v, err)
		}
		for i := range cfg.Vehicles {
			cfg.Vehicles[i].DropRate = rate
		}
	}
	if v := os.Getenv("HUBSIM_DROP_FIRST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid HUBSIM_DROP_FIRST %q: %w", v, err)
		}
		for i := range cfg.Vehicles {
			cfg.Vehicles[i].DropFirst = n
		}
	}
	return nil
}

// Validate checks listeners, auth and vehicles.
func (c *Config) Validate() error {
	if c.Network.HTTPAddr == "" && c.Network.GRPCAddr == "" {
		return fmt.Errorf("at least one of httpAddr and grpcAddr must be set")
	}
	if _, err := c.AllowedNets(); err != nil {
		return err
	}

	if c.Auth.Enabled {
		switch c.Auth.Algorithm {
		case auth.AlgHS256:
			if c.Auth.SecretKey == "" {
				return fmt.Errorf("auth: HS256 requires secretKey")
			}
		case auth.AlgRS256:
			if c.Auth.PublicKeyFile == "" {
				return fmt.Errorf("auth: RS256 requires publicKeyFile")
			}
		default:
			return fmt.Errorf("auth: unsupported algorithm %q", c.Auth.Algorithm)
		}
	}

	if _, err := config.ParseLevel(c.Log.Level); err != nil {
		return err
	}

	if len(c.Vehicles) == 0 {
		return fmt.Errorf("at least one vehicle must be configured")
	}
	seen := make(map[string]bool)
	for i, v := range c.Vehicles {
		if v.ID == "" {
			return fmt.Errorf("vehicle %d: id is required", i)
		}
		if seen[v.ID] {
			return fmt.Errorf("vehicle %d: duplicate id %s", i, v.ID)
		}
		seen[v.ID] = true
		if v.DropRate < 0 || v.DropRate >= 1 {
			return fmt.Errorf("vehicle %s: dropRate %v outside [0, 1)", v.ID, v.DropRate)
		}
		if v.DropFirst < 0 || v.TickMs < 0 || v.ClimbRate < 0 || v.Speed < 0 || v.PositionEvery < 0 {
			return fmt.Errorf("vehicle %s: negative setting", v.ID)
		}
	}
	return nil
}

// AllowedNets parses AllowedCIDRs.
func (c *Config) AllowedNets() ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(c.Network.AllowedCIDRs))
	for _, cidr := range c.Network.AllowedCIDRs {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed CIDR %q: %w", cidr, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// Verifier builds the token verifier, or nil when auth is disabled.
func (c *Config) Verifier() (*auth.Verifier, error) {
	if !c.Auth.Enabled {
		return nil, nil
	}
	vc := auth.VerifierConfig{Algorithm: c.Auth.Algorithm, SecretKey: c.Auth.SecretKey}
	if c.Auth.PublicKeyFile != "" {
		pem, err := os.ReadFile(c.Auth.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read public key: %w", err)
		}
		vc.PublicKeyPEM = string(pem)
	}
	return auth.NewVerifier(vc)
}
