// Package config loads the flight controller configuration.
//
// Values are layered: baseline defaults, then an optional YAML file, then
// FCC_* environment overrides. The result is validated before use and
// converted into the settings each component takes.
package config
