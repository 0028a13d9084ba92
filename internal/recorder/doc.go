// Package recorder keeps a per-flight record of telemetry, transitions and
// commands in a sqlite database.
package recorder
