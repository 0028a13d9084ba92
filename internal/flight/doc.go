// Package flight sequences vehicle commands against observed telemetry:
// a phase state machine that arms, takes off, climbs, transits and lands a
// vehicle, or uploads and runs a mission, and re-issues the commands a
// vehicle may silently drop until their effect shows up in telemetry.
//
// Every command failure is fatal. A lost hub session fails the flight with
// a transport error. Any disarm ends it: after landing or during a mission
// as completed, anywhere else as aborted. Whatever the outcome, teardown
// disconnects the vehicle and then the hub session exactly once.
//
// With a survey configured, the gimbal is pointed and video recorded for
// the length of the transit leg.
package flight
