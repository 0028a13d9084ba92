// Package session runs one flight end to end: it opens the hub session,
// prepares the vehicle and hands control to the phase state machine.
//
// Startup order: dial the hub, subscribe telemetry, connect the vehicle,
// wait for the link to settle, request the target mode, then run the
// controller until it terminates.
package session
