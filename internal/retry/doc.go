// Package retry re-issues a command whose effect is not reliably confirmed
// until the effect is observed.
//
// A Handle does not own a goroutine. Its owner selects on C() in the same
// loop that processes telemetry and calls Fire for each tick, so the done
// check and the state it reads are never touched concurrently.
package retry
