// Package telemetry turns the actor's named event stream into typed events
// and delivers them to listeners one at a time, in arrival order.
package telemetry
