// Package sim simulates an ArduCopter actor: it answers the vehicle
// module's methods, flies a point-mass model and emits the actor's events.
package sim
