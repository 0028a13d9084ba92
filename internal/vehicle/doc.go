// Package vehicle defines the command surface of a remote flight-controller
// actor and the normalized errors its commands fail with.
package vehicle
