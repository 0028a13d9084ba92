// Package vehicletest runs the behaviour every vehicle.Port must share
// against any implementation.
package vehicletest
