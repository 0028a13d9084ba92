// Package hubsim is an in-process actor hub. It hosts simulated vehicle
// actors and serves callers over websocket and gRPC, so the controller can
// be exercised end to end without a real flight controller.
package hubsim
