// Package status serves the live state of a flight over HTTP.
//
// GET /api/v1/health needs no credentials. GET /api/v1/status returns a
// snapshot of the flight and GET /api/v1/events streams phase, command and
// telemetry events as server-sent events. A client that reconnects with
// Last-Event-ID receives the buffered events it missed.
package status
