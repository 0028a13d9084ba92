// Package fake provides an in-memory vehicle Port that records every
// command it receives.
package fake
