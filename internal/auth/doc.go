// Package auth signs and verifies the bearer tokens callers present to the
// hub and to the status API.
//
//   - pilot: may call actor modules (scope fly) and read flight status
//   - viewer: read-only status and event stream
package auth
