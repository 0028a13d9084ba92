// Package audit writes the flight audit trail as JSON lines.
package audit
