// Package logging builds the process slog.Logger.
package logging
