// Package logging builds the structured logger used across the service.
//
// The logger is a standard *slog.Logger with the level and output format
// taken from configuration. Components derive their own loggers with
// logger.With("component", name) so every line carries its origin.
package logging
