// Package logging builds slog loggers for reeler with two output formats: a
// human-oriented console handler and a JSON handler for log files. It also
// defines the standardized field names used across the codebase and helpers
// for deriving loggers from context correlation values.
package logging
