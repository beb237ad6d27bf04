// Package logging provides the slog-based structured logging used across
// conveyor: a console handler for interactive use, a JSON handler for
// machine consumption, typed attribute helpers, and standardized field keys
// so job/stage context stays queryable across components.
package logging
