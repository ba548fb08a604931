// Package logging builds the shared slog logger and provides attribute
// helpers and standardized field keys used across cardiolink components.
package logging
