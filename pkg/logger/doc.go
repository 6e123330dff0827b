// Package logger builds the process-wide slog.Logger: JSON records in
// production, human-readable text elsewhere.
package logger
