// Package httpserver wraps http.Server with address validation and graceful
// shutdown.
package httpserver
