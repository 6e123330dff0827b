// Package handler exposes the dispatcher over HTTP: batch submission on
// /v1/dispatch, engine stats, liveness, and metrics in JSON and Prometheus
// form.
package handler
