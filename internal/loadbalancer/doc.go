// Package loadbalancer picks a backend for a tool call that may run on any
// of several interchangeable backends. Candidates that are unhealthy or whose
// success rate fell below a floor are skipped before the strategy chooses.
package loadbalancer
