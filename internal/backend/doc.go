// Package backend tracks the observable state of a tool backend: health,
// in-flight calls, outcome counters and EWMA latency. The load balancer and
// its strategies select among these.
package backend
