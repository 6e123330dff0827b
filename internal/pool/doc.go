// Package pool keeps reusable logical connections to tool backends.
//
// Connections are created lazily per backend up to a configured maximum and
// handed out round-robin. A connection that fails three releases in a row
// leaves the rotation, and a background sweeper closes connections that are
// inactive or have been idle longer than the configured limit.
//
// The pool never blocks waiting for capacity: Acquire returns a
// CapacityExceeded failure and the caller decides whether to wait, queue or
// fail.
package pool
