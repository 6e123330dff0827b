// Package failure defines the error taxonomy used across the dispatcher.
//
// Every failure raised while dispatching a tool call carries an explicit Kind.
// Retry decisions are made from the Kind alone:
//
//   - Connection: transient transport failure, retryable
//   - Timeout: deadline exceeded, retryable up to the retry policy limit
//   - CircuitOpen: backend isolated by its breaker, never retried
//   - CapacityExceeded: pool or queue full, the caller backs off
//   - Executor: opaque executor failure, retryable only if it wraps a
//     Connection or Timeout failure
//   - Canceled: the batch context was canceled
package failure
