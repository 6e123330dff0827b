// Package circuitbreaker isolates failing tool backends.
//
// Each backend gets its own breaker with three states:
//
//   - CLOSED: calls pass through; failure_threshold consecutive failures open it
//   - OPEN: calls are rejected until recovery_timeout has elapsed since the last failure
//   - HALF_OPEN: probe calls pass; success_threshold consecutive successes close it,
//     any failure re-opens it
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())
//	cb := registry.GetBreaker("github")
//	if cb.Allow() {
//	    // Call the backend...
//	    if err != nil {
//	        cb.RecordFailure()
//	    } else {
//	        cb.RecordSuccess()
//	    }
//	}
package circuitbreaker
