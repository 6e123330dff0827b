// Package engine runs tool calls against many backends at once.
//
// An Engine bounds concurrency with a weighted semaphore, refuses calls to
// backends whose circuit breaker is open, retries transient failures, and
// applies a per-call timeout. Results come back in the order the requests
// were given.
//
// Admission is ordered by priority: once every slot is taken, waiting calls
// are admitted CRITICAL first whenever a slot frees up. While the dispatcher
// loop runs, batches and calls fed through Submit share one queue.
//
// Example usage:
//
//	eng := engine.New(
//		engine.WithExecutor(executor),
//		engine.WithMaxConcurrency(10),
//		engine.WithPool(connPool),
//	)
//	results, err := eng.ExecuteParallel(ctx, requests)
package engine
