// Package strategy defines how the load balancer picks one backend out of a
// set of interchangeable candidates:
//
//   - Round Robin: Sequential distribution across candidates
//   - Random: Random candidate selection
//   - Least Connections: Fewest in-flight tool calls
//   - Least Response Time: Lowest EWMA latency weighted by in-flight calls
//   - Consistent Hash: Stable backend per routing key
//   - Weighted Round Robin: Distribution proportional to backend weights
//
// Strategies never look at health or success rate; the balancer filters
// candidates before handing them over.
package strategy
