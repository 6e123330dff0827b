// Package healthcheck probes backends on an interval and feeds the result to
// the load balancer, so unhealthy backends stop receiving candidate traffic.
// Probing is pluggable: MCP ping through mcpexec, or a plain HTTP GET against
// a health endpoint.
package healthcheck
