// Package mcpexec connects the engine to MCP tool servers over streamable
// HTTP. It provides the pool Dialer that opens and initializes client
// sessions, the Executor that turns a tool call into tools/call on a pooled
// session, and a Prober that pings backends for the health monitor.
package mcpexec
