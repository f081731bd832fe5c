// Package gateway serves every backend mounted in an aggregator.Manager as
// one MCP server over Streamable HTTP. Namespaced tools, resources, and
// prompts are registered on the frontend server and kept in sync by
// draining the aggregator's message router; resource-updated notifications
// are forwarded to connected clients under their namespaced URIs.
package gateway
