// Package backend wraps a single connection to one backend MCP server. A
// Descriptor declares how the server is reached (a spawned command or a
// remote HTTP endpoint), and a Session exposes the protocol operations the
// aggregator core needs: listing tools, resources, and prompts, invoking
// tools, reading resources, liveness pings, and teardown. Asynchronous
// notifications emitted by the backend are delivered through the
// NotificationHandlers registered when the session is dialed.
package backend
