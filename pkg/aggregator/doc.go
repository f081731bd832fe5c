// Package aggregator mounts many backend MCP servers behind one frontend.
// The Manager owns the mount table: each mounted backend gets a namespace
// prefix, its tools, resources, and prompts are exposed under namespaced
// identifiers, and tool calls are routed back to the owning backend by
// splitting the namespaced name. Notifications emitted by backends travel
// through a Coordinator that refreshes the cached inventory for list-changed
// kinds and a Router that delivers envelopes to the frontend sink.
package aggregator
