package backend

import (
	"fmt"
	"time"
)

// TransportKind identifies the transport family used by a Descriptor.
type TransportKind string

const (
	TransportStdio TransportKind = "stdio"
	TransportHTTP  TransportKind = "http"
)

// Descriptor declares how to reach one backend MCP server. It is supplied by
// configuration and treated as immutable for the duration of a mount attempt.
type Descriptor struct {
	// Name uniquely identifies the backend across the aggregator.
	Name string `json:"name"`
	// Source records where the server came from (package URL, repository,
	// catalog listing). Informational only.
	Source string `json:"source,omitempty"`
	// Prefix is the desired namespace prefix. Empty means the prefix is
	// derived from Name; see the aggregator's prefix policy.
	Prefix string `json:"prefix,omitempty"`
	// Notes carries free-form setup hints for humans.
	Notes string `json:"notes,omitempty"`
	// Enabled gates mounting. Disabled descriptors are tracked but never
	// connected.
	Enabled bool `json:"enabled"`

	// Command, Args, Env, and WorkingDir describe a server spawned as a
	// local process speaking stdio.
	Command    string            `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	WorkingDir string            `json:"working_dir,omitempty"`

	// Endpoint describes a server reachable over Streamable HTTP or SSE.
	Endpoint string `json:"endpoint,omitempty"`

	// Timeout bounds individual protocol calls against this backend. Zero
	// falls back to the dialer's default.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Kind returns the transport family the descriptor resolves to, preferring
// the spawned command when both are set. An empty kind means the descriptor
// names no way to reach the server.
func (d Descriptor) Kind() TransportKind {
	switch {
	case d.Command != "":
		return TransportStdio
	case d.Endpoint != "":
		return TransportHTTP
	default:
		return ""
	}
}

// Validate reports whether the descriptor is complete enough to dial.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("backend: descriptor has no name")
	}
	if d.Kind() == "" {
		return fmt.Errorf("backend: descriptor %q has neither command nor endpoint", d.Name)
	}
	return nil
}
