package aggregator

import "github.com/modelcontextprotocol/go-sdk/mcp"

// Kind tags the notification variant carried by an Envelope.
type Kind string

const (
	KindToolListChanged     Kind = "tool_list_changed"
	KindResourceListChanged Kind = "resource_list_changed"
	KindPromptListChanged   Kind = "prompt_list_changed"
	KindResourceUpdated     Kind = "resource_updated"
	KindProgress            Kind = "progress"
	KindLoggingMessage      Kind = "logging_message"
)

// Envelope is one backend-originated notification on its way to the
// frontend. Backend names the origin; exactly the payload field matching
// Kind is set, the rest stay nil. List-changed kinds have no payload.
type Envelope struct {
	Backend string
	Kind    Kind

	ResourceUpdated *mcp.ResourceUpdatedNotificationParams
	Progress        *mcp.ProgressNotificationParams
	Logging         *mcp.LoggingMessageParams
}

// listChanged reports whether the envelope invalidates a cached inventory.
func (e Envelope) listChanged() bool {
	switch e.Kind {
	case KindToolListChanged, KindResourceListChanged, KindPromptListChanged:
		return true
	}
	return false
}
