package aggregator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nradchenko/mcp-aggregator-go/pkg/backend"
)

// RefreshFunc re-fetches one cached inventory for a backend. The manager
// installs it so the coordinator can refresh before forwarding without
// owning the mount table.
type RefreshFunc func(ctx context.Context, backendName string, kind Kind) error

// Coordinator sits between backend notification callbacks and the router.
// For list-changed kinds it refreshes the backend's cached inventory first,
// exactly once per notification, then dispatches. Other kinds pass straight
// through. Per-backend ordering follows the callback order; there is no
// cross-backend ordering and no coalescing.
type Coordinator struct {
	router *Router
	logger *slog.Logger

	mu      sync.RWMutex
	refresh RefreshFunc
}

// NewCoordinator wires a coordinator to its router. A nil logger falls back
// to slog.Default().
func NewCoordinator(router *Router, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{router: router, logger: logger}
}

// Router exposes the registry so callers can attach the frontend sink.
func (c *Coordinator) Router() *Router { return c.router }

// SetRefresh installs the inventory refresher.
func (c *Coordinator) SetRefresh(fn RefreshFunc) {
	c.mu.Lock()
	c.refresh = fn
	c.mu.Unlock()
}

// Forward processes one envelope. A failed refresh is logged and does not
// block delivery: the frontend still learns the inventory changed.
func (c *Coordinator) Forward(ctx context.Context, env Envelope) {
	if env.listChanged() {
		c.mu.RLock()
		refresh := c.refresh
		c.mu.RUnlock()
		if refresh != nil {
			if err := refresh(ctx, env.Backend, env.Kind); err != nil {
				c.logger.Warn("inventory refresh failed",
					"backend", env.Backend,
					"kind", string(env.Kind),
					"error", err)
			}
		}
	}
	c.router.Dispatch(ctx, env)
}

// Handlers builds the per-backend notification callbacks: one adapter per
// kind, each wrapping the payload in an envelope stamped with the backend
// name and handing it to Forward.
func (c *Coordinator) Handlers(backendName string) backend.NotificationHandlers {
	forward := func(ctx context.Context, env Envelope) {
		env.Backend = backendName
		c.Forward(ctx, env)
	}
	return backend.NotificationHandlers{
		ToolListChanged: func(ctx context.Context) {
			forward(ctx, Envelope{Kind: KindToolListChanged})
		},
		ResourceListChanged: func(ctx context.Context) {
			forward(ctx, Envelope{Kind: KindResourceListChanged})
		},
		PromptListChanged: func(ctx context.Context) {
			forward(ctx, Envelope{Kind: KindPromptListChanged})
		},
		ResourceUpdated: func(ctx context.Context, params *mcp.ResourceUpdatedNotificationParams) {
			forward(ctx, Envelope{Kind: KindResourceUpdated, ResourceUpdated: params})
		},
		Progress: func(ctx context.Context, params *mcp.ProgressNotificationParams) {
			forward(ctx, Envelope{Kind: KindProgress, Progress: params})
		},
		LoggingMessage: func(ctx context.Context, params *mcp.LoggingMessageParams) {
			forward(ctx, Envelope{Kind: KindLoggingMessage, Logging: params})
		},
	}
}
