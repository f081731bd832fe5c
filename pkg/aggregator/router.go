package aggregator

import (
	"context"
	"log/slog"
	"sync"
)

// FrontendKey is the reserved subscriber key for the frontend sink. Backend
// subscribers register under their backend name.
const FrontendKey = ""

// Sink consumes envelopes delivered to the frontend.
type Sink func(ctx context.Context, env Envelope)

// Router is the synchronized subscriber registry. Backend registrations act
// as liveness gates: Dispatch drops envelopes whose origin is no longer
// registered, so an unmount that deregisters its backend also silences any
// notification still in flight.
type Router struct {
	logger *slog.Logger

	mu    sync.Mutex
	sinks map[string]Sink
}

// NewRouter returns an empty registry. A nil logger falls back to
// slog.Default().
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger: logger,
		sinks:  make(map[string]Sink),
	}
}

// Register adds a subscriber under key. Registering the frontend sink while
// one is already present replaces it; the replacement is logged because it
// usually means two frontends are fighting over the same aggregator.
func (r *Router) Register(key string, sink Sink) {
	r.mu.Lock()
	_, replaced := r.sinks[key]
	r.sinks[key] = sink
	r.mu.Unlock()
	if replaced && key == FrontendKey {
		r.logger.Warn("frontend sink replaced")
	}
}

// Unregister removes the subscriber under key. Unknown keys are a no-op.
func (r *Router) Unregister(key string) {
	r.mu.Lock()
	delete(r.sinks, key)
	r.mu.Unlock()
}

// Registered reports whether a subscriber exists under key.
func (r *Router) Registered(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sinks[key]
	return ok
}

// Dispatch delivers one envelope to the frontend sink. No sink, or an
// origin backend that has been deregistered, drops the envelope. A panicking
// sink is logged and swallowed; delivery is fire and forget, with no queue.
func (r *Router) Dispatch(ctx context.Context, env Envelope) {
	r.mu.Lock()
	sink := r.sinks[FrontendKey]
	_, originLive := r.sinks[env.Backend]
	r.mu.Unlock()

	if sink == nil || !originLive {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("frontend sink panicked",
				"backend", env.Backend,
				"kind", string(env.Kind),
				"panic", rec)
		}
	}()
	sink(ctx, env)
}
