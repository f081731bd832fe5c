package aggregator

import (
	"context"
	"log/slog"
	"testing"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.DiscardHandler)
}

func TestRouterDispatchToFrontend(t *testing.T) {
	t.Parallel()

	router := NewRouter(testLogger(t))
	router.Register("calc", func(context.Context, Envelope) {})

	var got []Envelope
	router.Register(FrontendKey, func(_ context.Context, env Envelope) {
		got = append(got, env)
	})

	router.Dispatch(t.Context(), Envelope{Backend: "calc", Kind: KindToolListChanged})
	if len(got) != 1 || got[0].Backend != "calc" || got[0].Kind != KindToolListChanged {
		t.Fatalf("dispatched envelopes = %+v", got)
	}
}

func TestRouterDropsWithoutSink(t *testing.T) {
	t.Parallel()

	router := NewRouter(testLogger(t))
	router.Register("calc", func(context.Context, Envelope) {})

	// No frontend sink: must not panic or block.
	router.Dispatch(t.Context(), Envelope{Backend: "calc", Kind: KindProgress})
}

func TestRouterDropsFromUnregisteredBackend(t *testing.T) {
	t.Parallel()

	router := NewRouter(testLogger(t))
	delivered := 0
	router.Register(FrontendKey, func(context.Context, Envelope) { delivered++ })
	router.Register("calc", func(context.Context, Envelope) {})

	router.Dispatch(t.Context(), Envelope{Backend: "calc", Kind: KindProgress})
	router.Unregister("calc")
	router.Dispatch(t.Context(), Envelope{Backend: "calc", Kind: KindProgress})

	if delivered != 1 {
		t.Errorf("delivered = %d, want 1 (post-unregister envelope dropped)", delivered)
	}
}

func TestRouterFrontendSinkReplaced(t *testing.T) {
	t.Parallel()

	router := NewRouter(testLogger(t))
	router.Register("calc", func(context.Context, Envelope) {})

	first, second := 0, 0
	router.Register(FrontendKey, func(context.Context, Envelope) { first++ })
	router.Register(FrontendKey, func(context.Context, Envelope) { second++ })

	router.Dispatch(t.Context(), Envelope{Backend: "calc", Kind: KindLoggingMessage})
	if first != 0 || second != 1 {
		t.Errorf("first = %d, second = %d; want replacement to win", first, second)
	}
}

func TestRouterSwallowsSinkPanic(t *testing.T) {
	t.Parallel()

	router := NewRouter(testLogger(t))
	router.Register("calc", func(context.Context, Envelope) {})
	router.Register(FrontendKey, func(context.Context, Envelope) {
		panic("sink blew up")
	})

	router.Dispatch(t.Context(), Envelope{Backend: "calc", Kind: KindProgress})

	// The registry must still work after the panic.
	if !router.Registered("calc") {
		t.Error("backend registration lost after sink panic")
	}
}
