package aggregator

import (
	"log/slog"
	"time"

	"github.com/nradchenko/mcp-aggregator-go/pkg/backend"
)

// Options configure a Manager. The zero value is usable: slog.Default(),
// the default separator, the production dialer, and a 5s health probe.
type Options struct {
	// Logger receives structured logs. Nil means slog.Default().
	Logger *slog.Logger

	// Prefix is the namespace policy applied to every mount.
	Prefix PrefixPolicy

	// Factory opens backend sessions. Nil means backend.Dial.
	Factory backend.Factory

	// CheckTimeout is the per-backend health probe deadline used when
	// Check is called with a non-positive timeout.
	CheckTimeout time.Duration
}

func (o *Options) withDefaults() Options {
	var out Options
	if o != nil {
		out = *o
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.Factory == nil {
		out.Factory = backend.Dial
	}
	if out.CheckTimeout <= 0 {
		out.CheckTimeout = 5 * time.Second
	}
	return out
}
