package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"

	"github.com/nradchenko/mcp-aggregator-go/pkg/aggregator"
)

// Gateway exposes a Streamable MCP server fronting every backend mounted in
// an aggregator.Manager under a single HTTP endpoint.
type Gateway struct {
	manager *aggregator.Manager
	coord   *aggregator.Coordinator
	opts    Options

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	httpHandler   http.Handler

	// Registered definitions, keyed by namespaced name (URI for resources).
	// Kept so a resync can tell a changed definition from an unchanged one.
	serverMu  sync.Mutex
	tools     map[string]*mcp.Tool
	resources map[string]*mcp.Resource
	prompts   map[string]*mcp.Prompt

	httpServerMu sync.Mutex
	httpServer   *http.Server
}

// NewGateway builds a Gateway, registers the frontend sink on the
// aggregator's router, and synchronizes the initial inventory snapshot.
func NewGateway(manager *aggregator.Manager, coord *aggregator.Coordinator, opts *Options) (*Gateway, error) {
	if manager == nil {
		return nil, fmt.Errorf("gateway: manager is required")
	}
	if coord == nil {
		return nil, fmt.Errorf("gateway: coordinator is required")
	}
	options := opts.withDefaults()
	g := &Gateway{
		manager:   manager,
		coord:     coord,
		opts:      options,
		tools:     make(map[string]*mcp.Tool),
		resources: make(map[string]*mcp.Resource),
		prompts:   make(map[string]*mcp.Prompt),
	}

	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{
		HasTools:     true,
		HasPrompts:   true,
		HasResources: true,
	})
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)
	g.httpHandler = g.mountHandler()

	coord.Router().Register(aggregator.FrontendKey, g.handleEnvelope)
	g.SyncAll()

	return g, nil
}

// Handler exposes the HTTP handler that serves the Streamable endpoint.
func (g *Gateway) Handler() http.Handler {
	return g.httpHandler
}

// Server exposes the underlying MCP server, mainly so tests and embedders
// can connect over arbitrary transports.
func (g *Gateway) Server() *mcp.Server {
	return g.server
}

// ListenAndServe runs an HTTP server until the provided context is cancelled
// or the server stops.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.httpServerMu.Lock()
	if g.httpServer != nil {
		serv := g.httpServer
		g.httpServerMu.Unlock()
		return fmt.Errorf("gateway: server already running on %s", serv.Addr)
	}
	srv := &http.Server{Addr: g.opts.Addr, Handler: g.Handler()}
	g.httpServer = srv
	g.httpServerMu.Unlock()
	defer func() {
		g.httpServerMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.opts.SyncTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}

// SyncAll reconciles the frontend server with the aggregator's full
// namespaced inventory.
func (g *Gateway) SyncAll() {
	g.syncTools()
	g.syncResources()
	g.syncPrompts()
}

// handleEnvelope is the frontend sink. List-changed envelopes arrive after
// the coordinator refreshed the cached inventory, so a reconcile against the
// manager snapshot is all that remains.
func (g *Gateway) handleEnvelope(ctx context.Context, env aggregator.Envelope) {
	switch env.Kind {
	case aggregator.KindToolListChanged:
		g.syncTools()
	case aggregator.KindResourceListChanged:
		g.syncResources()
	case aggregator.KindPromptListChanged:
		g.syncPrompts()
	case aggregator.KindResourceUpdated:
		g.forwardResourceUpdate(ctx, env)
	case aggregator.KindProgress:
		if env.Progress != nil {
			g.opts.Logger.Debug("backend progress",
				"server", env.Backend,
				"token", env.Progress.ProgressToken,
				"progress", env.Progress.Progress)
		}
	case aggregator.KindLoggingMessage:
		if env.Logging != nil {
			g.opts.Logger.Debug("backend log message",
				"server", env.Backend,
				"level", string(env.Logging.Level))
		}
	}
}

func (g *Gateway) syncTools() {
	tools := g.manager.Tools()
	g.serverMu.Lock()
	defer g.serverMu.Unlock()

	current := make(map[string]struct{}, len(tools))
	for _, tool := range tools {
		current[tool.Name] = struct{}{}
		clone := *tool
		if clone.InputSchema == nil {
			clone.InputSchema = &jsonschema.Schema{Type: "object"}
		}
		if prev, ok := g.tools[tool.Name]; ok {
			if reflect.DeepEqual(prev, &clone) {
				continue
			}
			// Same name, changed definition: withdraw before re-adding so
			// clients see the fresh schema rather than the stale one.
			g.server.RemoveTools(tool.Name)
		}
		registered := clone
		g.server.AddTool(&clone, g.makeToolHandler(tool.Name))
		g.tools[tool.Name] = &registered
	}
	var removed []string
	for name := range g.tools {
		if _, ok := current[name]; !ok {
			removed = append(removed, name)
			delete(g.tools, name)
		}
	}
	if len(removed) > 0 {
		g.server.RemoveTools(removed...)
	}
}

func (g *Gateway) syncResources() {
	resources := g.manager.Resources()
	g.serverMu.Lock()
	defer g.serverMu.Unlock()

	current := make(map[string]struct{}, len(resources))
	for _, res := range resources {
		current[res.URI] = struct{}{}
		clone := *res
		if prev, ok := g.resources[res.URI]; ok {
			if reflect.DeepEqual(prev, &clone) {
				continue
			}
			g.server.RemoveResources(res.URI)
		}
		registered := clone
		g.server.AddResource(&clone, g.makeResourceHandler(res.URI))
		g.resources[res.URI] = &registered
	}
	var removed []string
	for uri := range g.resources {
		if _, ok := current[uri]; !ok {
			removed = append(removed, uri)
			delete(g.resources, uri)
		}
	}
	if len(removed) > 0 {
		g.server.RemoveResources(removed...)
	}
}

func (g *Gateway) syncPrompts() {
	prompts := g.manager.Prompts()
	g.serverMu.Lock()
	defer g.serverMu.Unlock()

	current := make(map[string]struct{}, len(prompts))
	for _, prompt := range prompts {
		current[prompt.Name] = struct{}{}
		clone := *prompt
		if prev, ok := g.prompts[prompt.Name]; ok {
			if reflect.DeepEqual(prev, &clone) {
				continue
			}
			g.server.RemovePrompts(prompt.Name)
		}
		registered := clone
		g.server.AddPrompt(&clone, g.makePromptHandler(prompt.Name))
		g.prompts[prompt.Name] = &registered
	}
	var removed []string
	for name := range g.prompts {
		if _, ok := current[name]; !ok {
			removed = append(removed, name)
			delete(g.prompts, name)
		}
	}
	if len(removed) > 0 {
		g.server.RemovePrompts(removed...)
	}
}

func (g *Gateway) makeToolHandler(namespaced string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := any(nil)
		if req.Params != nil {
			args = req.Params.Arguments
		}
		return g.manager.CallTool(ctx, namespaced, args)
	}
}

func (g *Gateway) makeResourceHandler(namespacedURI string) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return g.manager.ReadResource(ctx, namespacedURI)
	}
}

func (g *Gateway) makePromptHandler(namespaced string) mcp.PromptHandler {
	return func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		params := &mcp.GetPromptParams{Name: namespaced}
		if req.Params != nil {
			params.Meta = req.Params.Meta
			if len(req.Params.Arguments) > 0 {
				params.Arguments = req.Params.Arguments
			}
		}
		return g.manager.GetPrompt(ctx, params)
	}
}

// forwardResourceUpdate re-announces a backend resource change to connected
// clients under the namespaced URI.
func (g *Gateway) forwardResourceUpdate(ctx context.Context, env aggregator.Envelope) {
	if env.ResourceUpdated == nil {
		return
	}
	namespaced, ok := g.manager.NamespacedResourceURI(env.Backend, env.ResourceUpdated.URI)
	if !ok {
		return
	}
	params := *env.ResourceUpdated
	params.URI = namespaced
	if err := g.server.ResourceUpdated(ctx, &params); err != nil {
		g.opts.Logger.Error("forward resource update failed",
			"server", env.Backend,
			"uri", namespaced,
			"error", err)
	}
}

func (g *Gateway) mountHandler() http.Handler {
	var handler http.Handler = g.streamHandler
	path := g.opts.Path
	if path != "" {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		mux := http.NewServeMux()
		mux.Handle(path, g.streamHandler)
		if !strings.HasSuffix(path, "/") {
			mux.Handle(path+"/", g.streamHandler)
		}
		handler = mux
	}
	if len(g.opts.AllowedOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins: g.opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowedHeaders: []string{"*"},
		}).Handler(handler)
	}
	return handler
}
