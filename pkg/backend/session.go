package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ErrClosed is returned by session operations after the session has been
// closed or its underlying connection has terminated.
var ErrClosed = errors.New("backend: session closed")

// DefaultTimeout bounds protocol calls when the descriptor does not set one.
const DefaultTimeout = 30 * time.Second

// NotificationHandlers carries one callback per notification kind the
// protocol defines. Handlers are registered once, when the session is
// dialed; nil entries mean the kind is ignored. List-changed notifications
// carry no payload beyond their kind, so those callbacks receive only the
// context.
type NotificationHandlers struct {
	ToolListChanged     func(context.Context)
	ResourceListChanged func(context.Context)
	PromptListChanged   func(context.Context)
	ResourceUpdated     func(context.Context, *mcp.ResourceUpdatedNotificationParams)
	Progress            func(context.Context, *mcp.ProgressNotificationParams)
	LoggingMessage      func(context.Context, *mcp.LoggingMessageParams)
}

// Session is one live connection to one backend MCP server. Implementations
// must fail in-flight and subsequent operations with ErrClosed once Close has
// been called or the connection has dropped, rather than blocking.
type Session interface {
	ListTools(ctx context.Context) ([]*mcp.Tool, error)
	ListResources(ctx context.Context) ([]*mcp.Resource, error)
	ListPrompts(ctx context.Context) ([]*mcp.Prompt, error)
	CallTool(ctx context.Context, name string, args any) (*mcp.CallToolResult, error)
	ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error)
	GetPrompt(ctx context.Context, params *mcp.GetPromptParams) (*mcp.GetPromptResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// Factory opens a Session for a descriptor. The aggregator takes one as an
// explicit dependency so tests and embedders can substitute their own
// session construction.
type Factory func(ctx context.Context, desc Descriptor, handlers NotificationHandlers) (Session, error)

// Dial connects to the backend named by the descriptor, spawning its process
// or contacting its endpoint, and registers the notification handlers with
// the underlying client. It is the Factory used in production.
func Dial(ctx context.Context, desc Descriptor, handlers NotificationHandlers) (Session, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	switch desc.Kind() {
	case TransportStdio:
		return DialTransport(ctx, desc, commandTransport(desc), handlers)
	case TransportHTTP:
		return dialHTTP(ctx, desc, handlers)
	default:
		return nil, fmt.Errorf("backend: unsupported transport for %q", desc.Name)
	}
}

// DialTransport connects over a caller-supplied transport. Useful for
// in-memory servers and tests.
func DialTransport(ctx context.Context, desc Descriptor, transport mcp.Transport, handlers NotificationHandlers) (Session, error) {
	timeout := desc.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &sdkSession{name: desc.Name, timeout: timeout}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "mcp-aggregator",
		Version: "1.0.0",
	}, s.clientOptions(handlers))

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	session, err := client.Connect(connectCtx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("backend: connect %q: %w", desc.Name, err)
	}
	s.session = session
	go s.monitor()
	return s, nil
}

func dialHTTP(ctx context.Context, desc Descriptor, handlers NotificationHandlers) (Session, error) {
	streamable := &mcp.StreamableClientTransport{Endpoint: desc.Endpoint}
	sse := &mcp.SSEClientTransport{Endpoint: desc.Endpoint}

	// Endpoints that end in /sse advertise the legacy transport; try it
	// first, otherwise prefer streamable with SSE as fallback.
	first, second := mcp.Transport(streamable), mcp.Transport(sse)
	if strings.HasSuffix(strings.TrimSpace(desc.Endpoint), "/sse") {
		first, second = second, first
	}
	session, firstErr := DialTransport(ctx, desc, first, handlers)
	if firstErr == nil {
		return session, nil
	}
	session, secondErr := DialTransport(ctx, desc, second, handlers)
	if secondErr != nil {
		return nil, fmt.Errorf("backend: connect %q: %v; fallback: %w", desc.Name, firstErr, secondErr)
	}
	return session, nil
}

func commandTransport(desc Descriptor) mcp.Transport {
	cmd := exec.Command(desc.Command, desc.Args...)
	if desc.WorkingDir != "" {
		cmd.Dir = desc.WorkingDir
	}
	if len(desc.Env) > 0 {
		env := os.Environ()
		for k, v := range desc.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	return &mcp.CommandTransport{Command: cmd}
}

// sdkSession adapts an mcp.ClientSession to the Session interface, applying
// the per-backend timeout to every call and collapsing post-close errors
// into ErrClosed.
type sdkSession struct {
	name    string
	timeout time.Duration
	session *mcp.ClientSession
	closed  atomic.Bool
}

func (s *sdkSession) clientOptions(h NotificationHandlers) *mcp.ClientOptions {
	return &mcp.ClientOptions{
		ToolListChangedHandler: func(ctx context.Context, _ *mcp.ToolListChangedRequest) {
			if h.ToolListChanged != nil {
				h.ToolListChanged(ctx)
			}
		},
		ResourceListChangedHandler: func(ctx context.Context, _ *mcp.ResourceListChangedRequest) {
			if h.ResourceListChanged != nil {
				h.ResourceListChanged(ctx)
			}
		},
		PromptListChangedHandler: func(ctx context.Context, _ *mcp.PromptListChangedRequest) {
			if h.PromptListChanged != nil {
				h.PromptListChanged(ctx)
			}
		},
		ResourceUpdatedHandler: func(ctx context.Context, req *mcp.ResourceUpdatedNotificationRequest) {
			if h.ResourceUpdated != nil && req != nil {
				h.ResourceUpdated(ctx, req.Params)
			}
		},
		ProgressNotificationHandler: func(ctx context.Context, req *mcp.ProgressNotificationClientRequest) {
			if h.Progress != nil && req != nil {
				h.Progress(ctx, req.Params)
			}
		},
		LoggingMessageHandler: func(ctx context.Context, req *mcp.LoggingMessageRequest) {
			if h.LoggingMessage != nil && req != nil {
				h.LoggingMessage(ctx, req.Params)
			}
		},
	}
}

// monitor marks the session closed once the underlying connection ends, no
// matter which side initiated it.
func (s *sdkSession) monitor() {
	_ = s.session.Wait()
	s.closed.Store(true)
}

func (s *sdkSession) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *sdkSession) guard() error {
	if s.closed.Load() {
		return fmt.Errorf("backend %q: %w", s.name, ErrClosed)
	}
	return nil
}

// mapErr converts errors surfaced after the connection dropped into
// ErrClosed so callers see one well-defined "backend gone" condition.
func (s *sdkSession) mapErr(err error) error {
	if err == nil {
		return nil
	}
	if s.closed.Load() {
		return fmt.Errorf("backend %q: %w", s.name, ErrClosed)
	}
	return err
}

func (s *sdkSession) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.session.ListTools(ctx, nil)
	if err != nil {
		if isMethodUnavailable(err, "tools/list") {
			return nil, nil
		}
		return nil, s.mapErr(err)
	}
	return res.Tools, nil
}

func (s *sdkSession) ListResources(ctx context.Context) ([]*mcp.Resource, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.session.ListResources(ctx, nil)
	if err != nil {
		if isMethodUnavailable(err, "resources/list") {
			return nil, nil
		}
		return nil, s.mapErr(err)
	}
	return res.Resources, nil
}

func (s *sdkSession) ListPrompts(ctx context.Context) ([]*mcp.Prompt, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.session.ListPrompts(ctx, nil)
	if err != nil {
		if isMethodUnavailable(err, "prompts/list") {
			return nil, nil
		}
		return nil, s.mapErr(err)
	}
	return res.Prompts, nil
}

func (s *sdkSession) CallTool(ctx context.Context, name string, args any) (*mcp.CallToolResult, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	return res, s.mapErr(err)
}

func (s *sdkSession) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
	return res, s.mapErr(err)
}

func (s *sdkSession) GetPrompt(ctx context.Context, params *mcp.GetPromptParams) (*mcp.GetPromptResult, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.session.GetPrompt(ctx, params)
	return res, s.mapErr(err)
}

func (s *sdkSession) Ping(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.mapErr(s.session.Ping(ctx, nil))
}

func (s *sdkSession) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.session.Close()
}

// isMethodUnavailable reports whether err looks like the server rejecting a
// method it does not implement, so list calls can degrade to an empty
// inventory instead of failing the mount.
func isMethodUnavailable(err error, method string) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	if !strings.Contains(lower, "method not found") &&
		!strings.Contains(lower, "not implemented") &&
		!strings.Contains(lower, "unsupported") &&
		!strings.Contains(lower, "does not support") {
		return false
	}
	for _, part := range strings.Split(method, "/") {
		if part != "" && strings.Contains(lower, part) {
			return true
		}
	}
	return true
}
