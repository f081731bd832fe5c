package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type echoArgs struct {
	Text string `json:"text"`
}

func newTestServer(t *testing.T) *mcp.Server {
	t.Helper()
	server := mcp.NewServer(&mcp.Implementation{Name: "fixture", Version: "0.0.1"}, nil)
	mcp.AddTool(server, &mcp.Tool{Name: "echo", Description: "echoes text back"},
		func(ctx context.Context, req *mcp.CallToolRequest, in echoArgs) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: in.Text}},
			}, nil, nil
		})
	return server
}

func dialTestServer(t *testing.T, server *mcp.Server, handlers NotificationHandlers) Session {
	t.Helper()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	if _, err := server.Connect(t.Context(), serverTransport, nil); err != nil {
		t.Fatalf("server connect: %v", err)
	}
	desc := Descriptor{Name: "fixture", Command: "unused", Timeout: 5 * time.Second}
	session, err := DialTransport(t.Context(), desc, clientTransport, handlers)
	if err != nil {
		t.Fatalf("DialTransport: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func TestSessionListAndCall(t *testing.T) {
	t.Parallel()

	session := dialTestServer(t, newTestServer(t), NotificationHandlers{})

	tools, err := session.ListTools(t.Context())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "echo" {
		t.Fatalf("ListTools = %+v, want single echo tool", tools)
	}

	res, err := session.CallTool(t.Context(), "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if len(res.Content) == 0 {
		t.Fatal("CallTool returned no content")
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok || text.Text != "hi" {
		t.Errorf("CallTool content = %#v, want text %q", res.Content[0], "hi")
	}
}

func TestSessionPing(t *testing.T) {
	t.Parallel()

	session := dialTestServer(t, newTestServer(t), NotificationHandlers{})
	if err := session.Ping(t.Context()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestSessionClosedOperationsFail(t *testing.T) {
	t.Parallel()

	session := dialTestServer(t, newTestServer(t), NotificationHandlers{})
	if err := session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := session.ListTools(t.Context()); !errors.Is(err, ErrClosed) {
		t.Errorf("ListTools after close = %v, want ErrClosed", err)
	}
	if _, err := session.CallTool(t.Context(), "echo", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("CallTool after close = %v, want ErrClosed", err)
	}
	if err := session.Ping(t.Context()); !errors.Is(err, ErrClosed) {
		t.Errorf("Ping after close = %v, want ErrClosed", err)
	}
}

func TestSessionToolListChangedNotification(t *testing.T) {
	t.Parallel()

	server := newTestServer(t)
	changed := make(chan struct{}, 4)
	session := dialTestServer(t, server, NotificationHandlers{
		ToolListChanged: func(context.Context) {
			select {
			case changed <- struct{}{}:
			default:
			}
		},
	})

	// Listing first guarantees the handshake finished before the server
	// mutates its tool set.
	if _, err := session.ListTools(t.Context()); err != nil {
		t.Fatalf("ListTools: %v", err)
	}

	mcp.AddTool(server, &mcp.Tool{Name: "echo2", Description: "second echo"},
		func(ctx context.Context, req *mcp.CallToolRequest, in echoArgs) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{}, nil, nil
		})

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("no tool-list-changed notification within 5s")
	}
}
