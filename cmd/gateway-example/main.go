package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nradchenko/mcp-aggregator-go/pkg/aggregator"
	"github.com/nradchenko/mcp-aggregator-go/pkg/backend"
	"github.com/nradchenko/mcp-aggregator-go/pkg/config"
	"github.com/nradchenko/mcp-aggregator-go/pkg/gateway"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configPath := os.Getenv("AGGREGATOR_CONFIG")
	if configPath == "" {
		configPath = "aggregator.json"
	}
	doc, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if len(doc.Servers) == 0 {
		doc.Servers["everything"] = backend.Descriptor{
			Name:    "everything",
			Command: "npx",
			Args:    []string{"@modelcontextprotocol/server-everything"},
			Enabled: true,
			Timeout: 15 * time.Second,
		}
	}

	router := aggregator.NewRouter(logger)
	coord := aggregator.NewCoordinator(router, logger)
	manager := aggregator.NewManager(coord, &aggregator.Options{Logger: logger})

	for name, err := range manager.MountAllEnabled(ctx, doc.Descriptors()) {
		if err != nil {
			logger.Warn("mount failed", "server", name, "error", err)
		}
	}
	defer func() {
		if err := manager.Shutdown(context.Background()); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()

	gw, err := gateway.NewGateway(manager, coord, &gateway.Options{
		Addr:           ":8787",
		Path:           "/mcp",
		AllowedOrigins: []string{"*"},
		Streamable: mcp.StreamableHTTPOptions{
			JSONResponse: true,
		},
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("build gateway: %v", err)
	}

	log.Printf("aggregator serving Streamable MCP on :8787/mcp")
	if err := gw.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("gateway server stopped: %v", err)
	}
}
