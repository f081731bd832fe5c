package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/nradchenko/mcp-aggregator-go/pkg/aggregator"
	"github.com/nradchenko/mcp-aggregator-go/pkg/backend"
	"github.com/nradchenko/mcp-aggregator-go/pkg/config"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	doc, err := config.Load("aggregator.json")
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

	ctx := context.Background()
	for name, err := range manager.MountAllEnabled(ctx, doc.Descriptors()) {
		if err != nil {
			logger.Warn("mount failed", "server", name, "error", err)
		}
	}

	status := manager.Status()
	fmt.Printf("mounted %d of %d servers, %d tools under prefixes %v\n",
		status.Servers.Mounted, status.Servers.Total, status.Tools.Total, status.Prefixes)

	report := manager.Check(ctx, 5*time.Second)
	fmt.Printf("health: %d checked, %d healthy, %d unresponsive\n",
		report.ServersChecked, report.Healthy, report.Unresponsive)

	for _, tool := range manager.Tools() {
		fmt.Printf("tool: %s\n", tool.Name)
	}

	if err := manager.Shutdown(ctx); err != nil {
		logger.Warn("shutdown", "error", err)
	}
}
