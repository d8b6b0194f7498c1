package main

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/leonardcser/jsonstate/internal/config"
	"github.com/leonardcser/jsonstate/internal/logger"
	"github.com/leonardcser/jsonstate/internal/state"
	tools "github.com/leonardcser/jsonstate/internal/tools"
)

const daemonBinary = "jsonstate-server"

func main() {
	if err := logger.InitFromEnv(); err != nil {
		panic(err)
	}
	defer logger.Close()

	logger.Infof("Starting JSON state MCP server")

	// Talk to the state daemon unless JSONSTATE_BACKEND says otherwise; the
	// daemon owns the bolt file.
	base := config.DefaultConfig()
	base.Backend = config.BackendSocket
	cfg, err := config.Load(base)
	if err != nil {
		logger.Errorf("config: %v", err)
		panic(err)
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Errorf("Failed to open %s backend: %v", cfg.Backend, err)
		panic(err)
	}
	defer store.Close()
	logger.Infof("Using %s backend", cfg.Backend)

	if sw, ok := store.(state.Sweeper); ok {
		janitorCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		state.StartJanitor(janitorCtx, sw, cfg.SweepInterval)
	}

	s := server.NewMCPServer(
		"JSON State MCP",
		"0.1.0",
		server.WithRecovery(),
		server.WithToolCapabilities(false),
	)

	scope := []mcp.ToolOption{
		mcp.WithString("env", mcp.Required(), mcp.Description("Deployment environment, e.g. dev or prod")),
		mcp.WithString("tenant", mcp.Required(), mcp.Description("Tenant identifier")),
		mcp.WithString("team", mcp.Description("Optional team scope")),
		mcp.WithString("user", mcp.Description("Optional user scope")),
		mcp.WithString("prefix", mcp.Required(), mcp.Description("Logical namespace inside the tenant, e.g. a workflow name")),
	}
	withKey := append(scope[:len(scope):len(scope)],
		mcp.WithString("key", mcp.Required(), mcp.Description("Document key inside the prefix")),
	)

	toolGet := mcp.NewTool("state-get", append([]mcp.ToolOption{
		mcp.WithDescription(multiline(
			"Reads a JSON document, or the value at a path inside it",
			"\nUsage notes:",
			"- path is a JSON pointer such as /a/0/b; omit it for the whole document",
			"- Returns \"not found\" when the document is absent, expired, or the path does not resolve",
		)),
		mcp.WithString("path", mcp.Description("JSON pointer into the document")),
	}, withKey...)...)
	s.AddTool(toolGet, tools.StateGetHandler(store))

	toolSet := mcp.NewTool("state-set", append([]mcp.ToolOption{
		mcp.WithDescription(multiline(
			"Stores a JSON document, or upserts a value at a path inside it",
			"\nUsage notes:",
			"- value must be valid JSON text",
			"- Missing objects and arrays along the path are created",
			"- ttl > 0 expires the document after that many seconds, ttl 0 removes any expiry, omit ttl to keep the current one",
		)),
		mcp.WithString("path", mcp.Description("JSON pointer into the document")),
		mcp.WithString("value", mcp.Required(), mcp.Description("JSON value to store")),
		mcp.WithNumber("ttl", mcp.Description("Expiry in seconds")),
	}, withKey...)...)
	s.AddTool(toolSet, tools.StateSetHandler(store))

	toolDelete := mcp.NewTool("state-delete", append([]mcp.ToolOption{
		mcp.WithDescription("Deletes one document and reports whether it existed"),
	}, withKey...)...)
	s.AddTool(toolDelete, tools.StateDeleteHandler(store))

	toolDeletePrefix := mcp.NewTool("state-delete-prefix", append([]mcp.ToolOption{
		mcp.WithDescription("Deletes every document under a prefix for the given tenant and returns how many were removed"),
	}, scope...)...)
	s.AddTool(toolDeletePrefix, tools.StateDeletePrefixHandler(store))
	logger.Infof("Registered state tools")

	logger.Infof("Starting MCP server on stdio")
	if err := server.ServeStdio(s); err != nil {
		logger.Errorf("server error: %v", err)
	}
}

// multiline joins lines with newlines for tool descriptions.
func multiline(lines ...string) string { return strings.Join(lines, "\n") }

// openStore opens the configured backend. For the socket backend it starts
// the state daemon when none is listening and waits for its socket.
func openStore(ctx context.Context, cfg config.Config) (state.Store, error) {
	store, err := config.Open(ctx, cfg)
	if err == nil || cfg.Backend != config.BackendSocket {
		return store, err
	}

	logger.Warnf("Failed to connect to state daemon: %v, attempting to start daemon", err)
	if startErr := startDaemon(); startErr != nil {
		logger.Errorf("Failed to start state daemon: %v", startErr)
		return nil, err
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if store, err = config.Open(ctx, cfg); err == nil {
			logger.Infof("Connected to state daemon at %s", cfg.SocketPath)
			return store, nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return nil, err
}

func startDaemon() error {
	path, err := daemonPath()
	if err != nil {
		return err
	}
	cmd := exec.Command(path)
	cmd.Stdout = nil
	cmd.Stderr = nil
	// The daemon must own a local backend even if this process talks to it
	// over the socket.
	cmd.Env = append(os.Environ(), config.EnvBackend+"="+config.BackendBolt)
	return cmd.Start()
}

// daemonPath looks for the daemon next to this executable, then on PATH,
// then in the working directory.
func daemonPath() (string, error) {
	if exePath, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(exePath), daemonBinary)
		if _, statErr := os.Stat(sibling); statErr == nil {
			return sibling, nil
		}
	}
	if path, err := exec.LookPath(daemonBinary); err == nil {
		return path, nil
	}
	if _, err := os.Stat("./" + daemonBinary); err == nil {
		return "./" + daemonBinary, nil
	}
	return "", exec.ErrNotFound
}
