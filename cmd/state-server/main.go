// Command state-server is the JSON state daemon. It opens the configured
// backend and serves it over a Unix socket and, when JSONSTATE_HTTP_ADDR is
// set, over HTTP. The MCP server starts it on demand as jsonstate-server:
//
//	go build -o jsonstate-server ./cmd/state-server
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/leonardcser/jsonstate/internal/config"
	"github.com/leonardcser/jsonstate/internal/logger"
	"github.com/leonardcser/jsonstate/internal/state"
	"github.com/leonardcser/jsonstate/internal/transport"
)

func main() {
	if err := logger.InitFromEnv(); err != nil {
		panic(err)
	}
	defer logger.Close()

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}
	if cfg.Backend == config.BackendSocket {
		// The daemon is what socket clients talk to; it cannot be one itself.
		logger.Errorf("config: the daemon needs a local backend, got %q", cfg.Backend)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := config.Open(ctx, cfg)
	if err != nil {
		logger.Errorf("open %s backend: %v", cfg.Backend, err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Infof("Opened %s backend", cfg.Backend)

	if sw, ok := store.(state.Sweeper); ok {
		state.StartJanitor(ctx, sw, cfg.SweepInterval)
		logger.Infof("Janitor sweeping every %s", cfg.SweepInterval)
	}

	// Ensure socket dir exists and remove stale socket
	_ = os.MkdirAll(filepath.Dir(cfg.SocketPath), 0o755)
	_ = os.Remove(cfg.SocketPath)

	l, err := net.Listen("unix", cfg.SocketPath)
	if err != nil {
		logger.Errorf("listen %s: %v", cfg.SocketPath, err)
		os.Exit(1)
	}
	_ = os.Chmod(cfg.SocketPath, 0o600)
	go func() {
		if err := transport.Serve(l, store); err != nil {
			logger.Errorf("socket server: %v", err)
		}
	}()
	logger.Infof("Listening on %s", cfg.SocketPath)

	var srv *http.Server
	if cfg.HTTPAddr != "" {
		srv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           transport.NewHTTPRouter(store),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("http server: %v", err)
				stop()
			}
		}()
		logger.Infof("Serving HTTP on %s", cfg.HTTPAddr)
	}

	<-ctx.Done()
	logger.Infof("Shutting down")
	_ = l.Close()
	_ = os.Remove(cfg.SocketPath)
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
