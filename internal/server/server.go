// Package server exposes a running supervisor over MCP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"prefork.dev/internal/supervisor"
)

// Controller is the part of the supervisor the control tools drive.
type Controller interface {
	Snapshot() (supervisor.PoolSnapshot, error)
	Reload() (uint32, error)
	SignalWorker(slot int, sig syscall.Signal) error
}

// Server wraps the MCP server with the pool control tools
type Server struct {
	mcpServer *server.MCPServer
	ctl       Controller
	log       *zap.Logger
}

// NewServer creates the MCP server and registers the control tools
func NewServer(ctl Controller, version string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	mcpServer := server.NewMCPServer(
		"prefork",
		version,
		server.WithToolCapabilities(true),
	)

	s := &Server{
		mcpServer: mcpServer,
		ctl:       ctl,
		log:       log,
	}
	s.registerTools()
	return s
}

// Serve runs the MCP server over stdio
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP runs the MCP server over streamable HTTP on addr until ctx is
// done, then shuts it down.
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.mcpServer)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("control server listening", zap.String("endpoint", Endpoint(addr)))
		errCh <- httpServer.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	if err := httpServer.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("failed to shut down control server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control server: %w", err)
	}
	return nil
}
