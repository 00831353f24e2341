package mcp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"
)

// DefaultEndpointPath is where the streamable HTTP transport is mounted.
const DefaultEndpointPath = "/mcp"

// ServeStdio serves MCP over in and out until ctx is done or in is closed.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("Starting stdio transport")
	stdio := server.NewStdioServer(s.mcpServer)
	err := stdio.Listen(ctx, in, out)
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// HTTPHandler returns a mux with the stateless streamable MCP endpoint at
// endpointPath and a /health probe.
func (s *Server) HTTPHandler(endpointPath string) http.Handler {
	endpointPath = normalizeEndpoint(endpointPath)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle(endpointPath, server.NewStreamableHTTPServer(
		s.mcpServer,
		server.WithEndpointPath(endpointPath),
		server.WithStateLess(true),
	))
	return mux
}

// ServeHTTP listens on addr until ctx is done.
func (s *Server) ServeHTTP(ctx context.Context, addr, endpointPath string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.HTTPHandler(endpointPath),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("Starting HTTP server on %s (endpoint: %s)", addr, normalizeEndpoint(endpointPath))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func normalizeEndpoint(path string) string {
	if path == "" {
		return DefaultEndpointPath
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
