// Package server hosts the two HTTP endpoints of the preview: the static
// file server for the index page and artifacts, and the push endpoint
// browsers connect to for reload notifications.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	perrors "github.com/conneroisu/livediagram/internal/errors"
	"github.com/conneroisu/livediagram/internal/logging"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

// Listen binds addr. Binding up front lets the caller fail before any
// goroutine starts when a port is already taken.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, perrors.ErrPortInUse(addr, err)
	}
	return ln, nil
}

// Options configures a Server.
type Options struct {
	// Name identifies the server in logs.
	Name            string
	ShutdownTimeout time.Duration
	Logger          logging.Logger
}

// Server serves a handler on a pre-bound listener.
type Server struct {
	name            string
	listener        net.Listener
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          logging.Logger
}

// New creates a server for handler on ln.
func New(ln net.Listener, handler http.Handler, opts Options) *Server {
	s := &Server{
		name:            opts.Name,
		listener:        ln,
		shutdownTimeout: opts.ShutdownTimeout,
		logger:          opts.Logger,
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = defaultShutdownTimeout
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	s.logger = s.logger.WithComponent("server").With("server", s.name)

	return s
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start serves until ctx is cancelled, then shuts down gracefully. It
// returns nil after a clean shutdown and the serve error otherwise.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- perrors.NewNetworkError(perrors.ErrCodeServeFailed, s.name+" server failed", err)
		}
		close(errChan)
	}()

	s.logger.Info(ctx, "listening", "addr", s.Addr())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			// Hijacked connections are not tracked by Shutdown; a timeout
			// here means a handler outlived the grace period.
			s.logger.Warn(ctx, err, "graceful shutdown incomplete, closing")
			_ = s.httpServer.Close()
		}
		return nil

	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		return err
	}
}
