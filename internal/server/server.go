package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const shutdownTimeout = 5 * time.Second

// Server is the embedded peer API: one listener on the transfer port
// shared by the file-transfer, clipboard and sync-mirror routes.
type Server struct {
	addr   string
	server *http.Server
}

func New(addr string, svc *Services) *Server {
	return &Server{
		addr: addr,
		server: &http.Server{
			Addr:    addr,
			Handler: setupRoutes(svc),
		},
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	slog.Info("peer server start", "addr", s.addr)
	defer slog.Info("peer server stop")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("peer server: %w", err)
	case <-ctx.Done():
	}
	return s.Stop()
}

func (s *Server) Stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
