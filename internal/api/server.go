package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"fraudgate/internal/bootstrap/config"
	"fraudgate/internal/bootstrap/logging"
	"fraudgate/internal/errs"
)

// Server owns the HTTP listener lifecycle.
type Server struct {
	srv *http.Server
}

func NewServer(cfg config.HTTPConfig, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
		},
	}
}

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	logging.Info(ctx, "http server listening", slog.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errs.Wrapf(err, "serve http on %q", s.srv.Addr)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return errs.Wrap(err, "shut down http server")
	}
	return nil
}
