// Package server exposes provisd over HTTP: the obscured delivery endpoint
// the remote install tools hit, and the dashboard event stream.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/provisboard/provisd/internal/provisd/delivery"
	"github.com/provisboard/provisd/internal/provisd/notify"
	"github.com/provisboard/provisd/pkg/config"
	"github.com/provisboard/provisd/pkg/logger"
)

// Server is the provisd HTTP front end
type Server struct {
	cfg     *config.Config
	gateway *delivery.Gateway
	hub     *notify.Hub
	logger  *logger.Logger

	httpServer *http.Server
}

// NewServer wires the HTTP routes over the delivery gateway and the
// notification hub.
func NewServer(cfg *config.Config, gateway *delivery.Gateway, hub *notify.Hub) *Server {
	s := &Server{
		cfg:     cfg,
		gateway: gateway,
		hub:     hub,
		logger:  logger.WithField("component", "http-server"),
	}

	mux := http.NewServeMux()
	// The delivery path is deliberately non-guessable: a fixed obscured
	// prefix, the region, a constant segment and the artifact name.
	mux.HandleFunc(fmt.Sprintf("GET /%s/{region}/{constant}/{artifact}", cfg.Delivery.PathPrefix), s.handleDelivery)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:        cfg.Server.GetServerAddress(),
		Handler:     mux,
		ReadTimeout: config.MustDuration(cfg.Server.ReadTimeout),
	}

	return s
}

// Handler returns the route handler, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully within the
// configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		s.logger.Info("http server listening", "address", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			config.MustDuration(s.cfg.Server.ShutdownTimeout))
		defer cancel()

		s.logger.Info("shutting down http server")
		return s.httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// clientAddr extracts the requesting client address: the first forwarded
// address when the daemon sits behind a proxy, otherwise the socket peer.
func clientAddr(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
