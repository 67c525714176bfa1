// Package server exposes the tracker over HTTP: health, metrics, a JSON API
// and a websocket event feed.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/alanyoungcy/marketwatch/internal/metrics"
	"github.com/alanyoungcy/marketwatch/internal/server/handler"
	"github.com/alanyoungcy/marketwatch/internal/server/middleware"
	"github.com/alanyoungcy/marketwatch/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // guards order placement; empty disables auth
	RateLimit   float64
	RateBurst   int
}

// Handlers aggregates the route handlers. Archive and Hub are optional.
type Handlers struct {
	Health  *handler.HealthHandler
	Markets *handler.MarketHandler
	Wallet  *handler.WalletHandler
	Archive *handler.ArchiveHandler
	Hub     *ws.Hub
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds the chi router and the underlying http.Server.
func NewServer(cfg Config, h Handlers, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewRouter(cfg, h, logger),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewRouter registers every route. It is exported for tests.
func NewRouter(cfg Config, h Handlers, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(metrics.Middleware)

	r.Get("/health", h.Health.HealthCheck)
	r.Handle("/metrics", metrics.Handler())
	if h.Hub != nil {
		r.Get("/ws", h.Hub.HandleWS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))
		r.Use(middleware.RateLimit(cfg.RateLimit, cfg.RateBurst))

		r.Get("/status", h.Markets.GetStatus)
		r.Get("/market", h.Markets.GetCurrent)
		r.Get("/market/books/{tokenID}", h.Markets.GetBook)
		r.Get("/markets", h.Markets.ListHistory)
		r.Get("/markets/{conditionID}", h.Markets.GetHistorical)

		r.Get("/wallet", h.Wallet.GetSummary)
		r.Get("/positions", h.Wallet.ListPositions)
		r.Get("/positions/{tokenID}", h.Wallet.GetPosition)
		r.Get("/transactions", h.Wallet.ListTransactions)
		r.Get("/orders", h.Wallet.ListOrders)
		r.With(middleware.Auth(cfg.APIKey)).Post("/orders", h.Wallet.PlaceOrder)

		if h.Archive != nil {
			r.Get("/archive", h.Archive.List)
			r.Get("/archive/object", h.Archive.Get)
		}
	})
	return r
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests within ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
