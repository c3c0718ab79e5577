package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gavelhq/gavel/internal/domain"
	"github.com/gavelhq/gavel/internal/server/handler"
	"github.com/gavelhq/gavel/internal/server/middleware"
	"github.com/gavelhq/gavel/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	AdminAPIKey string // if empty, the admin routes are left unregistered

	// Request rate limiting for the public API. Disabled when RateLimiter is
	// nil or RateLimit is zero.
	RateLimiter domain.RateLimiter
	RateLimit   int
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Auctions    *handler.AuctionHandler
	Bids        *handler.BidHandler
	Settlements *handler.SettlementHandler
	Admin       *handler.AdminHandler
}

// Server is the HTTP + WebSocket API server for the marketplace.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (identity, logging, CORS, rate limiting) and attaches
// the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Auction endpoints.
	mux.HandleFunc("GET /api/auctions", handlers.Auctions.ListAuctions)
	mux.HandleFunc("POST /api/auctions", handlers.Auctions.CreateAuction)
	mux.HandleFunc("GET /api/auctions/{id}", handlers.Auctions.GetAuction)
	mux.HandleFunc("DELETE /api/auctions/{id}", handlers.Auctions.CancelAuction)
	mux.HandleFunc("GET /api/auctions/{id}/bids", handlers.Auctions.ListAuctionBids)
	mux.HandleFunc("POST /api/auctions/{id}/bids", handlers.Auctions.PlaceBid)

	// Bid endpoints, scoped to the caller.
	mux.HandleFunc("GET /api/bids", handlers.Bids.ListMyBids)
	mux.HandleFunc("GET /api/bids/{id}", handlers.Bids.GetBid)
	mux.HandleFunc("DELETE /api/bids/{id}", handlers.Bids.CancelBid)

	// Settlement endpoints.
	mux.HandleFunc("GET /api/settlements/{id}", handlers.Settlements.GetSettlement)
	mux.HandleFunc("POST /api/settlements/{id}/confirm", handlers.Settlements.ConfirmSettlement)

	// Operator endpoints behind the admin API key.
	if handlers.Admin != nil && cfg.AdminAPIKey != "" {
		admin := http.NewServeMux()
		admin.HandleFunc("POST /api/admin/auctions/{id}/suspend", handlers.Admin.SuspendAuction)
		admin.HandleFunc("POST /api/admin/auctions/{id}/reject", handlers.Admin.RejectAuction)
		admin.HandleFunc("POST /api/admin/auctions/{id}/activate", handlers.Admin.ActivateAuction)
		admin.HandleFunc("GET /api/admin/audit", handlers.Admin.ListAudit)
		admin.HandleFunc("GET /api/admin/stats", handlers.Admin.Stats)
		mux.Handle("/api/admin/", middleware.Auth(cfg.AdminAPIKey)(admin))
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	if cfg.RateLimiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.Identity()(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
