// Package api provides the HTTP surface of the ledger: it triggers backfills
// and recomputes, manages cost basis overrides and serves positions and
// sync status.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avco-ledger/internal/config"
	"github.com/avco-ledger/internal/events"
	"github.com/avco-ledger/internal/logging"
	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/service"
	"github.com/avco-ledger/internal/storage"
	"github.com/avco-ledger/internal/types"
)

// OverrideManager defines the override operations the API exposes
type OverrideManager interface {
	Save(ctx context.Context, input *service.SaveOverrideInput) (*models.CostBasisOverride, error)
	Revert(ctx context.Context, eventID string) error
	History(ctx context.Context, eventID string) ([]*models.CostBasisOverride, error)
}

// CrossWalletCalculator computes non-persisted multi-wallet AVCO views
type CrossWalletCalculator interface {
	Compute(ctx context.Context, wallets []string, asset string) (*models.CrossWalletPosition, error)
}

// Dependencies are the collaborators behind the routes
type Dependencies struct {
	Publisher   events.Publisher
	Syncs       storage.SyncStatusStore
	Positions   storage.PositionStore
	Overrides   OverrideManager
	CrossWallet CrossWalletCalculator
	// Networks backfilled when a request names none
	Networks []types.Network
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	deps       Dependencies
	config     config.ServerConfig
	startedAt  time.Time
}

// NewServer creates a new API server instance.
func NewServer(cfg config.ServerConfig, deps Dependencies) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		deps:      deps,
		config:    cfg,
		startedAt: time.Now(),
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	if s.config.RateLimitRPS > 0 {
		s.router.Use(RateLimitMiddleware(NewRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst)))
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Wallet endpoints
	s.router.HandleFunc("/wallets/{wallet}/backfill", s.handleBackfill).Methods(http.MethodPost)
	s.router.HandleFunc("/wallets/{wallet}/recalculate", s.handleRecalculate).Methods(http.MethodPost)
	s.router.HandleFunc("/wallets/{wallet}/sync", s.handleGetSync).Methods(http.MethodGet)
	s.router.HandleFunc("/wallets/{wallet}/positions", s.handleGetPositions).Methods(http.MethodGet)

	// Override endpoints
	s.router.HandleFunc("/events/{eventId}/override", s.handleSaveOverride).Methods(http.MethodPost)
	s.router.HandleFunc("/events/{eventId}/override", s.handleRevertOverride).Methods(http.MethodDelete)
	s.router.HandleFunc("/events/{eventId}/overrides", s.handleOverrideHistory).Methods(http.MethodGet)

	s.router.HandleFunc("/avco/cross-wallet", s.handleCrossWallet).Methods(http.MethodGet)
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "avco-ledger",
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// Handler exposes the routed handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithComponent("api").Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.WithComponent("api").Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
