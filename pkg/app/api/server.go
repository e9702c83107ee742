// Package api wires the custody service together and runs it.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	apphttp "github.com/equiptrack/custody-middleware/pkg/app/http"
	"github.com/equiptrack/custody-middleware/pkg/app/httpserver"
	"github.com/equiptrack/custody-middleware/pkg/auth"
	"github.com/equiptrack/custody-middleware/pkg/chain"
	"github.com/equiptrack/custody-middleware/pkg/config"
	"github.com/equiptrack/custody-middleware/pkg/custody"
	"github.com/equiptrack/custody-middleware/pkg/custodystore"
	"github.com/equiptrack/custody-middleware/pkg/history"
	"github.com/equiptrack/custody-middleware/pkg/identity"
	"github.com/equiptrack/custody-middleware/pkg/intake"
	"github.com/equiptrack/custody-middleware/pkg/pgutil"
	"github.com/equiptrack/custody-middleware/pkg/reconcile"
)

const defaultRequestTimeout = 60 * time.Second

// Server holds cfg to init the custody server.
type Server struct {
	cfg *config.Config
}

// NewServer initializes a new custody server.
func NewServer(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

func (s *Server) Run() error {
	if s.cfg == nil {
		return fmt.Errorf("custody server config is nil")
	}
	cfg := s.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting custody server",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
	)

	db, err := pgutil.ConnectDB(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer db.Close()
	logger.Info("Connected to database",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Database),
	)

	store := custodystore.NewStore(db)

	gateway, err := chain.NewGateway(&cfg.Ethereum, logger)
	if err != nil {
		return fmt.Errorf("connect chain gateway: %w", err)
	}
	defer gateway.Close()

	directory := identity.NewClient(&cfg.Identity, logger)
	resolver := identity.NewResolver(directory, cfg.Identity.CacheTTL, cfg.Identity.FallbackAddress, logger)

	broker, err := intake.NewBroker(&cfg.Intake, logger)
	if err != nil {
		return fmt.Errorf("connect message broker: %w", err)
	}
	defer broker.Close()

	engine := reconcile.NewEngine(store, gateway, resolver, broker, logger)

	if broker.Enabled() {
		go func() {
			if err := broker.Listen(ctx, engine); err != nil && ctx.Err() == nil {
				logger.Error("Intake listener stopped", zap.Error(err))
			}
		}()
	}

	merger := history.NewMerger(store, gateway, logger)
	handler := custody.NewHandler(engine, merger, store, logger)

	router := s.setupRouter(db, gateway, resolver, broker, handler)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}
	return httpserver.ServeAndWait(ctx, logger, srv, cfg.Shutdown.Timeout)
}

func (s *Server) setupRouter(
	db *bun.DB,
	gateway *chain.Gateway,
	resolver *identity.Resolver,
	broker *intake.Broker,
	handler *custody.Handler,
) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(defaultRequestTimeout))

	r.Get("/healthz", healthHandler(db, gateway, resolver, broker))
	r.Handle("/metrics", promhttp.Handler())

	verifier := auth.NewVerifier(s.cfg.Auth.JWTSecret)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(verifier.Middleware)
		handler.Routes(r)
	})

	return r
}

type healthResponse struct {
	Status          string `json:"status"`
	Database        string `json:"database"`
	Chain           string `json:"chain"`
	Broker          string `json:"broker"`
	ResolverEntries int    `json:"resolver_cache_entries"`
	ResolverOldest  string `json:"resolver_cache_oldest"`
}

type pinger interface {
	PingContext(ctx context.Context) error
}

// healthHandler reports liveness of the service and its collaborators. Only
// the database is load-bearing: a down chain or broker is a degraded but
// healthy state.
func healthHandler(db pinger, gateway *chain.Gateway, resolver *identity.Resolver, broker *intake.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:   "ok",
			Database: "ok",
			Chain:    "disabled",
			Broker:   "disabled",
		}
		code := http.StatusOK

		if err := db.PingContext(r.Context()); err != nil {
			resp.Status = "unavailable"
			resp.Database = "unreachable"
			code = http.StatusServiceUnavailable
		}
		if gateway.Enabled() {
			resp.Chain = "enabled"
		}
		if broker.Enabled() {
			resp.Broker = "enabled"
		}
		entries, oldest := resolver.CacheStats()
		resp.ResolverEntries = entries
		resp.ResolverOldest = oldest.Truncate(time.Second).String()

		_ = apphttp.WriteJSON(w, code, &resp)
	}
}
