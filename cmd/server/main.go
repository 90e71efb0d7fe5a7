package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/crewgate/internal"
	"github.com/DukeRupert/crewgate/internal/auth"
	"github.com/DukeRupert/crewgate/internal/billing"
	"github.com/DukeRupert/crewgate/internal/csrf"
	"github.com/DukeRupert/crewgate/internal/domain"
	"github.com/DukeRupert/crewgate/internal/handler"
	"github.com/DukeRupert/crewgate/internal/metrics"
	"github.com/DukeRupert/crewgate/internal/middleware"
	"github.com/DukeRupert/crewgate/internal/service"
	"github.com/DukeRupert/crewgate/internal/store"
	"github.com/DukeRupert/crewgate/internal/worker"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stripe/stripe-go/v79"
)

// storage is what the server needs from either store implementation.
type storage interface {
	service.Store
	CreateUser(ctx context.Context, u store.NewUser) (domain.Principal, error)
	CreateSession(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error
	DeleteExpiredSessions(ctx context.Context) (int64, error)
}

func run() error {
	seed := flag.Bool("seed", false, "create a development user and print its credentials")
	seedPrice := flag.String("seed-price", "", "Stripe price ID that sets the seeded user's tier")
	seedStatus := flag.String("seed-status", string(stripe.SubscriptionStatusActive), "Stripe subscription status for the seeded user")
	flag.Parse()

	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// ==========================================================================
	// Storage
	// ==========================================================================

	var (
		st storage
		db *sql.DB
	)
	switch cfg.Store {
	case internal.StorePostgres:
		db, err = sql.Open("pgx", cfg.DatabaseUrl)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()

		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}

		if err := internal.RunMigrations(ctx, db, logger); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		st = store.NewPostgres(db, store.PostgresConfig{
			MaxFailures: cfg.BreakerMaxFailures,
			Timeout:     cfg.BreakerTimeout,
		}, logger)
		logger.Info("Database ready")
	default:
		st = store.NewMemory(time.Now)
		logger.Warn("Using in-memory store; state is lost on restart")
	}

	// ==========================================================================
	// Services
	// ==========================================================================

	quotaService := service.NewQuotaService(st, service.QuotaConfig{
		Policy:   cfg.QuotaPolicy(),
		Location: cfg.QuotaLocation,
	}, logger)
	entitlementService := service.NewEntitlementService(quotaService, service.EntitlementConfig{
		Caps: cfg.ResourceCaps(),
	}, logger)
	referralService := service.NewReferralService(st, service.ReferralConfig{}, logger)

	resolver := auth.NewResolver(st, auth.ResolverConfig{
		Secret: []byte(cfg.JWTSecret),
		Issuer: cfg.JWTIssuer,
	}, logger)

	if *seed {
		mapper := billing.NewMapper(billing.PriceConfig{
			ProPriceIDs:        cfg.StripeProPriceIDs,
			EnterprisePriceIDs: cfg.StripeEnterprisePriceIDs,
		})
		if err := seedUser(ctx, st, resolver, mapper, *seedPrice, *seedStatus, logger); err != nil {
			return fmt.Errorf("seed failed: %w", err)
		}
		if cfg.Store == internal.StorePostgres {
			return nil
		}
	}

	// ==========================================================================
	// Background maintenance
	// ==========================================================================

	workerCfg := worker.DefaultConfig()
	workerCfg.Interval = cfg.SessionSweepInterval
	bgWorker, err := worker.New(workerCfg, logger)
	if err != nil {
		return fmt.Errorf("worker initialization failed: %w", err)
	}
	bgWorker.Register(worker.NewSessionSweep(st, logger))

	// ==========================================================================
	// Middleware
	// ==========================================================================

	isSecure := cfg.IsSecure()
	principalMw := middleware.NewPrincipalMiddleware(resolver, logger, isSecure)
	entitlementMw := middleware.NewEntitlementMiddleware(entitlementService, logger)
	anonymousLimiter := middleware.NewAnonymousLimiter(cfg.QuotaPolicy().DailyLimit(domain.TierFree), logger)
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	securityMw := middleware.NewSecurityHeadersMiddleware(isSecure)
	csrfMw := csrf.NewMiddleware(middleware.SessionCookieName, isSecure, logger)
	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword, logger)
	if cfg.MetricsUsername == "" {
		logger.Warn("METRICS_USERNAME not set; /metrics is unprotected")
	}

	requireUser := middleware.RequireUser(logger)
	requireReferral := middleware.Stack(requireUser, entitlementMw.Require(domain.OperationReferral))

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	handler.NewHealthHandler(pinger(db), logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	handler.NewUsageHandler(quotaService, entitlementService, cfg.QuotaLocation, logger).
		RegisterRoutes(mux, requireUser)
	handler.NewReferralHandler(referralService, middleware.ClientIP, logger).
		RegisterRoutes(mux, requireReferral)
	quotaMeter := middleware.NewQuotaMeter(entitlementService, anonymousLimiter)
	handler.NewOperationHandler(quotaService, quotaMeter, logger).
		RegisterRoutes(mux, entitlementMw.Require, anonymousLimiter.Limit)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		handler.NotFoundResponse(w, r, logger)
	})

	root := middleware.Stack(
		metrics.Middleware,
		securityMw.Handler,
		csrfMw.Handler,
		principalMw.Resolve,
		loggingMw.Handler,
	)(mux)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	bgWorker.Start(workerCtx)

	// Start server in goroutine
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env, "store", cfg.Store)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	bgWorker.Stop()

	logger.Info("Graceful shutdown complete")
	return nil
}

// pinger keeps a nil *sql.DB from becoming a non-nil interface.
func pinger(db *sql.DB) handler.Pinger {
	if db == nil {
		return nil
	}
	return db
}

// seedUser creates a development user whose subscription is described in
// Stripe terms, then prints a session token and a bearer token for it.
func seedUser(ctx context.Context, st storage, resolver *auth.Resolver, mapper *billing.Mapper, priceID, status string, logger *slog.Logger) error {
	end := time.Now().AddDate(0, 1, 0)
	sub := &stripe.Subscription{
		Status:           stripe.SubscriptionStatus(status),
		CurrentPeriodEnd: end.Unix(),
	}
	if priceID != "" {
		sub.Items = &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{Price: &stripe.Price{ID: priceID}}},
		}
	}
	state := mapper.StateFromSubscription(sub)

	user, err := st.CreateUser(ctx, store.NewUser{
		Email:               fmt.Sprintf("dev+%d@crewgate.local", time.Now().Unix()),
		DisplayName:         "Dev Medic",
		Tier:                state.Tier,
		SubscriptionStatus:  state.Status,
		SubscriptionEndDate: state.EndDate,
	})
	if err != nil {
		return err
	}

	raw := make([]byte, auth.SessionTokenLength/2)
	if _, err := rand.Read(raw); err != nil {
		return err
	}
	sessionToken := hex.EncodeToString(raw)
	if err := st.CreateSession(ctx, user.ID, auth.HashSessionToken(sessionToken), time.Now().Add(7*24*time.Hour)); err != nil {
		return err
	}

	logger.Info("Seeded user", "user_id", user.ID, "tier", state.Tier, "status", state.Status)
	fmt.Printf("%s=%s\n", middleware.SessionCookieName, sessionToken)

	if bearer, err := resolver.IssueToken(user.ID, auth.DefaultTokenTTL); err == nil {
		fmt.Printf("Authorization: Bearer %s\n", bearer)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
