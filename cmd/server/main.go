package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/analysis"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/config"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/crypto"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/grpcapi"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/httpapi"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/monitoring"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/notify"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/service"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/session"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/store"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		monitoring.SetupLogger("info", "console")
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	monitoring.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	monitoring.InitMetrics()

	ctx := context.Background()
	dbCfg := store.Config{
		Driver:       cfg.DBDriver,
		DSN:          cfg.DatabaseURL,
		QueryTimeout: cfg.DBQueryTimeout,
		MaxOpenConns: cfg.DBMaxOpenConns,
	}
	db, err := store.Open(ctx, dbCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	report, err := store.Prepare(ctx, dbCfg, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}
	if !report.OK() {
		log.Warn().Int("failed", len(report.Failed)).Msg("Schema evolution incomplete, continuing with the columns available")
	}

	tenantRepo := store.NewTenantRepository(db)
	userRepo := store.NewUserRepository(db)
	hasher := crypto.NewHasher(cfg.APIKeyPepper)
	if cfg.APIKeyPepper == "" {
		log.Warn().Msg("API_KEY_PEPPER not set, key hashes are plain SHA-256")
	}

	policy, err := service.ParsePolicy(cfg.ReprovisionPolicy)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid reprovision policy")
	}

	var (
		locker service.Locker  = service.NewMemoryLocker()
		dedupe webhook.Deduper = webhook.NewMemoryDeduper(cfg.WebhookDedupeTTL)
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid REDIS_URL")
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		locker = service.NewRedisLocker(rdb, cfg.ProvisionLockTTL, cfg.ProvisionLockTTL)
		dedupe = webhook.NewRedisDeduper(rdb, cfg.WebhookDedupeTTL)
		log.Info().Msg("Redis locks and webhook de-duplication enabled")
	}

	provisioning := service.NewProvisioningService(tenantRepo, hasher, service.ProvisioningConfig{
		KeyPrefix: cfg.APIKeyPrefix,
		Policy:    policy,
		Locker:    locker,
	})
	log.Info().Str("policy", string(provisioning.Policy())).Msg("Re-provisioning policy in effect")
	authenticator := service.NewAuthenticator(tenantRepo, hasher, cfg.APIKeyPrefix)
	tenants := service.NewTenantService(tenantRepo)
	users := service.NewUserService(userRepo, tenantRepo, service.UserServiceConfig{
		SuperAdminKey:   cfg.SuperAdminKey,
		SuperAdminEmail: cfg.SuperAdminEmail,
		BcryptCost:      cfg.BcryptCost,
	})

	if err := service.Bootstrap(ctx, tenantRepo, users, service.BootstrapConfig{
		SuperAdminEmail: cfg.SuperAdminEmail,
		SuperAdminName:  cfg.SuperAdminName,
		DemoEmail:       cfg.DemoEmail,
		DemoPassword:    cfg.DemoPassword,
		DemoTenantName:  cfg.DemoTenantName,
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed accounts")
	}

	var delivery notify.KeyDelivery = notify.Discard{}
	if cfg.SMTPEnabled() {
		delivery = notify.NewSMTPDelivery(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom)
	}
	dispatcher := notify.NewDispatcher(delivery, 100)
	defer dispatcher.Close()

	if cfg.StripeWebhookSecret == "" {
		log.Warn().Msg("STRIPE_WEBHOOK_SECRET not set, every webhook delivery will be rejected")
	}
	intake := webhook.NewIntake(webhook.Config{
		Secret:    cfg.StripeWebhookSecret,
		Tolerance: cfg.StripeWebhookTolerance,
	}, provisioning, dispatcher, dedupe)

	issuer, err := session.NewIssuer(sessionSecret(cfg.SessionSecret), cfg.SessionTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid session secret")
	}

	var analyzer httpapi.Analyzer
	if cfg.AnalysisURL != "" {
		analyzer = analysis.NewClient(analysis.Config{
			URL:     cfg.AnalysisURL,
			APIKey:  cfg.AnalysisAPIKey,
			Model:   cfg.AnalysisModel,
			Timeout: cfg.AnalysisTimeout,
		}, nil)
	}

	apiServer := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Provisioning: provisioning,
			Auth:         authenticator,
			Tenants:      tenants,
			Users:        users,
			Sessions:     issuer,
			Analysis:     analyzer,
			Webhook:      intake,
			Delivery:     dispatcher,
			AdminKey:     cfg.SuperAdminKey,
			RateLimit:    cfg.AuthRateLimit,
			RateBurst:    cfg.AuthRateBurst,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to listen")
	}
	grpcServer, health := grpcapi.NewServer(authenticator)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	opsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(sigCtx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP API listening")
		return serveHTTP(apiServer)
	})
	g.Go(func() error {
		log.Info().Msgf("gRPC server listening at %v", lis.Addr())
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("HTTP server for health checks and metrics started")
		return serveHTTP(opsServer)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		health.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP API shutdown")
		}
		grpcServer.GracefulStop()
		_ = opsServer.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with an error")
	}
	log.Info().Msg("Server exiting")
}

func serveHTTP(s *http.Server) error {
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// sessionSecret falls back to a per-process secret, which logs everyone out
// on restart.
func sessionSecret(configured string) string {
	if configured != "" {
		return configured
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		log.Fatal().Err(err).Msg("Failed to generate session secret")
	}
	log.Warn().Msg("SESSION_SECRET not set, sessions will not survive a restart")
	return hex.EncodeToString(b)
}
