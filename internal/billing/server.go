package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mtliendo/circular-dashboard-design/internal/billing/admin"
	"github.com/mtliendo/circular-dashboard-design/internal/billing/identity"
	"github.com/mtliendo/circular-dashboard-design/internal/billing/ledger"
	"github.com/mtliendo/circular-dashboard-design/internal/billing/orgstate"
	"github.com/mtliendo/circular-dashboard-design/internal/billing/ratelimit"
	"github.com/mtliendo/circular-dashboard-design/internal/billing/registry"
	"github.com/mtliendo/circular-dashboard-design/internal/billing/stripe"
	"github.com/mtliendo/circular-dashboard-design/internal/logging"
)

const shutdownTimeout = 30 * time.Second

// Service is the wired set of billing components shared by the HTTP
// server and the CLI replay command.
type Service struct {
	Config     *Config
	Registry   *registry.Registry
	Reconciler *orgstate.Reconciler
	Deps       *Deps

	redis *redis.Client
}

// NewService opens storage and wires every component described by cfg.
func NewService(ctx context.Context, cfg *Config, version string) (*Service, error) {
	catalog, err := cfg.LoadCatalog()
	if err != nil {
		return nil, fmt.Errorf("load plan catalog: %w", err)
	}

	if err := os.MkdirAll(cfg.RegistryDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	reg, err := registry.Open(cfg.RegistryDir())
	if err != nil {
		return nil, fmt.Errorf("open billing registry: %w", err)
	}

	svc := &Service{Config: cfg, Registry: reg}
	deps := &Deps{
		Config:     cfg,
		Registry:   reg,
		Catalog:    catalog,
		StatusInfo: admin.StatusInfo{Version: version},
	}

	if cfg.ClerkSecretKey != "" {
		deps.Store = identity.NewClerkClient(cfg.ClerkAPIURL, cfg.ClerkSecretKey)
		deps.StatusInfo.OrganizationStore = "clerk"
		log.Info().Str("api_url", cfg.ClerkAPIURL).Msg("Organization store: Clerk")
	} else {
		deps.Store = identity.NewLocalStore(reg)
		deps.StatusInfo.OrganizationStore = "local"
		log.Info().Msg("Organization store: local registry (set CLERK_SECRET_KEY to use Clerk)")
	}

	if cfg.ClerkJWTKey != "" {
		sessions, err := identity.NewSessionVerifier(cfg.ClerkJWTKey, nil)
		if err != nil {
			_ = reg.Close()
			return nil, fmt.Errorf("CLERK_JWT_KEY: %w", err)
		}
		deps.Sessions = sessions
	} else {
		log.Warn().Msg("CLERK_JWT_KEY not set; session endpoints disabled")
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			_ = reg.Close()
			return nil, fmt.Errorf("CIRCULAR_REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			_ = reg.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		svc.redis = client
		deps.Ledger = ledger.NewRedisLedger(client, ledger.DefaultClaimTTL, ledger.DefaultDoneTTL)
		deps.StatusInfo.EventLedger = "redis"
		deps.Limiter = ratelimit.NewRedisLimiter(client, ratelimit.Limit{})
	} else {
		deps.Ledger = ledger.NewSQLiteLedger(reg, ledger.DefaultClaimTTL)
		deps.StatusInfo.EventLedger = "sqlite"
	}

	if cfg.StripeSecretKey != "" {
		deps.LineItems = stripe.NewSessionLineItems(cfg.StripeSecretKey)
	} else {
		log.Warn().Msg("STRIPE_SECRET_KEY not set; line-item plan fallback disabled")
	}

	deps.Updater = orgstate.NewUpdater(deps.Store, catalog, reg)
	svc.Reconciler = orgstate.NewReconciler(deps.Updater, reg, cfg.ReconcileInterval, 0)
	deps.Replayer = svc.Reconciler
	svc.Deps = deps
	return svc, nil
}

// Close releases storage handles.
func (s *Service) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	errs = append(errs, s.Registry.Close())
	return errors.Join(errs...)
}

// Run starts the billing HTTP server and reconciler with graceful shutdown.
func Run(ctx context.Context, version string) error {
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: "billing"})

	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "billing"})
	log.Info().Str("version", version).Msg("Starting Circular billing service")

	svc, err := NewService(ctx, cfg, version)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(svc.Deps),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		svc.Reconciler.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Billing service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
		return nil
	})

	err = g.Wait()
	log.Info().Msg("Billing service stopped")
	return err
}
