package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"tubepilot.app/internal/billing"
	"tubepilot.app/internal/config"
	"tubepilot.app/internal/entitlement"
	"tubepilot.app/internal/gate"
	"tubepilot.app/internal/history"
	"tubepilot.app/internal/httpapi"
	"tubepilot.app/internal/llm"
	"tubepilot.app/internal/migrate"
	"tubepilot.app/internal/obs"
	"tubepilot.app/internal/panels"
	"tubepilot.app/internal/session"
)

// Set via -ldflags at build time.
var (
	version = "0.1.0"
	commit  = ""
)

func main() {
	var (
		configPath  = flag.String("config", config.PathFromEnv(), "path to YAML config")
		autoMigrate = flag.Bool("migrate", false, "apply history migrations before serving")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := obs.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	obs.SetLogger(logger)
	obs.Init()
	build := obs.InitBuildInfo(version, commit)
	logger.Info("starting tubepilot", zap.String("version", build.Version), zap.String("commit", build.Commit), zap.String("go", build.GoVersion))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *autoMigrate); err != nil {
		logger.Fatal("tubepilot exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, autoMigrate bool) error {
	var ready httpapi.ReadyProbe

	// access gate
	var provider entitlement.BillingProvider
	if cfg.BillingConfigured() {
		provider = billing.NewStripe(cfg.Billing.StripeAPIKey,
			billing.WithBackendURL(cfg.Billing.BackendURL),
			billing.WithLogger(logger),
		)
	} else {
		logger.Warn("stripe api key not set; only allow-listed emails have access")
	}
	oracle := entitlement.New(entitlement.Config{
		AllowList:         cfg.Access.AdminEmails,
		BillingConfigured: cfg.BillingConfigured(),
		Timeout:           cfg.BillingTimeout(),
	}, provider, entitlement.WithLogger(logger))
	accessGate := gate.New(oracle, gate.WithLogger(logger))

	// sessions and login
	var sessions *session.Manager
	if cfg.Auth.SessionSecret != "" {
		m, err := session.NewManager(cfg.Auth.SessionSecret,
			session.WithTTL(cfg.SessionTTL()),
			session.WithSecureCookies(cfg.SecureCookies()),
		)
		if err != nil {
			return fmt.Errorf("session manager: %w", err)
		}
		sessions = m
	} else {
		logger.Warn("session secret not set; every visitor is anonymous")
	}

	var states session.StateCache = session.NewMemoryStateCache(cfg.StateTTL())
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		redisStates := session.NewRedisStateCache(rdb, cfg.Redis.KeyPrefix, cfg.StateTTL())
		states = redisStates
		ready.Redis = redisStates
	}

	var login httpapi.LoginFlow
	if cfg.LoginConfigured() {
		p, err := session.NewProvider(ctx, session.OIDCConfig{
			Issuer:       cfg.Auth.Issuer,
			ClientID:     cfg.Auth.GoogleClientID,
			ClientSecret: cfg.Auth.GoogleClientSecret,
			RedirectURL:  cfg.RedirectURL(),
		}, states)
		if err != nil {
			return fmt.Errorf("oidc provider: %w", err)
		}
		login = p
	} else {
		logger.Warn("google login not configured")
	}

	// language model
	var gen llm.Generator
	if cfg.LLMConfigured() {
		g, err := llm.NewGenAI(ctx, llm.Config{
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLMTimeout(),
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		gen = g
	} else {
		logger.Warn("gemini api key not set; keyword and idea panels disabled")
	}

	// panel history
	panelOpts := []panels.Option{panels.WithLogger(logger)}
	var recent httpapi.HistoryReader
	if cfg.History.PostgresDSN != "" {
		store, err := history.Open(cfg.History.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer func() { _ = store.Close() }()
		if autoMigrate {
			applied, err := migrate.NewManager(store.DB(), history.Migrations(), migrate.WithLogger(logger)).Up(ctx)
			if err != nil {
				return fmt.Errorf("migrate history: %w", err)
			}
			logger.Info("history migrations applied", zap.Strings("applied", applied))
		}
		panelOpts = append(panelOpts, panels.WithRecorder(store))
		recent = store
		ready.DB = store
	}

	proxies, err := httpapi.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	api := httpapi.New(httpapi.Deps{
		Gate:           accessGate,
		Sessions:       sessions,
		Login:          login,
		Panels:         panels.NewService(gen, panelOpts...),
		History:        recent,
		Ready:          ready,
		Version:        version,
		UpgradeURL:     cfg.Billing.UpgradeURL,
		PlanName:       cfg.Billing.PlanName,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		TrustedProxies: proxies,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.ReadTimeout(),
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      cfg.WriteTimeout(),
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	var gs *grpc.Server
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		gs = grpc.NewServer()
		healthpb.RegisterHealthServer(gs, httpapi.NewGRPCServer(ready, version, logger))
		go func() {
			logger.Info("grpc listening", zap.String("addr", cfg.Server.GRPCAddr))
			if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if gs != nil {
		gs.GracefulStop()
	}
	logger.Info("stopped")
	return runErr
}
