// Souq listing assistant server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/ashureev/souq-assistant/internal/agent"
	"github.com/ashureev/souq-assistant/internal/api"
	"github.com/ashureev/souq-assistant/internal/config"
	"github.com/ashureev/souq-assistant/internal/identity"
	"github.com/ashureev/souq-assistant/internal/janitor"
	"github.com/ashureev/souq-assistant/internal/kb"
	"github.com/ashureev/souq-assistant/internal/llm"
	"github.com/ashureev/souq-assistant/internal/middleware"
	"github.com/ashureev/souq-assistant/internal/publisher"
	"github.com/ashureev/souq-assistant/internal/ratelimit"
	"github.com/ashureev/souq-assistant/internal/store"
)

const healthProbeInterval = 30 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "dev", cfg.IsDevelopment())

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	catalog, err := kb.Load(cfg.KBPath, cfg.KBMatchThreshold)
	if err != nil {
		return fmt.Errorf("load knowledge base: %w", err)
	}
	slog.Info("Knowledge base loaded",
		"categories", len(catalog.Categories),
		"cities", len(catalog.Cities),
		"faq", len(catalog.FAQ))

	opts := []agent.Option{
		agent.WithLogger(logger),
		agent.WithIdempotencyTTL(cfg.IdempotencyTTL),
	}
	provider, err := llm.FromSpecs(cfg.LLM.Primary, cfg.LLM.Fallback)
	switch {
	case errors.Is(err, llm.ErrNoProvider):
		slog.Info("LLM fallback disabled (LLM_PRIMARY and LLM_FALLBACK not set)")
	case err != nil:
		return fmt.Errorf("initialize LLM provider: %w", err)
	default:
		slugs := make([]string, 0, len(catalog.Categories))
		for _, c := range catalog.Categories {
			slugs = append(slugs, c.Slug)
		}
		limiter := ratelimit.New(cfg.RateLimit.LLMRequests, cfg.RateLimit.LLMWindow,
			ratelimit.NewMemoryStore(cfg.RateLimit.LLMWindow))
		opts = append(opts, agent.WithFieldParser(llm.NewFieldParser(provider, cfg.LLM.Timeout, slugs), limiter))
		slog.Info("LLM fallback enabled", "provider", provider.Name(), "timeout", cfg.LLM.Timeout)
	}

	pub := publisher.New(cfg.PublishURL, cfg.PublishTimeout, logger)
	svc := agent.NewService(repo, catalog, pub, opts...)

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize conversation logger: %w", err)
	}

	sessions := agent.NewSessionManager()
	agentHandler := agent.NewHandler(svc, sessions, agent.HandlerConfig{
		ChatLimiter: ratelimit.New(cfg.RateLimit.ChatRequests, cfg.RateLimit.ChatWindow,
			ratelimit.NewMemoryStore(cfg.RateLimit.ChatWindow)),
		ConversationLog:    conversationLogger,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
		AllowedOrigin:      cfg.FrontendURL,
		IsDev:              cfg.IsDevelopment(),
	})
	defer agentHandler.Close()

	healthHandler := api.NewHealthHandler(repo, cfg.HealthCheckTimeout, svc.LLMEnabled())
	configHandler := api.NewConfigHandler(catalog, svc.LLMEnabled())

	origins := []string{"*"}
	if cfg.FrontendURL != "" && !cfg.IsDevelopment() {
		origins = []string{cfg.FrontendURL}
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.Metrics)
	r.Use(middleware.CORS(origins))

	// Public routes.
	healthHandler.RegisterHealth(r)
	configHandler.RegisterRoutes(r)
	r.Handle("/metrics", promhttp.Handler())

	// Assistant routes need a user.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(identity.Options{
			UserHeader:     cfg.UserIDHeader,
			AllowAnonymous: cfg.AllowAnonymous,
			IsDev:          cfg.IsDevelopment(),
		}))
		agentHandler.RegisterRoutes(r)
	})

	// WebSocket connections are long lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	healthServer := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	janitor.Start(ctx, repo, cfg.JanitorInterval, cfg.DraftTTL)

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		addr := ":" + cfg.GRPCPort
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen for gRPC on %s: %w", addr, err)
		}
		slog.Info("gRPC health server listening", "addr", addr)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		watchHealth(groupCtx, repo, healthServer, cfg.HealthCheckTimeout)
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		slog.Info("Shutting down gracefully...")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
		}
		grpcServer.GracefulStop()
		return nil
	})

	return g.Wait()
}

// watchHealth mirrors database reachability into the gRPC health service.
func watchHealth(ctx context.Context, repo store.Repository, hs *health.Server, timeout time.Duration) {
	probe := func() {
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		status := healthpb.HealthCheckResponse_SERVING
		if err := repo.Ping(pingCtx); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("Database ping failed", "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
	}

	probe()
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			probe()
		case <-ctx.Done():
			return
		}
	}
}
