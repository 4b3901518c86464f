package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/vulndash/internal/api"
	"github.com/ashureev/vulndash/internal/assist"
	"github.com/ashureev/vulndash/internal/cache"
	"github.com/ashureev/vulndash/internal/github"
	"github.com/ashureev/vulndash/internal/metrics"
	"github.com/ashureev/vulndash/internal/suggest"
	"github.com/ashureev/vulndash/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard HTTP server (and optional gRPC suggestion server)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func runServe(ctx context.Context) error {
	logger := slog.Default()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	repo, err := openStore(cfg.Cache, logger)
	if err != nil {
		return fmt.Errorf("open cache store: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Error("Failed to close cache store", "error", err)
		}
	}()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = repo.Ping(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("ping cache store: %w", err)
	}
	logger.Info("Cache store ready", "backend", cfg.Cache.Backend, "retention", cfg.Cache.Retention)

	results := newCache(repo, cfg.Cache, m, logger)
	cache.StartSweeper(ctx, results, cfg.Cache.SweepInterval)

	provider, err := github.New(ctx, github.Config{
		Token:       cfg.GitHub.Token,
		BaseURL:     cfg.GitHub.APIURL,
		MaxRepos:    cfg.GitHub.MaxRepos,
		Concurrency: cfg.GitHub.Concurrency,
		Timeout:     cfg.GitHub.RequestTimeout,
		Metrics:     m,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("create GitHub provider: %w", err)
	}

	var generator assist.Transport
	gen, err := newGenerator(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create suggestion generator: %w", err)
	}
	if gen != nil {
		generator = gen
	} else {
		logger.Warn("No OpenAI or Azure OpenAI credentials; /stream_fix will answer 503")
	}

	transport, closeTransport, err := newTransport(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeTransport()

	h := api.NewHandler(api.Options{
		Provider:       provider,
		Generator:      generator,
		Assist:         transport,
		Cache:          results,
		Store:          repo,
		Gatherer:       reg,
		Metrics:        m,
		Session:        sessionConfig(cfg, logger),
		RateLimit:      rate.Limit(cfg.RateLimit.RPS),
		RateBurst:      cfg.RateLimit.Burst,
		AllowedOrigins: cfg.AllowedOrigins(),
		IsDev:          cfg.IsDevelopment(),
		SPA:            web.SPAHandler(),
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      h.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // suggestion streams and WebSockets are long-lived
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var grpcServer *grpc.Server
	if cfg.GRPCPort > 0 {
		if generator == nil {
			logger.Warn("gRPC suggestion server disabled: no generator configured")
		} else {
			grpcServer, err = startGRPC(cfg.GRPCPort, generator, logger, errCh)
			if err != nil {
				return err
			}
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutting down server...")
	case err := <-errCh:
		logger.Error("Server failed", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
		return err
	}
	logger.Info("Server stopped")
	return nil
}

func startGRPC(port int, gen assist.Transport, logger *slog.Logger, errCh chan<- error) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen gRPC: %w", err)
	}

	s := grpc.NewServer()
	suggest.RegisterSuggestionServer(s, suggest.NewGRPCServer(gen, logger))

	hs := health.NewServer()
	hs.SetServingStatus(suggest.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	go func() {
		logger.Info("gRPC suggestion server starting", "port", port)
		if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	return s, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
