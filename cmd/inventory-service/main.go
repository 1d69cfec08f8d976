package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/config"
	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/handlers"
	"github.com/VeryGoodTravel/vgt-saga-flight/shared/saga"
	"github.com/VeryGoodTravel/vgt-saga-flight/shared/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 30 * time.Second
	// drainTimeout bounds how long queued replies may keep publishing after
	// a shutdown signal.
	drainTimeout = 10 * time.Second
)

func main() {
	flags := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	configDir := flags.String("config-dir", "", "directory holding <ENVIRONMENT>.json")
	flags.String("participant", "", "saga participant to serve: flight or hotel")
	_ = flags.Parse(os.Args[1:])

	// Load configuration
	cfg, err := config.ReadConfig(*configDir, flags)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	fmt.Printf("Starting %s in %s environment on port %s\n", cfg.ServiceName, cfg.Env, cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies
	deps, err := config.BuildDependencies(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to build dependencies: %v", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			log.Printf("Error closing dependencies: %v", err)
		}
	}()

	if err := run(ctx, cfg, deps); err != nil {
		deps.Logger.Error("service stopped with error", zap.Error(err))
		return
	}
	deps.Logger.Info("service stopped")
}

func run(ctx context.Context, cfg *config.Config, deps *config.Dependencies) error {
	ctx = telemetry.WithTelemetry(ctx, deps.Telemetry)
	logger := deps.Logger

	in := make(chan saga.Message, cfg.Dispatcher.InboundBuffer)
	out := make(chan saga.Message, cfg.Dispatcher.OutboundBuffer)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Replies already reflect committed state, so publishing outlives the
	// signal until the dispatcher has drained or drainTimeout passes.
	publishCtx, cancelPublish := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelPublish()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(in)
		return deps.Transport.Run(gctx, in)
	})
	g.Go(func() error {
		defer close(out)
		err := deps.Dispatcher.Run(gctx, in, out)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		// Whatever the transport handed over but no worker picked up goes
		// back to the queue. in closes once the transport has stopped.
		deps.Dispatcher.Drain(publishCtx, in)
		return nil
	})
	g.Go(func() error {
		err := deps.Gateway.Run(publishCtx, out)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return deps.Sweeper.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "failed to start server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", zap.String("service", cfg.ServiceName))

		time.AfterFunc(drainTimeout, cancelPublish)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return errors.Wrap(server.Shutdown(shutdownCtx), "server forced to shutdown")
	})

	return g.Wait()
}

func setupRouter(deps *config.Dependencies) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(telemetry.Middleware(deps.Telemetry))

	r.Get("/health", handlers.NewHealthHandler(deps.DB))

	// Metrics endpoint for Prometheus
	r.Handle("/metrics", handlers.NewMetricsHandler())

	deps.InventoryHandlers.RegisterRoutes(r)

	return r
}
