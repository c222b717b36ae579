// Command dwell serves the occupancy view over HTTP and, when configured,
// consumes action events from Kafka.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/dwell/internal/adapters/http/api"
	"github.com/okian/dwell/internal/adapters/http/swagger"
	"github.com/okian/dwell/internal/adapters/mq/kafka"
	service "github.com/okian/dwell/internal/app"
	"github.com/okian/dwell/internal/config"
	"github.com/okian/dwell/pkg/logger"
	"github.com/okian/dwell/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	configureLogging(ctx, cfg)

	if err := run(ctx, cfg, nil); err != nil {
		logger.Get().Error(ctx, "dwell exited with error", logger.Error(err))
		os.Exit(1)
	}
}

// configureLogging applies the configured format and level, falling back to
// text/info on invalid input.
func configureLogging(ctx context.Context, cfg *config.Config) {
	if err := logger.SetFormat(cfg.LogFormat); err != nil {
		_ = logger.SetFormat("text")
		logger.Get().Warn(ctx, "invalid log_format; falling back to text", logger.String("log_format", cfg.LogFormat), logger.Error(err))
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
}

// newService builds the occupancy service from configuration.
func newService(cfg *config.Config) *service.Service {
	return service.New(
		service.WithLogger(logger.Named("service")),
		service.WithQueueSize(cfg.QueueSize),
		service.WithDedupeSize(cfg.DedupeSize),
		service.WithStateKey(cfg.StateKey),
		service.WithDefaultStates(cfg.States()),
		service.WithOffsets(cfg.TimestampOffsets),
	)
}

// newHTTPServer registers the API and its docs on a fresh mux.
func newHTTPServer(cfg *config.Config, svc *service.Service) *http.Server {
	mux := http.NewServeMux()
	api.NewServer(svc, svc).Register(mux)
	swagger.Register(mux)
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// run starts every component and blocks until ctx is canceled or one of them
// fails. ln may be nil, in which case the server listens on cfg.Addr.
func run(ctx context.Context, cfg *config.Config, ln net.Listener) error {
	log := logger.Get()

	svc := newService(cfg)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	var consumer *kafka.Consumer
	if cfg.KafkaEnabled() {
		c, err := kafka.NewConsumer(kafka.Config{
			Brokers: cfg.Brokers(),
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
		}, svc)
		if err != nil {
			return err
		}
		consumer = c
	}

	srv := newHTTPServer(cfg, svc)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info(gctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		var err error
		if ln != nil {
			err = srv.Serve(ln)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	if consumer != nil {
		g.Go(func() error {
			defer func() { _ = consumer.Close() }()
			return consumer.Run(gctx)
		})
	}

	g.Go(func() error {
		startSystemMetricsUpdater(gctx)
		return nil
	})
	g.Go(func() error {
		startServiceMetricsUpdater(gctx, svc)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.WithoutCancel(gctx), "shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
		}
		log.Info(shutdownCtx, "server stopped")
		return nil
	})

	return g.Wait()
}

// startSystemMetricsUpdater periodically refreshes the process metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater periodically refreshes the service gauges.
func startServiceMetricsUpdater(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics updates service-level metrics. GetStats already
// refreshes the queue size gauge.
func updateServiceMetrics(svc *service.Service) {
	stats := svc.GetStats()
	if n, ok := stats["windowSamples"].(int); ok {
		metrics.UpdateWindowSamples(n)
	}
}
