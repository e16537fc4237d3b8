// fruitstatic serves a directory tree (or an S3 prefix) over HTTP.
//
// Features:
// - In-memory metadata index (eager walk or lazy stat)
// - Range requests for media seeking
// - ETag validation with server-side freshness records
// - Prometheus metrics, structured logging (zap), OpenTelemetry tracing
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/fruitstatic/internal/api"
	"github.com/fruitsalade/fruitstatic/internal/cache"
	"github.com/fruitsalade/fruitstatic/internal/config"
	"github.com/fruitsalade/fruitstatic/internal/index"
	"github.com/fruitsalade/fruitstatic/internal/logging"
	"github.com/fruitsalade/fruitstatic/internal/metrics"
	"github.com/fruitsalade/fruitstatic/internal/resolver"
	"github.com/fruitsalade/fruitstatic/internal/storage/factory"
	"github.com/fruitsalade/fruitstatic/internal/storage/local"
	s3source "github.com/fruitsalade/fruitstatic/internal/storage/s3"
	"github.com/fruitsalade/fruitstatic/internal/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("fruitstatic starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("source", cfg.Source),
		zap.String("index_mode", string(cfg.IndexMode)))

	if cfg.Gzip {
		logging.Warn("GZIP is set but compression is not supported; ignoring")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName: "fruitstatic",
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
	})
	if err != nil {
		logging.Fatal("tracing init failed", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logging.Error("tracing shutdown failed", zap.Error(err))
		}
	}()

	// Origin
	src, err := factory.New(ctx, factory.Config{
		Type:  cfg.Source,
		Local: local.Config{RootPath: cfg.RootDir},
		S3: s3source.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
		},
	})
	if err != nil {
		logging.Fatal("source init failed", zap.Error(err))
	}
	defer src.Close()

	// Metadata index
	ix, err := index.New(src, index.Config{
		Mode:     cfg.IndexMode,
		Capacity: cfg.IndexCapacity,
		TTL:      cfg.IndexTTL,
	})
	if err != nil {
		logging.Fatal("index init failed", zap.Error(err))
	}
	if cfg.IndexMode == index.ModeEager {
		if _, err := ix.Build(ctx); err != nil {
			logging.Fatal("index build failed", zap.Error(err))
		}
		if cfg.IndexRefresh > 0 {
			go ix.Refresh(ctx, cfg.IndexRefresh)
		}
	}

	// Resolver
	tokens, err := cache.New[string, resolver.FreshnessRecord](cache.Config{
		Capacity: cfg.TokenCapacity,
		TTL:      cfg.MaxAge,
	})
	if err != nil {
		logging.Fatal("token cache init failed", zap.Error(err))
	}
	res, err := resolver.New(ix, tokens, resolver.Config{
		MaxAge:        cfg.MaxAge,
		CacheAllTypes: !cfg.NoCache,
		ChunkSize:     cfg.ChunkSize,
		ConfineToRoot: cfg.ConfineToRoot,
		Headers:       headerRules(cfg.ExtraHeaders),
	})
	if err != nil {
		logging.Fatal("resolver init failed", zap.Error(err))
	}

	srv := api.NewServer(res, ix)

	// Metrics server
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metrics.Handler(),
		}
		go func() {
			logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
				logging.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		httpServer.Shutdown(shutdownCtx)
		if metricsServer != nil {
			metricsServer.Shutdown(shutdownCtx)
		}
	}()

	logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}

func headerRules(headers []config.Header) []resolver.HeaderRule {
	rules := make([]resolver.HeaderRule, 0, len(headers))
	for _, h := range headers {
		value := h.Value
		rules = append(rules, resolver.HeaderRule{
			Name:  h.Name,
			Value: func(index.FileEntry) string { return value },
		})
	}
	return rules
}
