// Command controller runs the control plane: the REST façade, the
// entity store, the blob store, the stream broker and the scheduler.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/penguinwhisk/controller/internal/activation"
	"github.com/penguinwhisk/controller/internal/api"
	"github.com/penguinwhisk/controller/internal/blob"
	"github.com/penguinwhisk/controller/internal/broker"
	"github.com/penguinwhisk/controller/internal/config"
	"github.com/penguinwhisk/controller/internal/metrics"
	"github.com/penguinwhisk/controller/internal/orchestrator"
	"github.com/penguinwhisk/controller/internal/scheduler"
	"github.com/penguinwhisk/controller/internal/store"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Error("load configuration", zap.Error(err))
		return err
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(ctx, cfg.DatabaseURL, log.Named("store"))
	if err != nil {
		log.Error("open entity store", zap.Error(err))
		return err
	}
	defer st.Close()

	bl, err := blob.New(ctx, blob.Options{
		Endpoint:   cfg.BlobEndpoint,
		Region:     cfg.BlobRegion,
		AccessKey:  cfg.BlobAccessKey,
		SecretKey:  cfg.BlobSecretKey,
		Bucket:     cfg.BlobBucket,
		UseSSL:     cfg.BlobUseSSL,
		MaxRetries: cfg.BlobRetries,
		Logger:     log.Named("blob"),
	})
	if err != nil {
		log.Error("open blob store", zap.Error(err))
		return err
	}

	br, err := broker.New(ctx, broker.Options{
		URL:    cfg.RedisURL,
		Prefix: cfg.StreamPrefix,
		MaxLen: cfg.StreamMaxLen,
		Logger: log.Named("broker"),
	})
	if err != nil {
		log.Error("connect broker", zap.Error(err))
		return err
	}
	defer br.Close()

	sched := scheduler.New(scheduler.Options{
		Broker:   br,
		Window:   cfg.HeartbeatWindow,
		Interval: cfg.MonitorInterval,
		Logger:   log.Named("scheduler"),
	})
	sched.Start(ctx)
	defer sched.Stop()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	acts := activation.New(st, br, log.Named("activation"))
	orch := orchestrator.New(st, bl, br, sched, acts, m, log.Named("orchestrator"))

	server := api.New(api.Options{
		Store:        st,
		Blob:         bl,
		Orchestrator: orch,
		Scheduler:    sched,
		Activations:  acts,
		Metrics:      m,
		Gatherer:     registry,
		Logger:       log.Named("api"),
	})

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("controller listening", zap.Int("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("controller exited", zap.Error(err))
		return err
	}
	log.Info("controller stopped")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
