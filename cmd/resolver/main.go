package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"inntekt/internal/bus"
	"inntekt/internal/period"
	"inntekt/internal/platform/config"
	"inntekt/internal/platform/httpserver"
	"inntekt/internal/platform/logger"
	"inntekt/internal/platform/metrics"
	"inntekt/internal/registry"
	"inntekt/internal/resolve"
	"inntekt/internal/resolve/dedupe"
	"inntekt/internal/sts"
)

// Capabilities this resolver answers. IncomeCalc derives the reporting
// filter from the requested window; the two grunnlag capabilities are
// pinned to their regulatory article.
const (
	capIncomeCalc      = "IncomeCalc"
	capSickPayBasis    = "InntekterForSykepengegrunnlag"
	capComparisonBasis = "InntekterForSammenligningsgrunnlag"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal packages.
func main() {
	log := logger.New()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("resolver exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	stsClient := sts.New(cfg.STSBaseURL,
		sts.ServiceUser{Username: cfg.Username, Password: cfg.Password},
		sts.WithRefreshHook(m.TokenRefreshes.Inc),
	)
	registryClient := registry.New(cfg.RegistryBaseURL, stsClient)

	store, closeStore, err := newDedupeStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, err := bus.NewPublisher(cfg.KafkaBrokers, cfg.NeedTopic)
	if err != nil {
		return err
	}
	defer publisher.Close()

	engines, err := buildEngines(cfg, registryClient, publisher, store, m, log)
	if err != nil {
		return err
	}

	consumer, err := bus.NewConsumer(ctx, cfg.KafkaBrokers, cfg.NeedTopic, cfg.GroupID, cfg.Workers, engines, log)
	if err != nil {
		return err
	}
	defer consumer.Close()

	var ready atomic.Bool
	ready.Store(true)
	defer ready.Store(false)

	srv := httpserver.New(cfg.Addr, ready.Load)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("consuming needs",
			slog.String("topic", cfg.NeedTopic),
			slog.String("group", cfg.GroupID),
		)
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		log.Info("serving health and metrics", slog.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// Shutdown order: the consumer stops first via gctx; the HTTP
		// server stays up through the grace period so the platform keeps
		// scraping and probing until in-flight work drains.
		<-gctx.Done()
		ready.Store(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func buildEngines(cfg config.Config, lookup resolve.IncomeLookup, publisher resolve.Publisher, store dedupe.Store, m *metrics.Metrics, log *slog.Logger) ([]bus.Handler, error) {
	defs := []struct {
		capability string
		strategy   period.FilterStrategy
	}{
		{capIncomeCalc, period.DefaultRules()},
		{capSickPayBasis, period.FixedFilter(period.FilterShortWindow)},
		{capComparisonBasis, period.FixedFilter(period.FilterLongWindow)},
	}

	handlers := make([]bus.Handler, 0, len(defs))
	for _, def := range defs {
		opts := []resolve.Option{
			resolve.WithMetrics(m),
			resolve.WithLookupTimeout(cfg.LookupTimeout),
		}
		if store != nil {
			opts = append(opts, resolve.WithDedupeStore(store))
		}
		engine, err := resolve.New(def.capability, def.strategy, lookup, publisher, log, opts...)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, engine)
	}
	return handlers, nil
}

// newDedupeStore prefers the shared Redis store when configured and falls
// back to process memory otherwise.
func newDedupeStore(ctx context.Context, cfg config.Config) (dedupe.Store, func(), error) {
	if cfg.RedisURL == "" {
		return dedupe.NewInMemoryStore(cfg.DedupeRetention), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, err
	}

	return dedupe.NewRedisStore(client, cfg.DedupeRetention), func() { client.Close() }, nil
}
