// Command subsync serves the subscription reconciliation API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/subsync/pkg/alert"
	"github.com/dmitrymomot/subsync/pkg/api"
	"github.com/dmitrymomot/subsync/pkg/billing"
	"github.com/dmitrymomot/subsync/pkg/config"
	"github.com/dmitrymomot/subsync/pkg/httpserver"
	"github.com/dmitrymomot/subsync/pkg/logger"
	"github.com/dmitrymomot/subsync/pkg/queue"
	"github.com/dmitrymomot/subsync/pkg/redis"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("subsync stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}

	log := logger.New(
		logger.WithEnvironment(s.app.Env, s.app.ServiceName),
		logger.WithLevelName(s.log.Level),
		logger.WithFormat(logger.Format(s.log.Format)),
		logger.WithContextExtractors(api.RequestIDExtractor()),
	)
	logger.SetAsDefault(log)

	provider, err := billing.NewProvider(s.provider, s.stripe, s.paddle)
	if err != nil {
		return err
	}

	catalog, err := billing.NewCatalog(ctx, planSource(s.app))
	if err != nil {
		return err
	}

	store, err := openBackend(ctx, s.app.StoreDriver, log)
	if err != nil {
		return err
	}
	defer store.close()

	notifier, err := alert.New(s.alert, log)
	if err != nil {
		return err
	}
	onDeadLetter := alert.DeadLetterHook(notifier, log)

	enqueuer, err := queue.NewEnqueuer(store.tasks,
		queue.WithDefaultQueue(s.queue.Name),
		queue.WithMaxAttempts(s.queue.MaxAttempts),
		queue.WithEnqueuerDeadLetterHook(onDeadLetter),
	)
	if err != nil {
		return err
	}

	opts := []billing.ServiceOption{
		billing.WithLogger(log.With(logger.Component("billing"))),
		billing.WithCheckoutConfig(s.checkout),
		billing.WithProviderTimeout(s.app.ProviderTimeout),
		billing.WithStoreTimeout(s.app.StoreTimeout),
		billing.WithProcessingTimeout(s.app.ProcessingTimeout),
		billing.WithFailureSink(billing.NewQueueFailureSink(enqueuer, s.app.RetryDelay)),
	}
	checks := store.checks

	if s.redis.ConnectionURL != "" {
		client, err := redis.Connect(ctx, s.redis)
		if err != nil {
			return err
		}
		defer client.Close()
		dedup := redis.NewEventDeduplicator(client, s.redis)
		opts = append(opts, billing.WithDeduplicator(dedup))
		checks = append(checks, httpserver.Check{Name: "redis", Fn: dedup.Healthcheck})
	} else {
		opts = append(opts, billing.WithDeduplicator(billing.NewMemoryDeduplicator(s.redis.DedupTTL)))
	}

	svc := billing.NewService(provider, store.records, catalog, opts...)

	worker, err := queue.NewWorker(store.tasks,
		queue.WithQueues(s.queue.Name),
		queue.WithPullInterval(s.queue.PollInterval),
		queue.WithLockTimeout(s.queue.LockTimeout),
		queue.WithMaxConcurrentTasks(s.queue.MaxConcurrentTasks),
		queue.WithBackoff(queue.LinearBackoff(s.queue.BackoffStep)),
		queue.WithDeadLetterHook(onDeadLetter),
		queue.WithWorkerLogger(log.With(logger.Component("queue"))),
	)
	if err != nil {
		return err
	}
	worker.RegisterHandlers(billing.NewEventRetryHandler(svc))

	router := api.NewRouter(svc,
		api.WithLogger(log.With(logger.Component("api"))),
		api.WithRequestTimeout(s.http.RequestTimeout),
		api.WithMaxEventBytes(s.http.MaxEventBodyBytes),
		api.WithHealthChecks(checks...),
		api.WithStoreName(s.app.StoreDriver),
	)
	server := httpserver.NewFromConfig(s.http, httpserver.WithLogger(log))

	log.InfoContext(ctx, "starting subsync",
		slog.String("provider", svc.ProviderName()),
		slog.String("store", s.app.StoreDriver),
		slog.Int("plans", len(catalog.Plans())))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(worker.Run(gctx))
	g.Go(func() error { return server.Run(gctx, router) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func loadSettings() (settings, error) {
	var s settings
	err := errors.Join(
		config.Load(&s.app),
		config.Load(&s.log),
		config.Load(&s.http),
		config.Load(&s.provider),
		config.Load(&s.stripe),
		config.Load(&s.paddle),
		config.Load(&s.checkout),
		config.Load(&s.queue),
		config.Load(&s.redis),
		config.Load(&s.alert),
	)
	return s, err
}

func planSource(cfg appConfig) billing.PlanSource {
	if cfg.PlansFile != "" {
		return billing.NewYAMLPlanSource(cfg.PlansFile)
	}
	return billing.StaticPlans{
		{ID: "monthly", Name: "Pro monthly", PriceID: cfg.MonthlyPlanPriceID, Interval: billing.BillingIntervalMonthly},
		{ID: "annual", Name: "Pro annual", PriceID: cfg.AnnualPlanPriceID, Interval: billing.BillingIntervalAnnual},
	}
}
