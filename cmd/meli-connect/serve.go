package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	meliconnect "github.com/goliatone/go-meli-connect"
	"github.com/goliatone/go-meli-connect/adapters/gocommand"
	"github.com/goliatone/go-meli-connect/adapters/gojob"
	"github.com/goliatone/go-meli-connect/adapters/gologger"
	promadapter "github.com/goliatone/go-meli-connect/adapters/prometheus"
	"github.com/goliatone/go-meli-connect/httpapi"
	sqlstore "github.com/goliatone/go-meli-connect/store/sql"
	"github.com/goliatone/go-meli-connect/webhooks"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(lookup lookupFunc) *cobra.Command {
	var skipMigrations bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background token refresher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), lookup, !skipMigrations)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply schema migrations on start")
	return cmd
}

func serve(ctx context.Context, lookup lookupFunc, migrate bool) error {
	s, err := loadSettings(lookup)
	if err != nil {
		return err
	}
	cfg, configProvider, err := loadServiceConfig(ctx, lookup)
	if err != nil {
		return err
	}

	rootLogger := gologger.NewJSONLogger(s.LogLevel)
	loggers := gologger.NewSlogProvider(rootLogger)

	client, dialect, err := openDatabase(ctx, s)
	if err != nil {
		return err
	}
	defer client.Close()
	if migrate {
		if err := client.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = s.CacheTTL
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		return fmt.Errorf("cache service: %w", err)
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, sqlstore.WithConnectionCache(cacheService))
	if err != nil {
		return err
	}

	registry := prom.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := promadapter.NewRecorder(registry)

	svc, err := meliconnect.NewMercadoLibreService(cfg, &http.Client{Timeout: cfg.OAuth.RequestTimeout},
		meliconnect.WithConfigProvider(configProvider),
		meliconnect.WithLoggerProvider(loggers),
		meliconnect.WithMetricsRecorder(recorder),
		meliconnect.WithRepositoryFactory(factory),
	)
	if err != nil {
		return err
	}
	facade, err := meliconnect.NewFacade(svc)
	if err != nil {
		return err
	}

	bus := gocommand.NewBus(gocommand.WithQueueMirror("queue", jobqueuecommand.NewRegistry()))
	if err := bus.Mount(facade); err != nil {
		return fmt.Errorf("mount command bus: %w", err)
	}
	defer bus.Unmount()

	refreshQueue := gojob.NewMemoryQueue(s.QueueCapacity)
	defer refreshQueue.Close()
	scheduler := gojob.NewRefreshScheduler(svc, refreshQueue,
		gojob.WithSweepWindow(cfg.Refresh.SweepWindow),
		gojob.WithSweepLimit(cfg.Refresh.SweepLimit),
		gojob.WithSchedulerLogger(loggers.GetLogger("refresh-scheduler")),
	)
	consumer := gojob.NewRefreshConsumer(refreshQueue, svc,
		gojob.WithWorkerHook(gojob.NewObservabilityHook(loggers.GetLogger("refresh-worker"), recorder)),
	)

	notifications := webhooks.NewProcessor(svc,
		webhooks.WithLogger(loggers.GetLogger("notifications")),
		webhooks.WithMetrics(recorder),
	)

	authenticator, err := httpapi.NewAuthenticator(s.JWTSecret, 30*time.Second)
	if err != nil {
		return err
	}
	api, err := httpapi.NewServer(facade, authenticator,
		httpapi.WithLogger(loggers.GetLogger("http")),
		httpapi.WithFrontendURL(cfg.FrontendURL),
		httpapi.WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
		httpapi.WithNotificationProcessor(notifications),
		httpapi.WithHealthCheck(func(ctx context.Context) error {
			return client.DB().PingContext(ctx)
		}),
	)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              s.HTTPAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	rootLogger.Info("meli-connect starting",
		"addr", s.HTTPAddr,
		"dialect", dialect,
		"refresh_interval", s.RefreshInterval.String(),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		return ignoreCanceled(scheduler.Run(groupCtx, s.RefreshInterval))
	})
	group.Go(func() error {
		return ignoreCanceled(consumer.Run(groupCtx))
	})

	err = group.Wait()
	rootLogger.Info("meli-connect stopped")
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
