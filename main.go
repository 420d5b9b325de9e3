package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"global_scheduler/config"
	"global_scheduler/metrics"
	"global_scheduler/models"
	"global_scheduler/routes"
	"global_scheduler/scheduler"
	"global_scheduler/services"
)

func main() {
	serve := serveCmd()
	root := &cobra.Command{
		Use:   "global_scheduler",
		Short: "Adaptive scheduler for KR and US market tasks",
		RunE:  serve.RunE,
	}
	root.AddCommand(serve, runCmd(), bootstrapCmd(), checkDSTCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles the fully wired process.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	rdb      *redis.Client
	hours    *scheduler.MarketHours
	loop     *scheduler.Loop
	registry *scheduler.Registry
	seq      *scheduler.Sequencer
	jobs     *services.JobRunStore
	hub      *services.StatusHub
	cache    *services.RecommendationCache
	archive  *services.RecommendationArchive
	keeper   *services.Housekeeper
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := cfg.SetupLogger()

	db, err := config.InitDB()
	if err != nil {
		return nil, err
	}
	if err := models.Migrate(db); err != nil {
		// Postgres may simply be down; the bootstrap health step reports
		// the outage while probes and the loop keep running.
		logger.Warn().Err(err).Msg("schema migration failed, continuing degraded")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr()})

	hours, err := scheduler.NewMarketHours(cfg)
	if err != nil {
		return nil, err
	}

	cache, err := services.NewRecommendationCache(cfg.CachePath, logger)
	if err != nil {
		return nil, err
	}
	archive, err := services.NewRecommendationArchive(ctx, cfg.MongoURI, logger)
	if err != nil {
		// The archive is optional storage; a broken URI should not stop the
		// scheduler from serving both markets.
		logger.Error().Err(err).Msg("recommendation archive unavailable, continuing without it")
		archive, _ = services.NewRecommendationArchive(ctx, "", logger)
	}

	notifier := services.NewDiscordNotifier(cfg.DiscordWebhookURL, logger)
	kis := services.NewKISClient(cfg, rdb, logger)
	ml := services.NewMLClient(cfg.MLServiceURL, logger)
	collector := services.NewDataCollector(cfg, db, logger)
	health := services.NewHealthChecker(db, rdb, logger)
	jobs := services.NewJobRunStore(db, logger)
	hub := services.NewStatusHub(logger)

	tasks := services.NewTaskSet(cfg, db, notifier, kis, ml, collector, health, archive, cache, jobs, logger)
	registry := tasks.BuildRegistry()

	loop := scheduler.NewLoop(cfg, hours, registry, logger)
	loop.SetNotifier(notifier)
	loop.SetModelCheck(ml.Ready)
	loop.AddSink(jobs)
	loop.AddSink(hub)

	seq := &scheduler.Sequencer{
		Health: health.Check,
		KRData: func(ctx context.Context) error {
			return collector.VerifyFresh(ctx, "KR", 7*24*time.Hour)
		},
		USData: func(ctx context.Context) error {
			return collector.VerifyFresh(ctx, "US", 7*24*time.Hour)
		},
		Models: ml.Ready,
		Logger: logger,
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		rdb:      rdb,
		hours:    hours,
		loop:     loop,
		registry: registry,
		seq:      seq,
		jobs:     jobs,
		hub:      hub,
		cache:    cache,
		archive:  archive,
		keeper:   services.NewHousekeeper(db, hours.ReferenceLocation(), logger),
	}, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler daemon and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			a.loop.SetMetrics(metrics.New())

			if a.cfg.Environment == "production" {
				gin.SetMode(gin.ReleaseMode)
			}
			router := gin.New()
			router.Use(gin.Recovery())
			routes.SetupRoutes(router, routes.Deps{
				Cfg:      a.cfg,
				Loop:     a.loop,
				Registry: a.registry,
				Hours:    a.hours,
				Jobs:     a.jobs,
				Hub:      a.hub,
				Logger:   a.logger,
			})

			srv := &http.Server{Addr: ":" + a.cfg.Port, Handler: router}

			// Probes must answer while bootstrap is still in flight, so the
			// HTTP server starts first.
			go func() {
				a.logger.Info().Str("port", a.cfg.Port).Msg("HTTP server listening")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					a.logger.Error().Err(err).Msg("HTTP server stopped")
					stop()
				}
			}()

			go a.hub.Run()
			a.keeper.Start()

			loopDone := make(chan error, 1)
			go func() {
				if err := a.loop.Bootstrap(ctx, a.seq); err != nil {
					loopDone <- err
					return
				}
				a.hub.PublishState(a.loop.State())
				loopDone <- a.loop.Run(ctx)
			}()

			select {
			case <-ctx.Done():
			case err := <-loopDone:
				if err != nil && err != context.Canceled {
					a.logger.Error().Err(err).Msg("scheduler loop exited")
				}
			}

			a.logger.Info().Msg("shutting down")
			a.keeper.Stop()
			a.hub.Shutdown()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error().Err(err).Msg("HTTP shutdown failed")
			}
			a.archive.Close(shutdownCtx)
			a.cache.Close()
			a.rdb.Close()
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <task>",
		Short: "Run one task immediately and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}

			name := args[0]
			fn, ok := a.registry.Resolve(name)
			if !ok {
				return fmt.Errorf("unknown task %q, available: %v", name, a.registry.Names())
			}

			start := time.Now()
			if err := fn(ctx); err != nil {
				a.logger.Error().Err(err).Str("task", name).Msg("task failed")
				return err
			}
			a.logger.Info().Str("task", name).Dur("took", time.Since(start)).Msg("task completed")
			return nil
		},
	}
}

func bootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Run the startup checks once and report the outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}

			state := a.seq.Run(ctx)
			fmt.Println(state.Summary())
			if !state.Healthy() {
				return fmt.Errorf("bootstrap failed: system unhealthy")
			}
			return nil
		},
	}
}

func checkDSTCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-dst",
		Short: "Print today's session boundaries and DST state per region",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}

			hours, err := scheduler.NewMarketHours(cfg)
			if err != nil {
				return err
			}

			now := time.Now()
			for _, region := range hours.Regions() {
				b, err := hours.Compute(region, now)
				if err != nil {
					return err
				}
				status, err := hours.Status(region, now)
				if err != nil {
					return err
				}
				fmt.Printf("%-3s dst=%-5v pre_open=%s open=%s close=%s post_close=%s status=%s\n",
					region, b.DSTActive, b.PreOpen, b.Open, b.Close, b.PostClose, status)
			}
			return nil
		},
	}
}
