// Package main is the entry point of the pages-core platform. It serves the web API, runs the
// queue workers and runs the sandbox cleaning job.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/database"
	"github.com/pages-platform/pages-core/events/modules/builds"
	"github.com/pages-platform/pages-core/internal/api"
	"github.com/pages-platform/pages-core/internal/config"
	"github.com/pages-platform/pages-core/internal/kafka"
	"github.com/pages-platform/pages-core/internal/logging"
	"github.com/pages-platform/pages-core/internal/mailer"
	"github.com/pages-platform/pages-core/internal/services"
	"github.com/pages-platform/pages-core/internal/socket"
	"github.com/pages-platform/pages-core/restapi"
	"github.com/pages-platform/pages-core/restapi/modules/auth"
	"github.com/pages-platform/pages-core/restapi/modules/github"
)

var (
	cfg           *config.Config
	logger        *zap.Logger
	sandboxPeriod time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "pages",
	Short:         "Managed static site publishing platform",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		logger = logging.InitLogger()
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if cfg.App.SessionSecret != "" {
			auth.SetJWTSecret(cfg.App.SessionSecret)
		} else if cfg.App.IsProduction() {
			return errors.New("SESSION_SECRET is required in production")
		}
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the web API, GraphQL and websockets",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Report build statuses to GitHub and deliver queued mail",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runWorker(cmd.Context())
	},
}

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Send sandbox cleaning reminders and clean expired sandbox organizations once",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runSandbox(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().DurationVar(&sandboxPeriod, "sandbox-every", 24*time.Hour, "how often the server runs the sandbox job when sandbox.schedule_in_serve is set")
	rootCmd.AddCommand(serveCmd, workerCmd, sandboxCmd)
}

// platform is everything the commands share.
type platform struct {
	store    database.Store
	gh       *github.Client
	reporter *services.BuildStatusReporter
	mailer   *mailer.Mailer
	sender   mailer.Sender
	closers  []func() error
}

func (p *platform) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			logger.Warn("Shutdown step failed", zap.Error(err))
		}
	}
}

func newPlatform(ctx context.Context) (*platform, error) {
	store, err := database.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	p := &platform{store: store, closers: []func() error{store.Close}}

	if err := database.EnsureDefaultRoles(ctx, store); err != nil {
		p.Close()
		return nil, err
	}

	p.gh = github.NewClient(cfg.GitHub.APIURL)
	p.reporter = services.NewBuildStatusReporter(store, p.gh, cfg, logger)

	p.sender, err = mailer.NewSender(cfg.Mailer, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.mailer = mailer.New(cfg, logger)
	if cfg.KafkaEnabled() {
		producer := kafka.NewMailProducer(cfg.Kafka)
		p.closers = append(p.closers, producer.Close)
		p.mailer.Init(producer)
	} else {
		p.mailer.Init(mailer.NewDirectQueue(p.sender, logger))
	}
	return p, nil
}

func runServe(ctx context.Context) error {
	p, err := newPlatform(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	hub := socket.NewHub(logger)

	var publisher builds.Publisher
	if cfg.KafkaEnabled() {
		producer := kafka.NewBuildProducer(cfg.Kafka)
		p.closers = append(p.closers, producer.Close)
		publisher = producer
		if err := kafka.RunBuildStatusBroadcaster(ctx, cfg.Kafka, hub, logger); err != nil {
			return err
		}
	} else {
		logger.Warn("No Kafka brokers configured; build events are handled in-process")
		publisher = &builds.LocalPublisher{
			Loader:      p.store,
			Reporter:    p.reporter,
			Broadcaster: hub,
			Logger:      logger.Sugar(),
		}
	}

	buildService := services.NewBuildService(p.store, p.reporter, publisher, cfg, logger)
	siteService := services.NewSiteService(p.store, p.gh, buildService, cfg, logger)
	orgService := services.NewOrganizationService(p.store, services.NewUAAClient(cfg.UAA), p.mailer, logger)
	sandbox := services.NewSandboxService(p.store, p.mailer, cfg.Sandbox, logger)

	app, err := api.NewFiberApp(ctx, restapi.Dependencies{
		Config:        cfg,
		Store:         p.store,
		GitHub:        p.gh,
		Sites:         siteService,
		Builds:        buildService,
		Organizations: orgService,
		Sandbox:       sandbox,
		Hub:           hub,
		Subscriber:    socket.NewSubscriber(p.store, logger),
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	if cfg.Sandbox.ScheduleInServe && sandboxPeriod > 0 {
		logger.Info("Scheduling the sandbox job", zap.Duration("every", sandboxPeriod))
		go runPeriodically(ctx, sandboxPeriod, sandbox.Run)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Warn("Server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Starting server", zap.String("port", cfg.App.Port), zap.String("env", cfg.App.AppEnv))
	return app.Listen(":" + cfg.App.Port)
}

func runWorker(ctx context.Context) error {
	if !cfg.KafkaEnabled() {
		return errors.New("the worker needs KAFKA_BROKERS; without brokers the server handles events itself")
	}
	p, err := newPlatform(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	if err := kafka.RunBuildStatusReporter(ctx, cfg.Kafka, p.store, p.reporter, logger); err != nil {
		return err
	}
	if err := kafka.RunMailWorker(ctx, cfg.Kafka, p.sender, logger); err != nil {
		return err
	}

	logger.Info("Worker started", zap.Strings("brokers", cfg.Kafka.Brokers))
	<-ctx.Done()
	logger.Info("Worker stopping")
	return nil
}

func runSandbox(ctx context.Context) error {
	p, err := newPlatform(ctx)
	if err != nil {
		return err
	}
	defer p.Close()
	return services.NewSandboxService(p.store, p.mailer, cfg.Sandbox, logger).Run(ctx)
}

func runPeriodically(ctx context.Context, every time.Duration, job func(context.Context) error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := job(ctx); err != nil {
				logger.Warn("Background job failed", zap.Error(err))
			}
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
