package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dagbolade/sudomode/internal/approval"
	"github.com/dagbolade/sudomode/internal/audit"
	"github.com/dagbolade/sudomode/internal/config"
	"github.com/dagbolade/sudomode/internal/governance"
	"github.com/dagbolade/sudomode/internal/metrics"
	"github.com/dagbolade/sudomode/internal/notify"
	"github.com/dagbolade/sudomode/internal/policy"
	"github.com/dagbolade/sudomode/internal/server"
	"github.com/dagbolade/sudomode/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the governor",
	Long: `Start the governor HTTP server.

The rule file is loaded once at startup; a file that cannot be parsed stops
the process. With policy.watch enabled the file is reloaded on change and a
broken edit keeps the previous rules active.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		setupLogger(cfg.Log)
		log.Info().Str("version", Version).Msg("starting sudomode")

		ctx, cancel := setupSignalHandler()
		defer cancel()

		if err := run(ctx, cfg); err != nil {
			return err
		}

		log.Info().Msg("sudomode stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func run(ctx context.Context, cfg *config.Config) error {
	tp, shutdownTracing, err := telemetry.Setup(telemetry.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    "sudomode",
		ServiceVersion: Version,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("failed to flush traces")
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	engine, err := initPolicyEngine(cfg.Policy, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close policy engine")
		}
	}()

	store := approval.NewInMemoryStore()
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close approval store")
		}
	}()

	dispatcher := notify.NewDispatcher(initNotifier(cfg.Notifier), notify.DispatcherConfig{
		Workers:   cfg.Notifier.Workers,
		QueueSize: cfg.Notifier.QueueSize,
		Timeout:   cfg.Notifier.Timeout,
		Metrics:   m,
	})
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Notifier.Timeout)
		defer cancel()
		if err := dispatcher.Close(drainCtx); err != nil {
			log.Warn().Err(err).Msg("notifications still queued at shutdown")
		}
	}()

	opts := []governance.Option{
		governance.WithDispatcher(dispatcher),
		governance.WithMetrics(m),
		governance.WithTracer(tp.Tracer(telemetry.TracerName)),
	}

	var auditStore audit.Store
	if cfg.Audit.Enabled {
		sqliteStore, err := audit.NewSQLiteStore(cfg.Audit.DBPath)
		if err != nil {
			return err
		}
		defer func() {
			if err := sqliteStore.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close audit store")
			}
		}()
		auditStore = sqliteStore
		opts = append(opts, governance.WithAudit(auditStore))
		log.Info().Str("path", cfg.Audit.DBPath).Msg("audit log enabled")
	}

	svc := governance.NewService(engine, store, opts...)

	srv := server.New(server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
	}, server.Deps{
		Service:   svc,
		Resolver:  governance.NewResolver(svc),
		Store:     store,
		Evaluator: engine,
		Audit:     auditStore,
		Metrics:   m,
		Gatherer:  reg,
	})

	return runServer(ctx, srv)
}

func initPolicyEngine(cfg config.PolicyConfig, m *metrics.Metrics) (*policy.Engine, error) {
	log.Info().Str("file", cfg.File).Msg("initializing policy engine")

	engine, err := policy.NewEngine(cfg.File)
	if err != nil {
		return nil, err
	}

	if cfg.Watch {
		engine.OnReload(m.ObserveReload)
		if err := engine.Watch(); err != nil {
			log.Warn().Err(err).Msg("rule file watching disabled")
		}
	}

	log.Info().Int("rules", len(engine.Rules())).Msg("policy engine initialized")
	return engine, nil
}

func initNotifier(cfg config.NotifierConfig) notify.Notifier {
	if cfg.SlackWebhookURL == "" {
		log.Info().Msg("no Slack webhook configured, approval alerts go to the log")
		return notify.LogNotifier{}
	}
	log.Info().Msg("Slack notifications enabled")
	return notify.NewSlackNotifier(cfg.SlackWebhookURL, cfg.DashboardURL, cfg.Timeout)
}

func setupLogger(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

func runServer(ctx context.Context, srv *server.Server) error {
	errChan := make(chan error, 1)

	go func() {
		if err := srv.Start(); err != nil {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("run server: %w", err)
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}
