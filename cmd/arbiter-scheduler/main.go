// Arbiter Scheduler — планировщик запуска flow с арбитражем через lease.
//
// Scheduler:
//   - Держит cron-триггеры flow и reminder'ы
//   - Арбитрирует каждое срабатывание через общее хранилище lease
//   - Компилирует DAG, пишет checkpoint и передаёт его движку через RabbitMQ
//   - Принимает прогресс job и завершение DAG от движка
//   - При старте восстанавливает незавершённые DAG и lease
//
// Использование:
//
//	arbiter-scheduler [--config arbiter.yaml]
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Arbiter/internal/api"
	"github.com/shaiso/Arbiter/internal/config"
	"github.com/shaiso/Arbiter/internal/dagstate"
	"github.com/shaiso/Arbiter/internal/domain"
	"github.com/shaiso/Arbiter/internal/launcher"
	"github.com/shaiso/Arbiter/internal/lease"
	"github.com/shaiso/Arbiter/internal/mq"
	"github.com/shaiso/Arbiter/internal/orchestrator"
	"github.com/shaiso/Arbiter/internal/redisstore"
	"github.com/shaiso/Arbiter/internal/repo"
	"github.com/shaiso/Arbiter/internal/scheduler"
	"github.com/shaiso/Arbiter/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

var startTime = time.Now()

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "arbiter-scheduler",
		Short:         "Arbiter scheduler: lease-arbitrated flow launches",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx, configPath)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", os.Getenv("ARBITER_CONFIG"), "Path to YAML config")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Инициализируем structured logging
	logger := telemetry.NewLogger(os.Stderr, telemetry.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	slog.SetDefault(logger)

	owner := cfg.Instance.ID
	if owner == "" {
		owner = uuid.NewString()
	}
	logger = logger.With("owner", owner)
	logger.Info("starting arbiter-scheduler",
		"version", version,
		"lease_backend", cfg.Backend.Lease,
		"state_backend", cfg.Backend.State,
	)

	// 1. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	// 2. Хранилища
	stores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.close()

	if err := seedFlows(ctx, stores.flows, cfg.Flows, logger); err != nil {
		return err
	}

	// 3. Канал к движку исполнения
	mqConn, err := mq.NewConnection(cfg.RabbitMQ.URL, logger)
	if err != nil {
		return fmt.Errorf("connect rabbitmq: %w", err)
	}
	defer mqConn.Close()

	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		return fmt.Errorf("setup topology: %w", err)
	}
	publisher := mq.NewPublisher(mqConn, logger)

	// 4. Арбитраж, триггеры, orchestrator
	arbiter := lease.NewArbiter(lease.ArbiterConfig{
		Store:         stores.actions,
		Owner:         owner,
		LeaseDuration: cfg.Lease.Duration,
		MinimumLinger: cfg.Lease.MinimumLinger,
		Logger:        logger,
		Metrics:       metrics,
	})

	triggers := scheduler.NewTriggerScheduler(scheduler.TriggerSchedulerConfig{
		TickInterval:   cfg.Scheduler.TickInterval,
		MaxConcurrency: cfg.Scheduler.MaxConcurrency,
		Logger:         logger,
		Metrics:        metrics,
	})

	orch := orchestrator.New(orchestrator.Config{
		Store:     stores.dags,
		Flows:     stores.flows,
		Publisher: publisher,
		Actions:   arbiter,
		Conn:      mqConn,
		Owner:     owner,
		Env:       cfg.Env,
		Prefetch:  cfg.RabbitMQ.Prefetch,
		Logger:    logger,
		Metrics:   metrics,
	})

	handler := launcher.NewHandler(launcher.HandlerConfig{
		Arbiter:          arbiter,
		Triggers:         triggers,
		Launcher:         orch,
		Keys:             cfg.Props,
		BackOff:          cfg.Lease.BackOff,
		LaunchRetryDelay: cfg.Lease.LaunchRetryDelay,
		Logger:           logger,
		Metrics:          metrics,
	})
	triggers.SetCallback(handler.HandleTrigger)
	orch.SetResumer(handler)

	syncer := scheduler.NewSyncer(scheduler.SyncerConfig{
		Flows:    stores.flows,
		Triggers: triggers,
		Payload:  handler.FlowPayload,
		Logger:   logger,
	})

	// 5. Восстановление после рестарта
	report, err := orch.Recover(ctx)
	if err != nil {
		logger.Error("recovery finished with errors", "error", err)
	}
	logger.Info("recovery done", "dags", report.Dags, "actions", report.Actions)

	if _, err := syncer.Sync(ctx); err != nil {
		logger.Error("initial trigger sync failed", "error", err)
	}

	// 6. HTTP: /healthz, /metrics, admin API
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !mqConn.IsConnected() {
			// Без брокера выигранные запуски не уходят движку
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, "rabbitmq disconnected")
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime).Round(time.Second))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	api.NewHandler(api.Config{
		Dags:     stores.dags,
		Actions:  stores.actions,
		Flows:    stores.flows,
		Launcher: handler,
		Triggers: triggers,
		Syncer:   syncer,
		Logger:   logger,
	}).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 7. Фоновые циклы
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return triggers.Run(gctx)
	})

	g.Go(func() error {
		every(gctx, cfg.Scheduler.SyncInterval, func() {
			if _, err := syncer.Sync(gctx); err != nil {
				logger.Error("trigger sync failed", "error", err)
			}
		})
		return nil
	})

	g.Go(func() error {
		every(gctx, cfg.Lease.PurgeInterval, func() {
			n, err := arbiter.PurgeCompleted(gctx, cfg.Lease.Retention)
			if err != nil {
				logger.Error("purge completed leases failed", "error", err)
				return
			}
			if n > 0 {
				logger.Info("purged completed leases", "count", n)
			}
		})
		return nil
	})

	g.Go(func() error {
		if err := orch.Start(gctx); err != nil {
			return fmt.Errorf("start orchestrator: %w", err)
		}
		<-gctx.Done()
		orch.Stop()
		return nil
	})

	g.Go(func() error {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("stopped")
	return err
}

// every вызывает fn каждые interval до отмены ctx.
func every(ctx context.Context, interval time.Duration, fn func()) {
	tk := time.NewTicker(interval)
	defer tk.Stop()

	for {
		select {
		case <-tk.C:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// flowStore — репозиторий flow, общий для orchestrator, syncer и API.
type flowStore interface {
	api.FlowStore
	scheduler.FlowLister
}

type stores struct {
	actions lease.ActionStore
	dags    dagstate.Store
	flows   flowStore
	closers []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStores поднимает хранилища lease, checkpoint и flow по конфигурации.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	s := &stores{}

	var pool *pgxpool.Pool
	if cfg.UsesPostgres() {
		p, err := repo.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		s.closers = append(s.closers, p.Close)
		if err := repo.EnsureSchema(ctx, p); err != nil {
			s.close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		pool = p
		logger.Info("database connected")
	}

	switch cfg.Backend.Lease {
	case config.LeaseBackendPostgres:
		s.actions = repo.NewDagActionRepo(pool)
	case config.LeaseBackendRedis:
		client, err := redisstore.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		s.closers = append(s.closers, func() { _ = client.Close() })
		s.actions = redisstore.NewActionStore(client, cfg.Redis.Prefix)
		logger.Info("redis connected")
	default:
		logger.Warn("using in-memory lease store, arbitration is local to this instance")
		s.actions = lease.NewMemoryStore(nil)
	}

	switch cfg.Backend.State {
	case config.StateBackendPostgres:
		s.dags = repo.NewDagStateRepo(pool)
	default:
		fs, err := dagstate.NewFileStore(cfg.Backend.StateDir, logger)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("open state dir: %w", err)
		}
		s.dags = fs
	}

	if pool != nil {
		s.flows = repo.NewFlowRepo(pool)
	} else {
		s.flows = repo.NewMemoryFlowRepo()
	}

	return s, nil
}

// seedFlows загружает flows из конфига. Уже существующие не перезаписываются.
func seedFlows(ctx context.Context, flows api.FlowStore, seed []domain.Flow, logger *slog.Logger) error {
	now := time.Now()
	for i := range seed {
		f := seed[i]
		if f.ID == uuid.Nil {
			f.ID = uuid.New()
		}
		if f.Timezone == "" {
			f.Timezone = "UTC"
		}
		f.CreatedAt, f.UpdatedAt = now, now

		err := flows.Create(ctx, &f)
		switch {
		case errors.Is(err, repo.ErrAlreadyExists):
			logger.Debug("flow already exists, keeping stored definition", "flow", f.Key())
		case err != nil:
			return fmt.Errorf("seed flow %s: %w", f.Key(), err)
		default:
			logger.Info("flow seeded", "flow", f.Key())
		}
	}
	return nil
}
