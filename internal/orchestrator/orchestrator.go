package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Arbiter/internal/dagstate"
	"github.com/shaiso/Arbiter/internal/domain"
	"github.com/shaiso/Arbiter/internal/mq"
	"github.com/shaiso/Arbiter/internal/telemetry"
)

// Prefetch consumers по умолчанию.
const defaultPrefetch = 10

// FlowSource — откуда берутся определения flow (repo.FlowRepo, repo.MemoryFlowRepo).
type FlowSource interface {
	Get(ctx context.Context, group, name string) (*domain.Flow, error)
}

// Publisher — отправка команд движку исполнения (реализуется *mq.Publisher).
type Publisher interface {
	PublishDagLaunch(ctx context.Context, payload mq.DagLaunchPayload) error
	PublishDagReconcile(ctx context.Context, payload mq.DagReconcilePayload) error
}

// Resumer — повторный арбитраж незавершённых DagAction (реализуется *launcher.Handler).
type Resumer interface {
	Resume(ctx context.Context) (int, error)
}

// ActionCompleter — терминальная отметка DagAction (реализуется *lease.Arbiter).
type ActionCompleter interface {
	CompleteAction(ctx context.Context, action domain.DagAction) error
}

// Orchestrator — граница между арбитражем запусков и движком исполнения.
//
// Orchestrator:
//   - Компилирует flow в DAG и передаёт его движку после взятия lease
//   - Пишет checkpoint при каждом прогрессе job
//   - Очищает checkpoint при завершении DAG
//   - При старте восстанавливает незавершённые DAG и DagAction
type Orchestrator struct {
	store     dagstate.Store
	flows     FlowSource
	publisher Publisher
	resumer   Resumer
	actions   ActionCompleter
	conn      *mq.Connection

	owner    string
	env      map[string]string
	prefetch int
	now      func() time.Time
	locks    *dagLocks

	checkpointConsumer *mq.Consumer
	completedConsumer  *mq.Consumer

	logger     *slog.Logger
	metrics    *telemetry.Metrics
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Store — хранилище checkpoint (обязательно).
	Store dagstate.Store

	// Flows — определения flow (обязательно).
	Flows FlowSource

	// Publisher — канал к движку исполнения (обязательно).
	Publisher Publisher

	// Resumer — повторный арбитраж при Recover (опционально).
	Resumer Resumer

	// Actions — отметка LAUNCH-действия завершённым в FinishDag (опционально).
	// Без неё reminder другого инстанса может перезапустить DAG, если
	// победитель упал до RecordLeaseSuccess.
	Actions ActionCompleter

	// Conn — соединение для consumers. nil — Start не поднимает consumers.
	Conn *mq.Connection

	// Owner — токен этого инстанса, попадает в DAG и сообщения.
	Owner string

	// Env — переменные, доступные в шаблонах config job как {{.Env.KEY}}.
	Env map[string]string

	// Prefetch — prefetch consumers (default: 10).
	Prefetch int

	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		store:     cfg.Store,
		flows:     cfg.Flows,
		publisher: cfg.Publisher,
		resumer:   cfg.Resumer,
		actions:   cfg.Actions,
		conn:      cfg.Conn,
		owner:     cfg.Owner,
		env:       cfg.Env,
		prefetch:  prefetch,
		now:       now,
		locks:     newDagLocks(),
		logger:    logger,
		metrics:   cfg.Metrics,
	}
}

// SetResumer задаёт Resumer после создания.
// Handler и Orchestrator ссылаются друг на друга, поэтому один из них связывается позже.
func (o *Orchestrator) SetResumer(r Resumer) {
	o.resumer = r
}

// Start запускает consumers dags.checkpoint и dags.completed.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.conn == nil {
		o.logger.Info("orchestrator started without message consumers")
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.checkpointConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueDagsCheckpoint),
		Handler:  o.handleCheckpoint,
		Prefetch: o.prefetch,
	})
	o.completedConsumer = mq.NewConsumer(o.conn, o.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueDagsCompleted),
		Handler:  o.handleCompleted,
		Prefetch: o.prefetch,
	})

	for _, c := range []*mq.Consumer{o.checkpointConsumer, o.completedConsumer} {
		o.wg.Add(1)
		go func(c *mq.Consumer) {
			defer o.wg.Done()
			if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("consumer error", "error", err)
			}
		}(c)
	}

	o.logger.Info("orchestrator started", "prefetch", o.prefetch)
	return nil
}

// Stop останавливает consumers и ждёт их завершения.
func (o *Orchestrator) Stop() {
	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}
	if o.checkpointConsumer != nil {
		o.checkpointConsumer.Stop()
	}
	if o.completedConsumer != nil {
		o.completedConsumer.Stop()
	}

	o.wg.Wait()
	o.logger.Info("orchestrator stopped")
}
