package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/shaiso/Arbiter/internal/dagstate"
	"github.com/shaiso/Arbiter/internal/domain"
	"github.com/shaiso/Arbiter/internal/engine"
	"github.com/shaiso/Arbiter/internal/mq"
	"github.com/shaiso/Arbiter/internal/repo"
	"github.com/shaiso/Arbiter/internal/telemetry"
)

// JobProgress — прогресс одной job, сообщённый движком исполнения.
type JobProgress struct {
	DagID   domain.DagID
	JobName string
	Status  domain.JobStatus
	Attempt int
	Error   string
}

// DagOutcome — итог исполнения DAG.
type DagOutcome struct {
	Status domain.DagStatus
	Error  string
}

// Launch передаёт движку DAG, запуск которого выиграл этот инстанс.
//
// Повторный вызов для того же DagID ничего не делает, если DAG уже передан
// в работу. Checkpoint в статусе PENDING означает, что публикация могла
// не дойти, и сообщение отправляется повторно.
// Flow без job — no-op: checkpoint не пишется.
func (o *Orchestrator) Launch(ctx context.Context, status domain.LeaseObtainedStatus, props map[string]string) error {
	action := status.ConsensusDagAction
	id := action.DagID()
	logger := telemetry.WithDagID(o.logger, id.String())

	unlock := o.locks.lock(id)
	defer unlock()

	// 1. Идемпотентность по DagID
	existing, err := o.store.GetDag(ctx, id)
	switch {
	case err == nil:
		if existing.Status != domain.DagStatusPending {
			logger.Debug("dag already launched, skipping", "status", existing.Status)
			return nil
		}
		logger.Info("dag checkpointed but not started, republishing launch")
		return o.publishLaunch(ctx, existing, status, props)
	case !errors.Is(err, dagstate.ErrNotFound):
		return fmt.Errorf("check existing dag: %w", err)
	}

	// 2. Flow
	flow, err := o.flows.Get(ctx, action.FlowGroup, action.FlowName)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrFlowNotFound, action.FlowKey())
		}
		return fmt.Errorf("get flow: %w", err)
	}

	// 3. Компиляция
	tctx := engine.NewContext(id, mergeProps(flow.Props, props))
	for k, v := range o.env {
		tctx.SetEnv(k, v)
	}
	dag, err := engine.CompileDag(id, flow.Jobs, tctx, o.now())
	if err != nil {
		return fmt.Errorf("compile flow %s: %w", action.FlowKey(), err)
	}
	dag.Owner = status.Owner

	// 4. Пустой DAG — нечего исполнять и нечего восстанавливать
	if dag.IsEmpty() {
		logger.Info("flow has no jobs, nothing to launch")
		return nil
	}

	// 5. Checkpoint до публикации: после падения DAG найдётся при Recover
	err = o.store.WriteCheckpoint(ctx, dag)
	o.metrics.ObserveCheckpoint(err)
	if err != nil {
		return fmt.Errorf("write initial checkpoint: %w", err)
	}

	return o.publishLaunch(ctx, dag, status, props)
}

func (o *Orchestrator) publishLaunch(ctx context.Context, dag *domain.Dag, status domain.LeaseObtainedStatus, props map[string]string) error {
	payload := mq.DagLaunchPayload{
		DagID:           dag.ID.String(),
		FlowGroup:       dag.ID.FlowGroup,
		FlowName:        dag.ID.FlowName,
		FlowExecutionID: dag.ID.FlowExecutionID,
		Owner:           status.Owner,
		EventTimeMillis: status.EventTimeMillis,
		Jobs:            dag.Jobs,
		Props:           props,
	}
	if err := o.publisher.PublishDagLaunch(ctx, payload); err != nil {
		return fmt.Errorf("publish dag.launch: %w", err)
	}

	o.logger.Info("dag handed to execution engine",
		"dag_id", payload.DagID,
		"jobs", len(dag.Jobs),
	)
	return nil
}

// ApplyCheckpoint применяет прогресс job и перезаписывает checkpoint.
// Прогресс для уже очищенного DAG игнорируется.
func (o *Orchestrator) ApplyCheckpoint(ctx context.Context, progress JobProgress) error {
	logger := telemetry.WithDagID(o.logger, progress.DagID.String())

	unlock := o.locks.lock(progress.DagID)
	defer unlock()

	dag, err := o.store.GetDag(ctx, progress.DagID)
	if errors.Is(err, dagstate.ErrNotFound) {
		logger.Warn("progress for unknown dag, ignoring", "job", progress.JobName)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load dag: %w", err)
	}

	job, ok := dag.Job(progress.JobName)
	if !ok {
		return fmt.Errorf("%w: %s in %s", ErrJobNotFound, progress.JobName, progress.DagID)
	}

	now := o.now()
	job.Status = progress.Status
	job.Attempt = progress.Attempt
	job.Error = progress.Error
	job.UpdatedAt = now
	dag.RecomputeStatus()
	dag.UpdatedAt = now

	err = o.store.WriteCheckpoint(ctx, dag)
	o.metrics.ObserveCheckpoint(err)
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}

	logger.Debug("checkpoint written",
		"job", progress.JobName,
		"job_status", progress.Status,
		"dag_status", dag.Status,
	)
	return nil
}

// FinishDag завершает DAG: при любом исходе checkpoint удаляется, а
// LAUNCH-действие отмечается завершённым в реестре lease.
//
// При неуспешном исходе возвращается ошибка с ErrDagFailed. Если к тому же
// не удалась очистка, обе причины объединяются в *PartialFailureError.
func (o *Orchestrator) FinishDag(ctx context.Context, id domain.DagID, outcome DagOutcome) error {
	if !outcome.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrInvalidOutcome, outcome.Status)
	}
	logger := telemetry.WithDagID(o.logger, id.String())

	unlock := o.locks.lock(id)
	defer unlock()

	var cause error
	if outcome.Status == domain.DagStatusFailed {
		cause = fmt.Errorf("%w: %s: %s", ErrDagFailed, id, outcome.Error)
	}

	cleanupErr := o.store.CleanUp(ctx, id)
	o.metrics.ObserveCleanup(cleanupErr)
	if cleanupErr != nil {
		cleanupErr = fmt.Errorf("clean up %s: %w", id, cleanupErr)
	}
	if err := o.completeLaunch(ctx, id); err != nil {
		cleanupErr = errors.Join(cleanupErr, err)
	}

	switch {
	case cause != nil && cleanupErr != nil:
		logger.Error("dag failed and cleanup failed", "cause", cause, "recovery", cleanupErr)
		return &PartialFailureError{Cause: cause, Recovery: cleanupErr}
	case cleanupErr != nil:
		logger.Error("dag cleanup failed", "error", cleanupErr)
		return cleanupErr
	case cause != nil:
		logger.Warn("dag failed", "error", outcome.Error)
		return cause
	}

	logger.Info("dag finished", "status", outcome.Status)
	return nil
}

// completeLaunch закрывает LAUNCH-действие DAG: reminder'ы, пережившие
// падение победителя, больше не перезапустят завершённый DAG.
func (o *Orchestrator) completeLaunch(ctx context.Context, id domain.DagID) error {
	if o.actions == nil {
		return nil
	}
	action := domain.NewLaunchAction(id.FlowGroup, id.FlowName, id.FlowExecutionID)
	if err := o.actions.CompleteAction(ctx, action); err != nil {
		return fmt.Errorf("complete launch %s: %w", id, err)
	}
	return nil
}

// mergeProps объединяет свойства flow и запуска; свойства запуска важнее.
func mergeProps(flowProps, launchProps map[string]string) map[string]string {
	merged := make(map[string]string, len(flowProps)+len(launchProps))
	maps.Copy(merged, flowProps)
	maps.Copy(merged, launchProps)
	return merged
}
