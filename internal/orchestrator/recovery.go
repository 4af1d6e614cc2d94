package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Arbiter/internal/mq"
)

// RecoveryReport — итог восстановления после рестарта.
type RecoveryReport struct {
	// Dags — сколько незавершённых DAG найдено в хранилище checkpoint.
	Dags int

	// Actions — сколько незавершённых DagAction повторно прошло арбитраж.
	Actions int
}

// Recover восстанавливает работу после рестарта или смены лидера.
//
// Каждый DAG из хранилища checkpoint отправляется движку на сверку:
// его статус неизвестен. Незавершённые DagAction повторно проходят арбитраж.
func (o *Orchestrator) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport

	dags, err := o.store.GetDags(ctx)
	if err != nil {
		return report, fmt.Errorf("list checkpointed dags: %w", err)
	}
	report.Dags = len(dags)
	o.metrics.ObserveRecoveredDags(len(dags))

	var errs []error
	for _, dag := range dags {
		payload := mq.DagReconcilePayload{
			DagID: dag.ID.String(),
			Dag:   dag,
			Owner: o.owner,
		}
		if err := o.publisher.PublishDagReconcile(ctx, payload); err != nil {
			errs = append(errs, fmt.Errorf("reconcile %s: %w", dag.ID, err))
		}
	}

	if o.resumer != nil {
		n, err := o.resumer.Resume(ctx)
		report.Actions = n
		if err != nil {
			errs = append(errs, fmt.Errorf("resume dag actions: %w", err))
		}
	}

	o.logger.Info("recovery finished",
		"dags", report.Dags,
		"actions", report.Actions,
		"errors", len(errs),
	)
	return report, errors.Join(errs...)
}
