package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Arbiter/internal/domain"
	"github.com/shaiso/Arbiter/internal/mq"
)

// handleCheckpoint обрабатывает прогресс job из dags.checkpoint.
func (o *Orchestrator) handleCheckpoint(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.JobProgressPayload](&delivery.Message)
	if err != nil {
		return mq.Permanent(fmt.Errorf("parse dag.checkpoint payload: %w", err))
	}

	progress, err := progressFromPayload(payload)
	if err != nil {
		return mq.Permanent(err)
	}

	err = o.ApplyCheckpoint(ctx, progress)
	if errors.Is(err, ErrJobNotFound) {
		return mq.Permanent(err)
	}
	return err
}

// handleCompleted обрабатывает завершение DAG из dags.completed.
//
// Неуспех исполнения при успешной очистке — штатный исход: сообщение
// подтверждается. Сбой очистки возвращает сообщение в очередь.
func (o *Orchestrator) handleCompleted(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.DagCompletedPayload](&delivery.Message)
	if err != nil {
		return mq.Permanent(fmt.Errorf("parse dag.completed payload: %w", err))
	}

	id, err := domain.ParseDagID(payload.DagID)
	if err != nil {
		return mq.Permanent(err)
	}

	outcome := DagOutcome{Status: domain.DagStatus(payload.Status), Error: payload.Error}
	err = o.FinishDag(ctx, id, outcome)

	var partial *PartialFailureError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidOutcome):
		return mq.Permanent(err)
	case errors.As(err, &partial):
		return err
	case errors.Is(err, ErrDagFailed):
		return nil
	default:
		return err
	}
}

func progressFromPayload(p mq.JobProgressPayload) (JobProgress, error) {
	id, err := domain.ParseDagID(p.DagID)
	if err != nil {
		return JobProgress{}, err
	}
	if p.JobName == "" {
		return JobProgress{}, fmt.Errorf("dag.checkpoint for %s has no job name", p.DagID)
	}

	return JobProgress{
		DagID:   id,
		JobName: p.JobName,
		Status:  domain.ParseJobStatus(p.Status),
		Attempt: p.Attempt,
		Error:   p.Error,
	}, nil
}
