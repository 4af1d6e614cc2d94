package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Arbiter/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeDagLaunch     MessageType = "dag.launch"
	MessageTypeDagReconcile  MessageType = "dag.reconcile"
	MessageTypeDagCheckpoint MessageType = "dag.checkpoint"
	MessageTypeDagCompleted  MessageType = "dag.completed"
)

// Message — конверт сообщения.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// DagLaunchPayload — передача выигранного запуска движку исполнения.
type DagLaunchPayload struct {
	DagID           string                    `json:"dag_id"`
	FlowGroup       string                    `json:"flow_group"`
	FlowName        string                    `json:"flow_name"`
	FlowExecutionID int64                     `json:"flow_execution_id"`
	Owner           string                    `json:"owner"`
	EventTimeMillis int64                     `json:"event_time_millis"`
	Jobs            []domain.JobExecutionPlan `json:"jobs"`
	Props           map[string]string         `json:"props,omitempty"`
}

// DagReconcilePayload — запрос на сверку DAG, найденного при восстановлении.
// Статус исполнения неизвестен: движок сам решает, продолжать или завершать.
type DagReconcilePayload struct {
	DagID string      `json:"dag_id"`
	Dag   *domain.Dag `json:"dag"`
	Owner string      `json:"owner"`
}

// JobProgressPayload — прогресс job от движка (очередь dags.checkpoint).
type JobProgressPayload struct {
	DagID   string `json:"dag_id"`
	JobName string `json:"job_name"`
	Status  string `json:"status"`
	Attempt int    `json:"attempt"`
	Error   string `json:"error,omitempty"`
}

// DagCompletedPayload — завершение DAG от движка (очередь dags.completed).
type DagCompletedPayload struct {
	DagID  string `json:"dag_id"`
	Status string `json:"status"` // SUCCEEDED, FAILED или CANCELLED
	Error  string `json:"error,omitempty"`
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
		now:    time.Now,
	}
}

// NewMessage собирает конверт с новым ID.
func NewMessage(msgType MessageType, payload any, now time.Time) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: now,
	}
}

// ErrNacked — брокер не подтвердил приём сообщения.
var ErrNacked = errors.New("message nacked by broker")

var errConfirmsDisabled = errors.New("publish channel is not in confirm mode")

// Publish публикует сообщение и ждёт publisher confirm от брокера.
// nil означает, что брокер взял сообщение на себя; при ошибке
// вызывающий не может считать запуск переданным.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithPublishChannel(ctx, func(ch *amqp.Channel) error {
		confirm, err := ch.PublishWithDeferredConfirmWithContext(
			ctx,
			string(exchange),
			string(routingKey),
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}
		if confirm == nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, errConfirmsDisabled)
		}
		if err := awaitConfirm(ctx, confirm); err != nil {
			return fmt.Errorf("publish to %s/%s: message %s: %w", exchange, routingKey, msg.ID, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// confirmation — то, что нужно от *amqp.DeferredConfirmation.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

func awaitConfirm(ctx context.Context, confirm confirmation) error {
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait confirm: %w", err)
	}
	if !acked {
		return ErrNacked
	}
	return nil
}

// PublishDagLaunch передаёт выигранный запуск движку.
func (p *Publisher) PublishDagLaunch(ctx context.Context, payload DagLaunchPayload) error {
	return p.Publish(ctx, ExchangeDags, RoutingKeyLaunch, NewMessage(MessageTypeDagLaunch, payload, p.now()))
}

// PublishDagReconcile просит движок сверить DAG после рестарта.
func (p *Publisher) PublishDagReconcile(ctx context.Context, payload DagReconcilePayload) error {
	return p.Publish(ctx, ExchangeDags, RoutingKeyReconcile, NewMessage(MessageTypeDagReconcile, payload, p.now()))
}
