package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeDags Exchange = "arbiter.dags"
	ExchangeDLQ  Exchange = "arbiter.dlq"
)

// Queues — имена очередей.
//
// dags.launch и dags.reconcile читает движок исполнения,
// dags.checkpoint и dags.completed читает scheduler.
const (
	QueueDagsLaunch     Queue = "dags.launch"
	QueueDagsReconcile  Queue = "dags.reconcile"
	QueueDagsCheckpoint Queue = "dags.checkpoint"
	QueueDagsCompleted  Queue = "dags.completed"
	QueueDLQDags        Queue = "dlq.dags"
)

// Routing keys.
const (
	RoutingKeyLaunch     RoutingKey = "launch"
	RoutingKeyReconcile  RoutingKey = "reconcile"
	RoutingKeyCheckpoint RoutingKey = "checkpoint"
	RoutingKeyCompleted  RoutingKey = "completed"
	RoutingKeyDLQDags    RoutingKey = "dags"
)

type exchangeDecl struct {
	name Exchange
	kind string
}

type queueDecl struct {
	name Queue
	args amqp.Table
}

type bindingDecl struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
}

// topology — полный набор объявлений. Вынесен в данные,
// чтобы состав топологии можно было проверить без брокера.
type topology struct {
	exchanges []exchangeDecl
	queues    []queueDecl
	bindings  []bindingDecl
}

func arbiterTopology() topology {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQDags),
	}

	return topology{
		exchanges: []exchangeDecl{
			{ExchangeDags, "direct"},
			{ExchangeDLQ, "direct"},
		},
		queues: []queueDecl{
			// launch и completed с DLQ: потерять их нельзя
			{QueueDagsLaunch, dlqArgs},
			{QueueDagsReconcile, nil},
			{QueueDagsCheckpoint, nil},
			{QueueDagsCompleted, dlqArgs},
			{QueueDLQDags, nil},
		},
		bindings: []bindingDecl{
			{QueueDagsLaunch, RoutingKeyLaunch, ExchangeDags},
			{QueueDagsReconcile, RoutingKeyReconcile, ExchangeDags},
			{QueueDagsCheckpoint, RoutingKeyCheckpoint, ExchangeDags},
			{QueueDagsCompleted, RoutingKeyCompleted, ExchangeDags},
			{QueueDLQDags, RoutingKeyDLQDags, ExchangeDLQ},
		},
	}
}

// SetupTopology объявляет exchanges, queues и bindings. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	topo := arbiterTopology()

	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// 1. Exchanges
		for _, ex := range topo.exchanges {
			if err := ch.ExchangeDeclare(string(ex.name), ex.kind, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex.name, err)
			}
		}

		// 2. Queues
		for _, q := range topo.queues {
			if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}

		// 3. Bindings
		for _, b := range topo.bindings {
			if err := ch.QueueBind(string(b.queue), string(b.routingKey), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}

		return nil
	})
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Arbiter RabbitMQ Topology:

    arbiter.dags (direct)
    ├── dags.launch     [routing: launch]      Consumer: execution engine, DLQ: dlq.dags
    ├── dags.reconcile  [routing: reconcile]   Consumer: execution engine
    ├── dags.checkpoint [routing: checkpoint]  Consumer: scheduler
    └── dags.completed  [routing: completed]   Consumer: scheduler, DLQ: dlq.dags

    arbiter.dlq (direct)
    └── dlq.dags [routing: dags]  Manual processing
  `
}
