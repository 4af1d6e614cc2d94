// Package mq связывает scheduler с движком исполнения через RabbitMQ.
//
// Структура:
//   - connection.go — соединение с reconnect, consume-канал и publish-канал с publisher confirms
//   - topology.go   — exchanges, queues, bindings
//   - publisher.go  — dag.launch и dag.reconcile
//   - consumer.go   — потребление dag.checkpoint и dag.completed
//
// Exchanges:
//   - arbiter.dags — все события DAG
//   - arbiter.dlq  — dead letter queue
package mq
