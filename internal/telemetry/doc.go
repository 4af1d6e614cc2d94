// Package telemetry обеспечивает наблюдаемость системы.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики арбитража, reminder'ов и checkpoint'ов
//
// Все компоненты получают *slog.Logger и *Metrics через Config
// и экспортируют метрики на /metrics endpoint.
package telemetry
