// Package api — admin HTTP API инстанса scheduler'а.
//
// Структура:
//   - handler.go         — Handler и его зависимости
//   - routes.go          — регистрация маршрутов
//   - middleware.go      — logging, recovery, request id
//   - response.go        — JSON-ответы и отображение ошибок в статусы
//   - dto.go             — request/response
//   - dag_handler.go     — /dags (checkpoint)
//   - action_handler.go  — /actions (lease)
//   - flow_handler.go    — /flows и ручной запуск
//   - trigger_handler.go — /triggers и /cron/next
package api
