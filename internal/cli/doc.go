// Package cli реализует инструмент командной строки Arbiter.
//
// CLI работает через admin API планировщика и не импортирует
// внутренние пакеты системы. Типы ответов продублированы из api/dto.go.
//
// # Client
//
// HTTP-клиент admin API. Разбирает DataResponse, ListResponse и
// ErrorResponse. Ошибки сервера возвращаются как *APIError,
// IsNotFound и IsConflict проверяют код ответа.
//
//	client := cli.NewClient("http://localhost:8081")
//	dags, err := client.ListDags()
//
// # Output
//
// Таблицы (text/tabwriter) по умолчанию, JSON с флагом --json.
// Данные идут в stdout, сообщения в stderr:
//
//	arbiter dag list --json | jq .
//
// # Commands
//
//   - flow: list, apply, show, enable, disable, delete, launch
//   - dag: list, show, delete
//   - action: list, show, delete
//   - trigger: list
//   - cron: next
//
// flow apply читает YAML в формате секции flows конфига планировщика.
package cli
