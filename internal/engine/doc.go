// Package engine компилирует определение flow в DAG планов выполнения.
//
// Включает:
//   - parser.go   — парсинг и валидация job из JSON
//   - dag.go      — граф job, топологическая сортировка, CompileDag, ReadyJobs
//   - template.go — рендеринг Config job ({{ .Props.x }}, {{ .Flow.ExecutionID }})
//
// Сам execution engine внешний: он получает DAG через RabbitMQ
// и сообщает о прогрессе через checkpoint-сообщения.
package engine
