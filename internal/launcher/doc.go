// Package launcher реализует протокол запуска flow поверх lease.Arbiter.
//
// Срабатывание триггера превращается в попытку взять lease:
//
//	LeaseObtained    → передача запуска orchestrator'у → RecordLeaseSuccess
//	LeasedToAnother  → одноразовый reminder-триггер через linger + jitter
//	NoLongerLeasing  → ничего, действие уже разрешено
//
// Reminder несёт в payload (Props) consensus event time победителя,
// поэтому все повторные попытки привязаны к одному событию и не дрейфуют.
//
// Структура:
//   - props.go   — Props, PropKeys и разбор payload с починкой
//   - cron.go    — одноразовые cron-выражения из задержки
//   - handler.go — Handler: HandleTrigger, Submit, Resume
package launcher
