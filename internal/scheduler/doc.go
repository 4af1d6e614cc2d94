// Package scheduler реализует таймерный сервис триггеров и синхронизацию flows.
//
// TriggerScheduler — cron-таймеры в памяти инстанса: срабатывание вызывает
// callback с payload триггера. Syncer регистрирует recurring-триггер на каждый
// включённый flow; launcher добавляет одноразовые reminder-триггеры.
//
// Структура:
//   - cron.go      — парсинг 6/7-польных cron-выражений (с полем года)
//   - trigger.go   — TriggerScheduler (Schedule, Unschedule, Tick, Run)
//   - scheduler.go — Syncer (flows → триггеры)
//
// Использование:
//
//	triggers := scheduler.NewTriggerScheduler(scheduler.TriggerSchedulerConfig{
//	    Callback: handler.HandleTrigger,
//	    Logger:   logger,
//	})
//	syncer := scheduler.NewSyncer(scheduler.SyncerConfig{
//	    Flows:    flowRepo,
//	    Triggers: triggers,
//	    Payload:  handler.FlowPayload,
//	})
//
//	go triggers.Run(ctx)
//
// Leader election не нужен: все инстансы срабатывают одновременно,
// а единственного исполнителя выбирает lease.Arbiter.
package scheduler
