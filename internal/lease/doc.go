// Package lease реализует арбитраж запусков между инстансами scheduler'а.
//
// Несколько инстансов работают как независимые процессы и делят только
// хранилище DagActionStore. Взаимное исключение обеспечивается условной
// записью хранилища (ActionStore.Put), а не блокировками в памяти.
//
// Структура:
//   - store.go        — контракт ActionStore и исходы условной записи
//   - arbiter.go      — Arbiter: машина состояний TryAcquireLease
//   - memory_store.go — MemoryStore, реализация для одного процесса и тестов
//
// Жизненный цикл lease:
//
//	нет записи / истёк ──Put──▶ держит инстанс A ──Complete──▶ завершён
//	                              │
//	                              └─ Put от B → конфликт → LeasedToAnother
//
// Истечение — единственный механизм liveness: явного heartbeat нет.
// Владелец может продлить lease повторным Put (идемпотентное продление).
package lease
