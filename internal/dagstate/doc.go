// Package dagstate хранит DAG, которые уже запущены и выполняются.
//
// Это не снимок по завершении, а аналог write-ahead log: в хранилище лежат
// DAG с незавершённой работой, чтобы новый лидер после падения инстанса
// мог их найти и сверить. Наличие записи после рестарта означает
// "статус выполнения неизвестен", а не "DAG всё ещё выполняется".
//
// Структура:
//   - store.go      — контракт Store и совместимый строковый шим LegacyStore
//   - file_store.go — FileStore: по JSON-файлу на DAG, атомарная перезапись
//
// Реализация поверх Postgres — repo.DagStateRepo.
//
// Хранилище не делает неявных retry: любая ошибка I/O возвращается
// вызывающему коду, который решает, повторить checkpoint или считать его фатальным.
package dagstate
