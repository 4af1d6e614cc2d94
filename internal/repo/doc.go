// Package repo содержит реализации хранилищ поверх Postgres (pgx/v5).
//
//   - DagActionRepo — lease.ActionStore: условная запись одним upsert с часами БД
//   - DagStateRepo  — dagstate.Store: DAG в jsonb
//   - FlowRepo      — определения flow для scheduler.Syncer и admin API
//
// Схема создаётся EnsureSchema при старте.
package repo
