// Package config собирает конфигурацию arbiter-scheduler:
// значения по умолчанию → YAML файл → переменные окружения → Validate.
//
// Переменные окружения: DB_URL, REDIS_URL, RABBITMQ_URL, SCHED_PORT,
// LOG_LEVEL, LOG_FORMAT, ARBITER_INSTANCE_ID, ARBITER_LEASE_BACKEND,
// ARBITER_STATE_BACKEND, ARBITER_STATE_DIR, ARBITER_LEASE_DURATION,
// ARBITER_MINIMUM_LINGER, ARBITER_BACKOFF.
package config
