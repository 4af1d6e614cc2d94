package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Arbiter/internal/domain"
	"github.com/shaiso/Arbiter/internal/engine"
	"github.com/shaiso/Arbiter/internal/launcher"
	"github.com/shaiso/Arbiter/internal/scheduler"
)

// ErrInvalidConfig — конфигурация не прошла проверку.
var ErrInvalidConfig = errors.New("invalid config")

// Бэкенды хранилища lease.
const (
	LeaseBackendMemory   = "memory"
	LeaseBackendPostgres = "postgres"
	LeaseBackendRedis    = "redis"
)

// Бэкенды хранилища checkpoint.
const (
	StateBackendFile     = "file"
	StateBackendPostgres = "postgres"
)

// Config — конфигурация arbiter-scheduler.
type Config struct {
	Instance  InstanceConfig    `yaml:"instance"`
	Server    ServerConfig      `yaml:"server"`
	Log       LogConfig         `yaml:"log"`
	Backend   BackendConfig     `yaml:"backend"`
	Database  DatabaseConfig    `yaml:"database"`
	Redis     RedisConfig       `yaml:"redis"`
	RabbitMQ  RabbitMQConfig    `yaml:"rabbitmq"`
	Lease     LeaseConfig       `yaml:"lease"`
	Scheduler SchedulerConfig   `yaml:"scheduler"`
	Props     launcher.PropKeys `yaml:"props"`

	// Flows — flows, которые загружаются в репозиторий при старте.
	// С Postgres уже существующие flows не перезаписываются.
	Flows []domain.Flow `yaml:"flows"`

	// Env — переменные для шаблонов config job.
	Env map[string]string `yaml:"env"`
}

// InstanceConfig — идентичность инстанса.
type InstanceConfig struct {
	// ID — токен владельца lease. Пустой — генерируется при старте.
	ID string `yaml:"id"`
}

// ServerConfig — HTTP сервер (/healthz, /metrics, admin API).
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig — логирование.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// BackendConfig — выбор хранилищ.
type BackendConfig struct {
	Lease    string `yaml:"lease"`     // memory, postgres, redis
	State    string `yaml:"state"`     // file, postgres
	StateDir string `yaml:"state_dir"` // для state=file
}

// DatabaseConfig — Postgres.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// RedisConfig — Redis.
type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// RabbitMQConfig — канал к движку исполнения.
type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Prefetch int    `yaml:"prefetch"`
}

// LeaseConfig — параметры арбитража.
type LeaseConfig struct {
	Duration         time.Duration `yaml:"duration"`
	MinimumLinger    time.Duration `yaml:"minimum_linger"`
	BackOff          time.Duration `yaml:"back_off"`
	LaunchRetryDelay time.Duration `yaml:"launch_retry_delay"`
	Retention        time.Duration `yaml:"retention"`
	PurgeInterval    time.Duration `yaml:"purge_interval"`
}

// SchedulerConfig — параметры планировщика триггеров.
type SchedulerConfig struct {
	TickInterval   time.Duration `yaml:"tick_interval"`
	SyncInterval   time.Duration `yaml:"sync_interval"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

// Default возвращает конфигурацию по умолчанию для локальной разработки.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8081,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Backend: BackendConfig{
			Lease:    LeaseBackendMemory,
			State:    StateBackendFile,
			StateDir: "./data/dags",
		},
		Database: DatabaseConfig{
			MaxConns: 10,
		},
		Redis: RedisConfig{
			Prefix: "arbiter",
		},
		RabbitMQ: RabbitMQConfig{
			Prefetch: 10,
		},
		Lease: LeaseConfig{
			Duration:         5 * time.Minute,
			MinimumLinger:    2 * time.Second,
			BackOff:          time.Second,
			LaunchRetryDelay: 10 * time.Second,
			Retention:        24 * time.Hour,
			PurgeInterval:    time.Hour,
		},
		Scheduler: SchedulerConfig{
			TickInterval:   time.Second,
			SyncInterval:   30 * time.Second,
			MaxConcurrency: 16,
		},
		Props: launcher.DefaultPropKeys(),
	}
}

// Load собирает конфигурацию: значения по умолчанию → YAML файл (если path
// не пуст) → переменные окружения → Validate.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode накладывает YAML на текущие значения. Неизвестные ключи — ошибка.
func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	c.Props = c.Props.WithDefaults()
	return nil
}

// applyEnv применяет переменные окружения поверх файла.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("ARBITER_INSTANCE_ID", &c.Instance.ID)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("ARBITER_LEASE_BACKEND", &c.Backend.Lease)
	str("ARBITER_STATE_BACKEND", &c.Backend.State)
	str("ARBITER_STATE_DIR", &c.Backend.StateDir)
	str("DB_URL", &c.Database.URL)
	str("REDIS_URL", &c.Redis.URL)
	str("RABBITMQ_URL", &c.RabbitMQ.URL)

	if v, ok := lookup("SCHED_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: SCHED_PORT=%q: %v", ErrInvalidConfig, v, err)
		}
		c.Server.Port = port
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"ARBITER_LEASE_DURATION", &c.Lease.Duration},
		{"ARBITER_MINIMUM_LINGER", &c.Lease.MinimumLinger},
		{"ARBITER_BACKOFF", &c.Lease.BackOff},
	}
	for _, d := range durations {
		v, ok := lookup(d.key)
		if !ok || v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, d.key, v, err)
		}
		*d.dst = parsed
	}
	return nil
}

// Validate проверяет согласованность конфигурации.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port %d out of range", c.Server.Port)
	}

	switch c.Backend.Lease {
	case LeaseBackendMemory, LeaseBackendPostgres, LeaseBackendRedis:
	default:
		add("backend.lease %q: want memory, postgres or redis", c.Backend.Lease)
	}
	switch c.Backend.State {
	case StateBackendFile:
		if c.Backend.StateDir == "" {
			add("backend.state_dir is required for file state backend")
		}
	case StateBackendPostgres:
	default:
		add("backend.state %q: want file or postgres", c.Backend.State)
	}

	if c.Lease.Duration <= 0 {
		add("lease.duration must be positive")
	}
	if c.Lease.MinimumLinger <= 0 {
		add("lease.minimum_linger must be positive")
	}
	if c.Lease.BackOff < 0 {
		add("lease.back_off must not be negative")
	}
	if c.Scheduler.TickInterval <= 0 {
		add("scheduler.tick_interval must be positive")
	}

	for i := range c.Flows {
		f := &c.Flows[i]
		if f.Group == "" || f.Name == "" {
			add("flows[%d]: group and name are required", i)
			continue
		}
		if f.CronExpr != "" {
			if err := scheduler.ValidateCronExpr(f.CronExpr); err != nil {
				add("flow %s: %v", f.Key(), err)
			}
		}
		if err := engine.ValidateJobs(f.Jobs); err != nil {
			add("flow %s: %v", f.Key(), err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// UsesPostgres возвращает true, если хотя бы одно хранилище в Postgres.
func (c *Config) UsesPostgres() bool {
	return c.Backend.Lease == LeaseBackendPostgres || c.Backend.State == StateBackendPostgres
}
