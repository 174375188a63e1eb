package config

import (
	"fmt"
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverSQLite   = "sqlite"

	EventsBackendNone     = ""
	EventsBackendRabbitMQ = "rabbitmq"
	EventsBackendRedis    = "redis"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv       string `envconfig:"APP_ENV" default:"dev"`
	Port         int    `envconfig:"PORT" default:"8080"`
	TenantHeader string `envconfig:"TENANT_HEADER" default:"X-Tenant-ID"`

	Storage struct {
		Driver     string `envconfig:"STORAGE_DRIVER" default:"postgres"`
		PGDSN      string `envconfig:"POSTGRES_CONNECTION"`
		MaxConns   int32  `envconfig:"PG_MAX_CONNS" default:"5"`
		SQLitePath string `envconfig:"SQLITE_PATH" default:"apex.db"`
	} `envconfig:""`

	Cache struct {
		RedisAddr     string        `envconfig:"REDIS_ADDR"`
		RedisPassword string        `envconfig:"REDIS_PASSWORD"`
		RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
		ListTTL       time.Duration `envconfig:"LIST_CACHE_TTL" default:"30s"`
	} `envconfig:""`

	Events struct {
		Backend  string `envconfig:"EVENTS_BACKEND"`
		AMQPURL  string `envconfig:"AMQP_URL"`
		Exchange string `envconfig:"EVENTS_EXCHANGE" default:"apex.records"`
		RedisKey string `envconfig:"EVENTS_REDIS_KEY" default:"apex:record_events"`
	} `envconfig:""`

	Limits struct {
		ListMax int `envconfig:"LIST_MAX_LIMIT" default:"1000"`
	} `envconfig:""`

	Server struct {
		ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"10s"`
		ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
		WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"15s"`
		IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"60s"`
		RequestTimeout  time.Duration `envconfig:"SERVER_REQUEST_TIMEOUT" default:"60s"`
	} `envconfig:""`

	Metrics struct {
		Addr string `envconfig:"METRICS_ADDR"`
	} `envconfig:""`
}

// Parse читает конфиг из окружения и проверяет его.
func Parse() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, cfg.Validate()
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Validate проверяет согласованность настроек.
func (c AppConfig) Validate() error {
	switch c.Storage.Driver {
	case StorageDriverPostgres:
		if c.Storage.PGDSN == "" {
			return fmt.Errorf("POSTGRES_CONNECTION is required for storage driver %q", c.Storage.Driver)
		}
	case StorageDriverSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for storage driver %q", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Events.Backend {
	case EventsBackendNone:
	case EventsBackendRabbitMQ:
		if c.Events.AMQPURL == "" {
			return fmt.Errorf("AMQP_URL is required for events backend %q", c.Events.Backend)
		}
	case EventsBackendRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for events backend %q", c.Events.Backend)
		}
	default:
		return fmt.Errorf("unknown events backend %q", c.Events.Backend)
	}
	if c.TenantHeader == "" {
		return fmt.Errorf("TENANT_HEADER must not be empty")
	}
	return nil
}

// Addr возвращает адрес HTTP сервера.
func (c AppConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
