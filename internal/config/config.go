package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"kassir/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Remote     RemoteConfig     `yaml:"remote"`
	Sync       SyncConfig       `yaml:"sync"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	API        APIConfig        `yaml:"api"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// RemoteConfig описывает подключение к удалённой системе учёта.
type RemoteConfig struct {
	BaseURL string  `yaml:"base_url"`
	APIKey  string  `yaml:"api_key"`
	Timeout string  `yaml:"timeout"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// SyncConfig управляет очередями и оркестратором.
type SyncConfig struct {
	MaxInvoiceRetries int    `yaml:"max_invoice_retries"`
	QueueBatchSize    int    `yaml:"queue_batch_size"`
	PollInterval      string `yaml:"poll_interval"`
	ProbeInterval     string `yaml:"probe_interval"`
	PruneAfterDays    int    `yaml:"prune_after_days"`
	RetryInitialDelay string `yaml:"retry_initial_delay"`
	RetryMaxDelay     string `yaml:"retry_max_delay"`
	RetryBackoff      float64 `yaml:"retry_backoff"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// TelegramConfig — бот для оповещений операторов о мёртвых задачах.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Remote.BaseURL == "" {
		return errors.New("remote base_url is required")
	}

	if c.Sync.MaxInvoiceRetries < 1 {
		return fmt.Errorf("sync.max_invoice_retries must be positive, got %d", c.Sync.MaxInvoiceRetries)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "kassir"
	}
	if c.Remote.Timeout == "" {
		c.Remote.Timeout = "15s"
	}
	if c.Remote.RPS == 0 {
		c.Remote.RPS = 10
	}
	if c.Remote.Burst == 0 {
		c.Remote.Burst = 5
	}
	if c.Sync.MaxInvoiceRetries == 0 {
		c.Sync.MaxInvoiceRetries = models.MaxInvoiceRetries
	}
	if c.Sync.QueueBatchSize == 0 {
		c.Sync.QueueBatchSize = models.DefaultQueueBatchSize
	}
	if c.Sync.PollInterval == "" {
		c.Sync.PollInterval = "2s"
	}
	if c.Sync.ProbeInterval == "" {
		c.Sync.ProbeInterval = "30s"
	}
	if c.Sync.PruneAfterDays == 0 {
		c.Sync.PruneAfterDays = models.DefaultPruneAfterDays
	}
	if c.Sync.RetryInitialDelay == "" {
		c.Sync.RetryInitialDelay = "2s"
	}
	if c.Sync.RetryMaxDelay == "" {
		c.Sync.RetryMaxDelay = "1m"
	}
	if c.Sync.RetryBackoff == 0 {
		c.Sync.RetryBackoff = 2
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.Enabled && !c.API.Auth.Enabled {
		// auth enabled by default when API is enabled
		c.API.Auth.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}

// RemoteTimeout возвращает таймаут удалённых вызовов.
func (c *Config) RemoteTimeout() time.Duration {
	return parseDurationOr(c.Remote.Timeout, 15*time.Second)
}

// PollInterval возвращает период опроса общей очереди.
func (c *SyncConfig) PollIntervalDuration() time.Duration {
	return parseDurationOr(c.PollInterval, 2*time.Second)
}

// ProbeIntervalDuration возвращает период проверки связи.
func (c *SyncConfig) ProbeIntervalDuration() time.Duration {
	return parseDurationOr(c.ProbeInterval, 30*time.Second)
}

func (c *SyncConfig) RetryInitialDelayDuration() time.Duration {
	return parseDurationOr(c.RetryInitialDelay, 2*time.Second)
}

func (c *SyncConfig) RetryMaxDelayDuration() time.Duration {
	return parseDurationOr(c.RetryMaxDelay, time.Minute)
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
