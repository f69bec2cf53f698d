package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Broker      BrokerConfig      `yaml:"broker"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Redis       RedisConfig       `yaml:"redis"`
	MinIO       MinIOConfig       `yaml:"minio"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Streams     StreamsConfig     `yaml:"streams"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Breaker     BreakerConfig     `yaml:"breaker"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Migration   MigrationConfig   `yaml:"migration"`
}

const (
	BrokerAMQP  = "amqp"
	BrokerRedis = "redis"
)

type BrokerConfig struct {
	// Kind selects the transport: "amqp" or "redis".
	Kind string `yaml:"kind"`
}

type RabbitMQConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	VHost    string `yaml:"vhost"`
}

func (c RabbitMQConfig) URL() string {
	u := &url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + strings.TrimPrefix(c.VHost, "/"),
	}
	if c.VHost == "" || c.VHost == "/" {
		u.Path = "/"
	}
	return u.String()
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`
}

func (c PostgresConfig) DSN() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Database,
		RawQuery: fmt.Sprintf("sslmode=%s", sslmode),
	}
	return u.String()
}

type RedisConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type PipelineConfig struct {
	Workers            int    `yaml:"workers"`
	Buffer             int    `yaml:"buffer"`
	PrefetchCount      int    `yaml:"prefetch_count"`
	HandlerTimeoutSecs int    `yaml:"handler_timeout_secs"`
	Exchange           string `yaml:"exchange"`
	Queue              string `yaml:"queue"`
	ConsumerTag        string `yaml:"consumer_tag"`
	DeadLetterExchange string `yaml:"dead_letter_exchange"`
	DeadLetterQueue    string `yaml:"dead_letter_queue"`
	DeadLetter         *bool  `yaml:"dead_letter"`
}

func (c PipelineConfig) HandlerTimeout() time.Duration {
	return time.Duration(c.HandlerTimeoutSecs) * time.Second
}

type StreamsConfig struct {
	Stream             string `yaml:"stream"`
	DLQ                string `yaml:"dlq"`
	Group              string `yaml:"group"`
	Consumer           string `yaml:"consumer"`
	Count              int    `yaml:"count"`
	ReclaimMinIdleSecs int    `yaml:"reclaim_min_idle_secs"`
	MaxDeliveries      int    `yaml:"max_deliveries"`
}

func (c StreamsConfig) ReclaimMinIdle() time.Duration {
	return time.Duration(c.ReclaimMinIdleSecs) * time.Second
}

type IdempotencyConfig struct {
	TTLSecs int `yaml:"ttl_secs"`
}

func (c IdempotencyConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type MigrationConfig struct {
	Path string `yaml:"path"`
}

const (
	defaultBrokerKind         = BrokerAMQP
	defaultRabbitMQHost       = "localhost"
	defaultRabbitMQPort       = 5672
	defaultRabbitMQUser       = "guest"
	defaultRabbitMQPassword   = "guest"
	defaultPostgresHost       = "localhost"
	defaultPostgresPort       = 5432
	defaultPostgresUser       = "orderflow"
	defaultPostgresDB         = "orderflow"
	defaultPostgresMaxConns   = 20
	defaultRedisHost          = "localhost"
	defaultRedisPort          = 6379
	defaultRedisPoolSize      = 20
	defaultMinIOEndpoint      = "localhost:9000"
	defaultPipelineWorkers    = 10
	defaultPrefetchCount      = 20
	defaultExchange           = "orderflow.events"
	defaultQueue              = "orderflow.consumer"
	defaultConsumerTag        = "orderflow-consumer"
	defaultDeadLetterExchange = "orderflow.dlx"
	defaultDeadLetterQueue    = "orderflow.dlq"
	defaultStream             = "stream:orderflow"
	defaultStreamDLQ          = "stream:orderflow:dlq"
	defaultStreamGroup        = "orderflow-workers"
	defaultStreamCount        = 10
	defaultReclaimMinIdleSecs = 60
	defaultMaxDeliveries      = 5
	defaultIdempotencyTTLSecs = 86400
	defaultBreakerFailures    = 5
	defaultBreakerResetSecs   = 30
	defaultLogLevel           = "info"
	defaultLogMaxSizeMB       = 100
	defaultLogMaxBackups      = 5
	defaultLogMaxAgeDays      = 14
	defaultMetricsAddr        = ":9102"
	defaultMigrationPath      = "file://internal/database/migrations"
)

var ErrNoConfigFile = errors.New("config file not found")

// DefaultPath is read when CONFIG_PATH is unset.
const DefaultPath = "configs/development.yaml"

// LoadOrEnv loads the file named by CONFIG_PATH, or DefaultPath. A missing
// file falls back to defaults plus environment; ErrNoConfigFile is returned
// alongside so callers can log it. Any other load error is returned with a
// nil config.
func LoadOrEnv() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = DefaultPath
	}
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return LoadFromEnv(), fmt.Errorf("%w: %s", ErrNoConfigFile, path)
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadFromEnv() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyDefaults() {
	c.Broker.Kind = strings.ToLower(c.Broker.Kind)
	if c.Broker.Kind == "" {
		c.Broker.Kind = defaultBrokerKind
	}
	if c.RabbitMQ.Host == "" {
		c.RabbitMQ.Host = defaultRabbitMQHost
	}
	if c.RabbitMQ.Port == 0 {
		c.RabbitMQ.Port = defaultRabbitMQPort
	}
	if c.RabbitMQ.User == "" {
		c.RabbitMQ.User = defaultRabbitMQUser
	}
	if c.RabbitMQ.Password == "" {
		c.RabbitMQ.Password = defaultRabbitMQPassword
	}
	if c.Postgres.Host == "" {
		c.Postgres.Host = defaultPostgresHost
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = defaultPostgresPort
	}
	if c.Postgres.User == "" {
		c.Postgres.User = defaultPostgresUser
	}
	if c.Postgres.Database == "" {
		c.Postgres.Database = defaultPostgresDB
	}
	if c.Postgres.MaxConns == 0 {
		c.Postgres.MaxConns = defaultPostgresMaxConns
	}
	if c.Redis.Host == "" {
		c.Redis.Host = defaultRedisHost
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = defaultRedisPort
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = defaultRedisPoolSize
	}
	if c.MinIO.Endpoint == "" {
		c.MinIO.Endpoint = defaultMinIOEndpoint
	}
	if c.Pipeline.Workers == 0 {
		c.Pipeline.Workers = defaultPipelineWorkers
	}
	if c.Pipeline.Buffer == 0 {
		c.Pipeline.Buffer = c.Pipeline.Workers
	}
	if c.Pipeline.PrefetchCount == 0 {
		c.Pipeline.PrefetchCount = defaultPrefetchCount
	}
	if c.Pipeline.Exchange == "" {
		c.Pipeline.Exchange = defaultExchange
	}
	if c.Pipeline.Queue == "" {
		c.Pipeline.Queue = defaultQueue
	}
	if c.Pipeline.ConsumerTag == "" {
		c.Pipeline.ConsumerTag = defaultConsumerTag
	}
	if c.Pipeline.DeadLetterExchange == "" {
		c.Pipeline.DeadLetterExchange = defaultDeadLetterExchange
	}
	if c.Pipeline.DeadLetterQueue == "" {
		c.Pipeline.DeadLetterQueue = defaultDeadLetterQueue
	}
	if c.Pipeline.DeadLetter == nil {
		t := true
		c.Pipeline.DeadLetter = &t
	}
	if c.Streams.Stream == "" {
		c.Streams.Stream = defaultStream
	}
	if c.Streams.DLQ == "" {
		c.Streams.DLQ = defaultStreamDLQ
	}
	if c.Streams.Group == "" {
		c.Streams.Group = defaultStreamGroup
	}
	if c.Streams.Count == 0 {
		c.Streams.Count = defaultStreamCount
	}
	if c.Streams.ReclaimMinIdleSecs == 0 {
		c.Streams.ReclaimMinIdleSecs = defaultReclaimMinIdleSecs
	}
	if c.Streams.MaxDeliveries == 0 {
		c.Streams.MaxDeliveries = defaultMaxDeliveries
	}
	if c.Idempotency.TTLSecs == 0 {
		c.Idempotency.TTLSecs = defaultIdempotencyTTLSecs
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = defaultBreakerFailures
	}
	if c.Breaker.ResetTimeoutSecs == 0 {
		c.Breaker.ResetTimeoutSecs = defaultBreakerResetSecs
	}
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = defaultLogMaxSizeMB
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = defaultLogMaxBackups
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = defaultLogMaxAgeDays
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = defaultMetricsAddr
	}
	if c.Migration.Path == "" {
		c.Migration.Path = defaultMigrationPath
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	expanded := os.Expand(string(data), os.Getenv)

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Broker.Kind {
	case BrokerAMQP, BrokerRedis:
	default:
		return fmt.Errorf("unknown broker kind %q", c.Broker.Kind)
	}
	if c.Pipeline.Workers < 0 {
		return fmt.Errorf("pipeline.workers must be positive, got %d", c.Pipeline.Workers)
	}
	return nil
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BROKER_KIND"); v != "" {
		c.Broker.Kind = strings.ToLower(v)
	}
	if v := os.Getenv("RABBITMQ_HOST"); v != "" {
		c.RabbitMQ.Host = v
	}
	envInt("RABBITMQ_PORT", &c.RabbitMQ.Port)
	if v := os.Getenv("RABBITMQ_USER"); v != "" {
		c.RabbitMQ.User = v
	}
	if v := os.Getenv("RABBITMQ_PASSWORD"); v != "" {
		c.RabbitMQ.Password = v
	}
	if v := os.Getenv("RABBITMQ_VHOST"); v != "" {
		c.RabbitMQ.VHost = v
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		c.Postgres.Host = v
	}
	envInt("POSTGRES_PORT", &c.Postgres.Port)
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		c.Postgres.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		c.Postgres.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		c.Postgres.Database = v
	}
	if v := os.Getenv("POSTGRES_SSLMODE"); v != "" {
		c.Postgres.SSLMode = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	envInt("REDIS_PORT", &c.Redis.Port)
	envInt("REDIS_DB", &c.Redis.DB)
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		c.MinIO.Endpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		c.MinIO.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		c.MinIO.SecretKey = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		c.MinIO.UseSSL = strings.EqualFold(v, "true")
	}
	envInt("PIPELINE_WORKERS", &c.Pipeline.Workers)
	envInt("PIPELINE_PREFETCH", &c.Pipeline.PrefetchCount)
	envInt("HANDLER_TIMEOUT_SECS", &c.Pipeline.HandlerTimeoutSecs)
	if v := os.Getenv("DEAD_LETTER"); v != "" {
		b := strings.EqualFold(v, "true")
		c.Pipeline.DeadLetter = &b
	}
	if v := os.Getenv("STREAM_CONSUMER"); v != "" {
		c.Streams.Consumer = v
	}
	envInt("STREAM_MAX_DELIVERIES", &c.Streams.MaxDeliveries)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		c.Log.File = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv("MIGRATION_PATH"); v != "" {
		c.Migration.Path = v
	}
}
