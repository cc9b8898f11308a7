package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fjod/go_cart/cart-store/internal/cart"
	"gopkg.in/yaml.v3"
)

// Backend names accepted in StorageConfig.Backend.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendMongo    = "mongo"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type StorageConfig struct {
	Backend        string `yaml:"backend"`
	Key            string `yaml:"key"`
	RedisAddr      string `yaml:"redis_addr"`
	RedisPassword  string `yaml:"redis_password"`
	MongoURI       string `yaml:"mongo_uri"`
	MongoDBName    string `yaml:"mongo_db_name"`
	SQLitePath     string `yaml:"sqlite_path"`
	PostgresDSN    string `yaml:"postgres_dsn"`
	MigrationsPath string `yaml:"migrations_path"` // empty uses the embedded migrations
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"` // empty disables publishing
	Topic   string   `yaml:"topic"`
}

type Config struct {
	HTTPPort        string        `yaml:"http_port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
	LogPretty       bool          `yaml:"log_pretty"`
	Storage         StorageConfig `yaml:"storage"`
	Kafka           KafkaConfig   `yaml:"kafka"`
}

func DefaultConfig() *Config {
	return &Config{
		HTTPPort:        "8080",
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
		Storage: StorageConfig{
			Backend:        BackendSQLite,
			Key:            cart.DefaultStorageKey,
			RedisAddr:      "localhost:6379",
			MongoURI:       "mongodb://localhost:27017",
			MongoDBName:    "cartdb",
			SQLitePath:     "cart.db",
		},
		Kafka: KafkaConfig{
			Topic: "cart-updates",
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty) on top of the
// defaults, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendRedis, BackendMongo, BackendSQLite, BackendPostgres:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Key == "" {
		return fmt.Errorf("storage key must not be empty")
	}
	if c.Storage.Backend == BackendPostgres && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("postgres backend requires postgres_dsn")
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	s := &cfg.Storage
	s.Backend = getEnv("CART_STORAGE_BACKEND", s.Backend)
	s.Key = getEnv("CART_STORAGE_KEY", s.Key)
	s.RedisAddr = getEnv("REDIS_ADDR", s.RedisAddr)
	s.RedisPassword = getEnv("REDIS_PASSWORD", s.RedisPassword)
	s.MongoURI = getEnv("MONGO_URI", s.MongoURI)
	s.MongoDBName = getEnv("MONGO_DB_NAME", s.MongoDBName)
	s.SQLitePath = getEnv("SQLITE_PATH", s.SQLitePath)
	s.PostgresDSN = getEnv("POSTGRES_DSN", s.PostgresDSN)
	s.MigrationsPath = getEnv("MIGRATIONS_PATH", s.MigrationsPath)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
