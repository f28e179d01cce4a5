package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wekeepgrowing/appstore-reconciler/pkg/logger"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables overriding the YAML file.
const EnvPrefix = "RECONCILER"

type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	Log       logger.Config   `yaml:"log"`
	JWT       JWTConfig       `yaml:"jwt"`
	Redis     RedisConfig     `yaml:"redis"`
	AppStore  AppStoreConfig  `yaml:"appstore"`
	Queue     QueueConfig     `yaml:"queue"`
	Lock      LockConfig      `yaml:"lock"`
	Messaging MessagingConfig `yaml:"messaging"`
}

func LoadConfig() (*Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/reconciler.yaml"
	}
	return LoadFile(configPath)
}

// LoadFile reads the YAML file at path, applies defaults and environment overrides.
func LoadFile(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used for keys missing from the file.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{Name: "appstore-reconciler", Environment: "dev"},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Server: ServerConfig{
			HTTP: HTTPConfig{Port: 8080},
			GRPC: GRPCConfig{Port: 9090},
		},
		Log:   logger.Config{Level: "info", Format: "json", Output: "stdout"},
		Redis: RedisConfig{Addr: "localhost:6379"},
		AppStore: AppStoreConfig{
			ProductionURL:       "https://buy.itunes.apple.com/verifyReceipt",
			SandboxURL:          "https://sandbox.itunes.apple.com/verifyReceipt",
			ServerAPIURL:        "https://api.storekit.itunes.apple.com",
			SandboxServerAPIURL: "https://api.storekit-sandbox.itunes.apple.com",
			RequestTimeout:      10 * time.Second,
			RateLimitPerSecond:  10,
		},
		Queue: QueueConfig{
			Key:          "appstore:notifications",
			Workers:      4,
			PollInterval: time.Second,
			Delay:        time.Minute,
			MaxAttempts:  8,
			BaseBackoff:  5 * time.Minute,
			MaxBackoff:   24 * time.Hour,
			// claimed but unacked messages reappear after this
			VisibilityTimeout: 5 * time.Minute,
		},
		Lock: LockConfig{
			WaitTimeout:   30 * time.Second,
			TTL:           60 * time.Second,
			RetryInterval: 100 * time.Millisecond,
		},
		Messaging: MessagingConfig{Channel: "appstore.reconciliation"},
	}
}

// Validate checks the settings every binary needs.
func (c *Config) Validate() error {
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be positive")
	}
	if c.Lock.TTL <= 0 || c.Lock.WaitTimeout <= 0 {
		return fmt.Errorf("lock.ttl and lock.wait_timeout must be positive")
	}
	return nil
}
