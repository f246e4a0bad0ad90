package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// env overrides so secrets stay out of config.yaml
const (
	EnvConfigPath   = "CONFIG_PATH"
	EnvAPIKey       = "CASEGATE_API_KEY"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	DefaultFilePath = "config.yaml"
)

type Config struct {
	Server struct {
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"readTimeout"`
		WriteTimeout time.Duration `yaml:"writeTimeout"`
		IdleTimeout  time.Duration `yaml:"idleTimeout"`
	} `yaml:"server"`

	Storage struct {
		Root           string        `yaml:"root"`
		MaxUploadBytes int64         `yaml:"maxUploadBytes"`
		MaxClaimBytes  int64         `yaml:"maxClaimBytes"`
		ClaimBudget    int           `yaml:"claimBudget"`
		StaleAfter     time.Duration `yaml:"staleAfter"`
	} `yaml:"storage"`

	Auth struct {
		APIKey string `yaml:"apiKey"`
	} `yaml:"auth"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"cors"`

	RateLimit struct {
		Capacity     int `yaml:"capacity"`
		RefillPerSec int `yaml:"refillPerSec"`
	} `yaml:"rateLimit"`

	Worker struct {
		GatewayURL   string        `yaml:"gatewayURL"`
		Concurrency  int           `yaml:"concurrency"`
		PollInterval time.Duration `yaml:"pollInterval"`
		Timeout      time.Duration `yaml:"timeout"`
	} `yaml:"worker"`

	Database struct {
		// Driver is one of sqlite, mysql, postgres
		Driver   string `yaml:"driver"`
		Path     string `yaml:"path"`
		DSN      string `yaml:"dsn"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
	} `yaml:"database"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	AI struct {
		// Provider is static or openai
		Provider string `yaml:"provider"`
		Model    string `yaml:"model"`
		APIKey   string `yaml:"apiKey"`
		BaseURL  string `yaml:"baseURL"`
	} `yaml:"ai"`
}

// Path resolves the config file from CONFIG_PATH
func Path() string {
	if v := os.Getenv(EnvConfigPath); v != "" {
		return v
	}
	return DefaultFilePath
}

// Load baca file config.yaml, then applies env overrides and defaults.
// A missing file is not an error; everything then comes from defaults and env.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Auth.APIKey = v
	}
	if v := os.Getenv(EnvOpenAIKey); v != "" {
		c.AI.APIKey = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Storage.Root == "" {
		c.Storage.Root = "data"
	}
	if c.Storage.MaxUploadBytes == 0 {
		c.Storage.MaxUploadBytes = 5 << 20
	}
	if c.Storage.MaxClaimBytes == 0 {
		c.Storage.MaxClaimBytes = 8 << 20
	}
	if c.Storage.ClaimBudget == 0 {
		c.Storage.ClaimBudget = 8
	}
	if c.Storage.StaleAfter == 0 {
		c.Storage.StaleAfter = 30 * time.Minute
	}
	if c.RateLimit.Capacity == 0 {
		c.RateLimit.Capacity = 20
	}
	if c.RateLimit.RefillPerSec == 0 {
		c.RateLimit.RefillPerSec = 1
	}
	if c.Worker.GatewayURL == "" {
		c.Worker.GatewayURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 1
	}
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = 5 * time.Second
	}
	if c.Worker.Timeout == 0 {
		c.Worker.Timeout = 30 * time.Second
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "archive.db"
	}
	if c.AI.Provider == "" {
		c.AI.Provider = "static"
	}
}

// Validate rejects settings the gateway or worker cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.APIKey == "" {
		errs = append(errs, fmt.Errorf("auth.apiKey is required (or set %s)", EnvAPIKey))
	}
	if c.Storage.MaxUploadBytes < 0 || c.Storage.MaxClaimBytes < 0 {
		errs = append(errs, errors.New("storage ceilings must be positive"))
	}
	if c.Storage.MaxClaimBytes < c.Storage.MaxUploadBytes {
		errs = append(errs, errors.New("storage.maxClaimBytes must be >= storage.maxUploadBytes"))
	}
	if c.Storage.StaleAfter < 0 {
		errs = append(errs, errors.New("storage.staleAfter must not be negative"))
	}
	if c.Storage.ClaimBudget < 0 {
		errs = append(errs, errors.New("storage.claimBudget must be positive"))
	}
	if c.Worker.Concurrency < 0 {
		errs = append(errs, errors.New("worker.concurrency must be positive"))
	}
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not one of sqlite, mysql, postgres", c.Database.Driver))
	}
	switch c.AI.Provider {
	case "static":
	case "openai":
		if c.AI.APIKey == "" {
			errs = append(errs, fmt.Errorf("ai.apiKey is required for openai (or set %s)", EnvOpenAIKey))
		}
	default:
		errs = append(errs, fmt.Errorf("ai.provider %q is not one of static, openai", c.AI.Provider))
	}
	return errors.Join(errs...)
}

// Helper untuk build DSN MySQL. clientFoundRows makes UPDATE report matched
// rows, which the archive repository relies on.
func (c *Config) MySQLDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC&clientFoundRows=true",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq connection string
func (c *Config) PostgresDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password, c.Database.Name)
}
