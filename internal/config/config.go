package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	HTTPAddr         string       `yaml:"httpAddr"`
	GRPCAddr         string       `yaml:"grpcAddr"`
	LogLevel         string       `yaml:"logLevel"`
	MySQLDSN         string       `yaml:"mysqlDSN"`
	RedisAddr        string       `yaml:"redisAddr"`
	RedisPassword    string       `yaml:"redisPassword"`
	CacheBackend     string       `yaml:"cacheBackend"`
	RefreshInterval  string       `yaml:"refreshInterval"`
	RefreshWorkers   int          `yaml:"refreshWorkers"`
	RefreshQueueSize int          `yaml:"refreshQueueSize"`
	JWTSecret        string       `yaml:"jwtSecret"`
	PayPal           PayPalConfig `yaml:"paypal"`
}

type PayPalConfig struct {
	ClientID     string `yaml:"clientID"`
	ClientSecret string `yaml:"clientSecret"`
	APIBaseURL   string `yaml:"apiBaseURL"`
	SiteURL      string `yaml:"siteURL"`
	Timeout      string `yaml:"timeout"`
}

// Path returns RFQ_CONFIG, or config.yaml when unset.
func Path() string {
	if v := strings.TrimSpace(os.Getenv("RFQ_CONFIG")); v != "" {
		return v
	}
	return defaultConfigPath
}

// Load reads config from path (defaults to config.yaml). A missing file
// is tolerated so the service can run from environment alone.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = defaultConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("GRPC_ADDR"); v != "" {
		cfg.GRPCAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MYSQL_DSN"); v != "" {
		cfg.MySQLDSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("CACHE_BACKEND"); v != "" {
		cfg.CacheBackend = v
	}
	if v := os.Getenv("REFRESH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RefreshWorkers = n
		}
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("NEXT_PUBLIC_PAYPAL_CLIENT_ID"); v != "" {
		cfg.PayPal.ClientID = v
	}
	if v := os.Getenv("NEXT_PUBLIC_PAYPAL_CLIENT_SECRET"); v != "" {
		cfg.PayPal.ClientSecret = v
	}
	if v := os.Getenv("NEXT_PUBLIC_PAYPAL_API_BASE_URL"); v != "" {
		cfg.PayPal.APIBaseURL = v
	}
	if v := os.Getenv("NEXT_PUBLIC_SITE_URL"); v != "" {
		cfg.PayPal.SiteURL = v
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.GRPCAddr == "" {
		cfg.GRPCAddr = ":50051"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "redis"
	}
	if cfg.RefreshInterval == "" {
		cfg.RefreshInterval = "60s"
	}
	if cfg.RefreshWorkers <= 0 {
		cfg.RefreshWorkers = 4
	}
	if cfg.RefreshQueueSize <= 0 {
		cfg.RefreshQueueSize = 1000
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.MySQLDSN == "" {
		return errors.New("config: mysqlDSN is required (set in config.yaml or MYSQL_DSN)")
	}
	switch cfg.CacheBackend {
	case "redis":
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required when cacheBackend is redis")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown cacheBackend %q (want redis or memory)", cfg.CacheBackend)
	}
	if cfg.JWTSecret == "" {
		return errors.New("config: jwtSecret is required (set in config.yaml or JWT_SECRET)")
	}
	if _, err := ParseDuration(cfg.RefreshInterval); err != nil {
		return fmt.Errorf("config: refreshInterval: %w", err)
	}
	if cfg.PayPal.Timeout != "" {
		if _, err := ParseDuration(cfg.PayPal.Timeout); err != nil {
			return fmt.Errorf("config: paypal.timeout: %w", err)
		}
	}
	return nil
}

// ParseDuration accepts Go duration strings and rejects non-positive values.
func ParseDuration(value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", value)
	}
	return d, nil
}
