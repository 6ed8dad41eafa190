package config

import (
	"os"
	"strconv"
	"time"
)

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// MQConfig holds RabbitMQ settings.
type MQConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds Redis settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JWTConfig holds token verification settings. Tokens are issued by the
// account service; this service only verifies them.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// DetectionConfig tunes the detection pipeline.
type DetectionConfig struct {
	Workers         int           `yaml:"workers"`
	TaskTimeout     time.Duration `yaml:"task_timeout"`
	FusionThreshold float64       `yaml:"fusion_threshold"`
	SyncInterval    time.Duration `yaml:"sync_interval"`
	SyncLockTTL     time.Duration `yaml:"sync_lock_ttl"`
}

// EvaluatorConfig holds settings for the LLM signal evaluators.
type EvaluatorConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxBodySize int           `yaml:"max_body_size"`
}

// Config is the full application configuration.
type Config struct {
	DB        DBConfig        `yaml:"db"`
	MQ        MQConfig        `yaml:"mq"`
	Redis     RedisConfig     `yaml:"redis"`
	JWT       JWTConfig       `yaml:"jwt"`
	Server    ServerConfig    `yaml:"server"`
	Detection DetectionConfig `yaml:"detection"`
	Evaluator EvaluatorConfig `yaml:"evaluator"`
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Detection.Workers <= 0 {
		c.Detection.Workers = 3
	}
	if c.Detection.TaskTimeout <= 0 {
		c.Detection.TaskTimeout = 60 * time.Second
	}
	if c.Detection.FusionThreshold <= 0 {
		c.Detection.FusionThreshold = 0.6
	}
	if c.Detection.SyncInterval <= 0 {
		c.Detection.SyncInterval = 5 * time.Minute
	}
	if c.Detection.SyncLockTTL <= 0 {
		c.Detection.SyncLockTTL = 2 * time.Minute
	}
	if c.Evaluator.Model == "" {
		c.Evaluator.Model = "gpt-4o"
	}
	if c.Evaluator.Timeout <= 0 {
		c.Evaluator.Timeout = 60 * time.Second
	}
	if c.Evaluator.MaxBodySize <= 0 {
		c.Evaluator.MaxBodySize = 8192
	}
}

// OverrideFromEnv applies environment variable overrides. Environment wins
// over anything loaded from files.
func (c *Config) OverrideFromEnv() {
	if host := os.Getenv("DB_HOST"); host != "" {
		c.DB.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.DB.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		c.DB.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		c.DB.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		c.DB.Name = name
	}
	if url := os.Getenv("MQ_URL"); url != "" {
		c.MQ.URL = url
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		c.Redis.Password = password
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if key := os.Getenv("EVALUATOR_API_KEY"); key != "" {
		c.Evaluator.APIKey = key
	}
	if url := os.Getenv("EVALUATOR_BASE_URL"); url != "" {
		c.Evaluator.BaseURL = url
	}
}

// GetEnv returns an environment variable or a default.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetConfigEnv returns the configuration environment name from CONFIG_ENV,
// defaulting to local.
func GetConfigEnv() string {
	return GetEnv("CONFIG_ENV", "local")
}
