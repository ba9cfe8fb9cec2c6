package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aegis-sec/aegis/internal/models"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Auth          AuthConfig          `yaml:"auth"`
	Scanner       ScannerConfig       `yaml:"scanner"`
	Sandbox       SandboxConfig       `yaml:"sandbox"`
	Response      ResponseConfig      `yaml:"response"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Retention     RetentionConfig     `yaml:"retention"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	CORSAllowOrigin string        `yaml:"cors_allow_origin"`
}

type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type AuthConfig struct {
	JWTSecret         string        `yaml:"jwt_secret"`
	AccessTokenExpiry time.Duration `yaml:"access_token_expiry"`
}

type ScannerConfig struct {
	MaxArtifactSize         int64   `yaml:"max_artifact_size"`
	SignatureMatchThreshold float64 `yaml:"signature_match_threshold"`
	QuantumChecksEnabled    *bool   `yaml:"quantum_checks_enabled"`
	SignatureReloadSchedule string  `yaml:"signature_reload_schedule"`
}

func (c ScannerConfig) QuantumEnabled() bool {
	if c.QuantumChecksEnabled == nil {
		return true
	}
	return *c.QuantumChecksEnabled
}

type SandboxConfig struct {
	Timeout time.Duration         `yaml:"timeout"`
	Image   string                `yaml:"image"`
	Limits  models.ResourceLimits `yaml:"limits"`
}

type ResponseConfig struct {
	TriggerThreshold     float64 `yaml:"trigger_threshold"`
	ElevatedLogThreshold float64 `yaml:"elevated_log_threshold"`
}

type NotificationsConfig struct {
	MinSeverity models.Severity   `yaml:"min_severity"`
	Slack       SlackNotifyConfig `yaml:"slack"`
	Email       EmailNotifyConfig `yaml:"email"`
}

type SlackNotifyConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

type EmailNotifyConfig struct {
	Enabled  bool     `yaml:"enabled"`
	SMTPHost string   `yaml:"smtp_host"`
	SMTPPort int      `yaml:"smtp_port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

type RetentionConfig struct {
	Days            int    `yaml:"days"`
	CleanupSchedule string `yaml:"cleanup_schedule"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}

	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}

	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}

	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = "change-me-in-production"
		fmt.Println("WARNING: Using default JWT secret. Set auth.jwt_secret in production!")
	}
	if c.Auth.AccessTokenExpiry == 0 {
		c.Auth.AccessTokenExpiry = 15 * time.Minute
	}

	if c.Scanner.MaxArtifactSize == 0 {
		c.Scanner.MaxArtifactSize = 100 * 1024 * 1024
	}
	if c.Scanner.SignatureMatchThreshold == 0 {
		c.Scanner.SignatureMatchThreshold = 0.7
	}
	if c.Scanner.SignatureReloadSchedule == "" {
		c.Scanner.SignatureReloadSchedule = "@every 15m"
	}

	if c.Sandbox.Timeout == 0 {
		c.Sandbox.Timeout = 30 * time.Second
	}
	if c.Sandbox.Image == "" {
		c.Sandbox.Image = "aegis-sandbox:latest"
	}
	if c.Sandbox.Limits.CPUPercent == 0 {
		c.Sandbox.Limits.CPUPercent = 25
	}
	if c.Sandbox.Limits.MemoryMB == 0 {
		c.Sandbox.Limits.MemoryMB = 512
	}
	if c.Sandbox.Limits.DiskMB == 0 {
		c.Sandbox.Limits.DiskMB = 100
	}
	c.Sandbox.Limits.NetworkIsolated = true

	if c.Response.TriggerThreshold == 0 {
		c.Response.TriggerThreshold = 8.0
	}
	if c.Response.ElevatedLogThreshold == 0 {
		c.Response.ElevatedLogThreshold = 7.0
	}

	if c.Notifications.MinSeverity == "" {
		c.Notifications.MinSeverity = models.SeverityHigh
	}
	if c.Notifications.Email.SMTPPort == 0 {
		c.Notifications.Email.SMTPPort = 587
	}

	if c.Retention.Days == 0 {
		c.Retention.Days = 90
	}
	if c.Retention.CleanupSchedule == "" {
		c.Retention.CleanupSchedule = "0 3 * * *"
	}
}
