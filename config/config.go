package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseDriver string `yaml:"database_driver"`
	DatabaseURL    string `yaml:"database_url"`

	JWTSecret         string        `yaml:"jwt_secret"`
	JWTExpiration     time.Duration `yaml:"jwt_expiration"`
	TwoFactorTokenTTL time.Duration `yaml:"two_factor_token_ttl"`
	ResetCodeTTL      time.Duration `yaml:"reset_code_ttl"`
	ResetTokenTTL     time.Duration `yaml:"reset_token_ttl"`
	TOTPIssuer        string        `yaml:"totp_issuer"`

	ServerPort   string   `yaml:"server_port"`
	CORSOrigins  []string `yaml:"cors_origins"`
	UploadDir    string   `yaml:"upload_dir"`
	MaxUploadMiB int64    `yaml:"max_upload_mib"`

	DefaultLeaveBalance int `yaml:"default_leave_balance"`

	SMTP SMTPConfig `yaml:"smtp"`

	LogLevel string `yaml:"log_level"`
}

// SMTPConfig is optional; with an empty Host reset codes are written to the log.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

func defaults() *Config {
	return &Config{
		DatabaseDriver:      "postgres",
		DatabaseURL:         "postgresql://postgres@localhost:5432/hrms",
		JWTSecret:           "your-super-secret-key-change-in-production",
		JWTExpiration:       24 * time.Hour,
		TwoFactorTokenTTL:   5 * time.Minute,
		ResetCodeTTL:        15 * time.Minute,
		ResetTokenTTL:       10 * time.Minute,
		TOTPIssuer:          "HRMS",
		ServerPort:          "8080",
		CORSOrigins:         []string{"http://localhost:5173"},
		UploadDir:           "uploads",
		MaxUploadMiB:        10,
		DefaultLeaveBalance: 30,
		SMTP:                SMTPConfig{Port: 587, From: "no-reply@hrms.local"},
		LogLevel:            "info",
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (if non-empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.DatabaseDriver = getEnv("DATABASE_DRIVER", c.DatabaseDriver)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.JWTExpiration = getEnvDuration("JWT_EXPIRATION", c.JWTExpiration)
	c.TwoFactorTokenTTL = getEnvDuration("TWO_FACTOR_TOKEN_TTL", c.TwoFactorTokenTTL)
	c.ResetCodeTTL = getEnvDuration("RESET_CODE_TTL", c.ResetCodeTTL)
	c.ResetTokenTTL = getEnvDuration("RESET_TOKEN_TTL", c.ResetTokenTTL)
	c.TOTPIssuer = getEnv("TOTP_ISSUER", c.TOTPIssuer)
	c.ServerPort = getEnv("SERVER_PORT", c.ServerPort)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		c.CORSOrigins = splitList(origins)
	}
	c.UploadDir = getEnv("UPLOAD_DIR", c.UploadDir)
	c.MaxUploadMiB = int64(getEnvInt("MAX_UPLOAD_MIB", int(c.MaxUploadMiB)))
	c.DefaultLeaveBalance = getEnvInt("DEFAULT_LEAVE_BALANCE", c.DefaultLeaveBalance)
	c.SMTP.Host = getEnv("SMTP_HOST", c.SMTP.Host)
	c.SMTP.Port = getEnvInt("SMTP_PORT", c.SMTP.Port)
	c.SMTP.Username = getEnv("SMTP_USERNAME", c.SMTP.Username)
	c.SMTP.Password = getEnv("SMTP_PASSWORD", c.SMTP.Password)
	c.SMTP.From = getEnv("SMTP_FROM", c.SMTP.From)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

func (c *Config) validate() error {
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return errors.Errorf("unsupported database driver %q", c.DatabaseDriver)
	}
	if c.JWTSecret == "" {
		return errors.New("jwt secret must not be empty")
	}
	if c.ServerPort == "" {
		return errors.New("server port must not be empty")
	}
	if c.MaxUploadMiB <= 0 {
		return errors.New("max upload size must be positive")
	}
	if c.DefaultLeaveBalance < 0 {
		return errors.New("default leave balance must not be negative")
	}
	return nil
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMiB << 20
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
