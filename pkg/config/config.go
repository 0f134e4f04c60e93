package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends selectable via database.backend.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// TokenPlaceholder is the value shipped in example configs; it never
// counts as a real token.
const TokenPlaceholder = "YOUR_BOT_TOKEN"

type Config struct {
	Secrets  SecretsConfig  `mapstructure:"secrets"`
	Files    FilesConfig    `mapstructure:"files"`
	Database DatabaseConfig `mapstructure:"database"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Telegram TelegramConfig `mapstructure:"telegram"`

	// Version information comes from the environment only.
	BotVersion   string `mapstructure:"-"`
	BuildVersion string `mapstructure:"-"`
}

type SecretsConfig struct {
	Token string `mapstructure:"token"`
}

// FilesConfig points at the rule configuration pair: the example file
// carries the shipped defaults, the config file the local overrides.
type FilesConfig struct {
	Config  string `mapstructure:"config"`
	Example string `mapstructure:"example"`
}

type DatabaseConfig struct {
	Backend  string `mapstructure:"backend"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type DeliveryConfig struct {
	RetrySeconds float64 `mapstructure:"retry_seconds"`
	MaxAttempts  int     `mapstructure:"max_attempts"`
}

type TelegramConfig struct {
	Debug bool `mapstructure:"debug"`
}

// RetryInterval returns the resend pause as a duration.
func (d DeliveryConfig) RetryInterval() time.Duration {
	return time.Duration(d.RetrySeconds * float64(time.Second))
}

// HasToken reports whether a usable bot token is configured.
func (c *Config) HasToken() bool {
	return c.Secrets.Token != "" && c.Secrets.Token != TokenPlaceholder
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	// Remove leading slash from path to get database name
	dbName := strings.TrimPrefix(u.Path, "/")

	return DatabaseConfig{
		Backend:  BackendPostgres,
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  "disable",
	}, nil
}

// LoadConfig reads the secrets file at path, layering defaults and
// environment variables. The file is optional: defaults plus environment
// variables are a complete configuration.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("files.config", "autoregexbot.cfg")
	v.SetDefault("files.example", "autoregexbot.cfg.example")
	v.SetDefault("database.backend", BackendSQLite)
	v.SetDefault("database.path", "reminders.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("delivery.retry_seconds", 5.0)
	v.SetDefault("delivery.max_attempts", 0)
	v.SetDefault("telegram.debug", false)

	// Enable environment variable support
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("ini")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Database = dbConfig
	}

	// Get other environment variables
	if token := v.GetString("BOT_TOKEN"); token != "" {
		config.Secrets.Token = token
	}
	config.BotVersion = v.GetString("BOT_VERSION")
	config.BuildVersion = v.GetString("VERSION")

	return &config, nil
}
