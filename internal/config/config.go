package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Region     string     `mapstructure:"region"`
	Logger     Logger     `mapstructure:"logger"`
	Terminal   Terminal   `mapstructure:"terminal"`
	Connection Connection `mapstructure:"connection"`
	Health     Health     `mapstructure:"health"`
	Monitor    Monitor    `mapstructure:"monitor"`
	Telegram   Telegram   `mapstructure:"telegram"`
	Database   Database   `mapstructure:"database"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Terminal holds the configuration for the MT5 bridge client.
type Terminal struct {
	BridgeURL      string        `mapstructure:"bridge_url"`
	Account        int64         `mapstructure:"account"`
	Password       string        `mapstructure:"password"`
	Server         string        `mapstructure:"server"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// Connection holds the configuration for the terminal connection manager.
type Connection struct {
	AttemptInterval   time.Duration `mapstructure:"attempt_interval"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
	Keepalive         time.Duration `mapstructure:"keepalive"`
}

// Health holds the thresholds and probe settings for the health gate.
type Health struct {
	CPULimit          float64       `mapstructure:"cpu_limit"`
	MemoryLimit       float64       `mapstructure:"memory_limit"`
	LatencyLimit      time.Duration `mapstructure:"latency_limit"`
	ProbeHost         string        `mapstructure:"probe_host"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout"`
	CPUSampleInterval time.Duration `mapstructure:"cpu_sample_interval"`
	DiskPath          string        `mapstructure:"disk_path"`
}

// Monitor holds the configuration for the periodic resource monitor.
type Monitor struct {
	Interval     time.Duration `mapstructure:"interval"`
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`
}

// Telegram holds the configuration for the Telegram control surface.
// An empty token disables the bot.
type Telegram struct {
	APIURL          string        `mapstructure:"api_url"`
	Token           string        `mapstructure:"token"`
	ChatID          int64         `mapstructure:"chat_id"`
	AuthorizedUsers []string      `mapstructure:"authorized_users"`
	PollTimeout     time.Duration `mapstructure:"poll_timeout"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Deployments provide credentials and identity under these names.
	viper.BindEnv("terminal.account", "MT5_ACCOUNT")
	viper.BindEnv("terminal.password", "MT5_PASSWORD")
	viper.BindEnv("terminal.server", "MT5_SERVER")
	viper.BindEnv("telegram.token", "TELEGRAM_TOKEN")
	viper.BindEnv("telegram.chat_id", "TELEGRAM_CHAT_ID")
	viper.BindEnv("telegram.authorized_users", "AUTHORIZED_USERS")
	viper.BindEnv("region", "VPS_REGION")

	// Set default values
	viper.SetDefault("region", "Unknown")
	viper.SetDefault("logger.max_size_mb", 10)
	viper.SetDefault("logger.max_backups", 5)
	viper.SetDefault("terminal.bridge_url", "http://127.0.0.1:5001")
	viper.SetDefault("terminal.timeout", "10s")
	viper.SetDefault("terminal.rate_limit", 20)      // requests per second
	viper.SetDefault("terminal.rate_limit_burst", 5) // burst size
	viper.SetDefault("connection.attempt_interval", "5s")
	viper.SetDefault("connection.reconnect_interval", "60s")
	viper.SetDefault("connection.keepalive", "30s")
	viper.SetDefault("health.cpu_limit", 90.0)
	viper.SetDefault("health.memory_limit", 90.0)
	viper.SetDefault("health.latency_limit", "100ms")
	viper.SetDefault("health.probe_host", "www.google.com:80")
	viper.SetDefault("health.probe_timeout", "1s")
	viper.SetDefault("health.cpu_sample_interval", "1s")
	viper.SetDefault("health.disk_path", "/")
	viper.SetDefault("monitor.interval", "5m")
	viper.SetDefault("monitor.error_backoff", "60s")
	viper.SetDefault("telegram.api_url", "https://api.telegram.org")
	viper.SetDefault("telegram.poll_timeout", "30s")

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
