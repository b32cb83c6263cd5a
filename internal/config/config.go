package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Backend    BackendConfig    `mapstructure:"backend"`
	Socket     SocketConfig     `mapstructure:"socket"`
	Pagination PaginationConfig `mapstructure:"pagination"`
	Provider   ProviderConfig   `mapstructure:"provider"`
	Server     ServerConfig     `mapstructure:"server"`
	Mirror     MirrorConfig     `mapstructure:"mirror"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type BackendConfig struct {
	RestURL       string `mapstructure:"rest_url"`
	SocketURL     string `mapstructure:"socket_url"`
	Language      string `mapstructure:"language"`
	IPAddress     string `mapstructure:"ip_address"`
	TimeoutSec    int    `mapstructure:"timeout_sec"`
	RetryCount    int    `mapstructure:"retry_count"`
	RetryDelayMS  int    `mapstructure:"retry_delay_ms"`
	RatePerSecond int    `mapstructure:"rate_per_second"`
}

type SocketConfig struct {
	ReconnectMinMS      int    `mapstructure:"reconnect_min_ms"`
	ReconnectMaxMS      int    `mapstructure:"reconnect_max_ms"`
	HandshakeTimeoutSec int    `mapstructure:"handshake_timeout_sec"`
	Compression         string `mapstructure:"compression"`
}

type PaginationConfig struct {
	EventsPerPage int `mapstructure:"events_per_page"`
}

type ProviderConfig struct {
	Workers int `mapstructure:"workers"`
}

type ServerConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Port              string `mapstructure:"port"`
	RefreshTimeoutSec int    `mapstructure:"refresh_timeout_sec"`
}

type MirrorConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	RedisAddr string `mapstructure:"redis_addr"`
	Stream    string `mapstructure:"stream"`
	MaxLen    int64  `mapstructure:"max_len"`
}

type NotifyConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Server             string `mapstructure:"server"`
	Topic              string `mapstructure:"topic"`
	Token              string `mapstructure:"token"`
	Priority           string `mapstructure:"priority"`
	Tags               string `mapstructure:"tags"`
	DisconnectGraceSec int    `mapstructure:"disconnect_grace_sec"`
}

type LoggingConfig struct {
	File      bool   `mapstructure:"file"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSec) * time.Second
}

func (b BackendConfig) RetryDelay() time.Duration {
	return time.Duration(b.RetryDelayMS) * time.Millisecond
}

func (s SocketConfig) ReconnectMin() time.Duration {
	return time.Duration(s.ReconnectMinMS) * time.Millisecond
}

func (s SocketConfig) ReconnectMax() time.Duration {
	return time.Duration(s.ReconnectMaxMS) * time.Millisecond
}

func (s SocketConfig) HandshakeTimeout() time.Duration {
	return time.Duration(s.HandshakeTimeoutSec) * time.Second
}

func (s ServerConfig) RefreshTimeout() time.Duration {
	return time.Duration(s.RefreshTimeoutSec) * time.Second
}

func (n NotifyConfig) DisconnectGrace() time.Duration {
	return time.Duration(n.DisconnectGraceSec) * time.Second
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("backend.rest_url", "https://api.example-sportsbook.com")
	v.SetDefault("backend.socket_url", "wss://socket.example-sportsbook.com/notifications")
	v.SetDefault("backend.language", "en")
	v.SetDefault("backend.ip_address", "127.0.0.1")
	v.SetDefault("backend.timeout_sec", 30)
	v.SetDefault("backend.retry_count", 3)
	v.SetDefault("backend.retry_delay_ms", 500)
	v.SetDefault("backend.rate_per_second", 20)
	v.SetDefault("socket.reconnect_min_ms", 500)
	v.SetDefault("socket.reconnect_max_ms", 30000)
	v.SetDefault("socket.handshake_timeout_sec", 10)
	v.SetDefault("socket.compression", "none")
	v.SetDefault("pagination.events_per_page", 10)
	v.SetDefault("provider.workers", 4)
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.refresh_timeout_sec", 15)
	v.SetDefault("mirror.enabled", false)
	v.SetDefault("mirror.redis_addr", "localhost:6379")
	v.SetDefault("mirror.stream", "livefeed:snapshots")
	v.SetDefault("mirror.max_len", 10000)
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.server", "https://ntfy.sh")
	v.SetDefault("notify.priority", "default")
	v.SetDefault("notify.tags", "satellite")
	v.SetDefault("notify.disconnect_grace_sec", 60)
	v.SetDefault("logging.file", false)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("LIVEFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Keys without a default are not picked up by AutomaticEnv on Unmarshal
	_ = v.BindEnv("notify.topic")
	_ = v.BindEnv("notify.token")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}
