package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "CHATMEMO"
	defaultHTTPAddress      = "0.0.0.0:5001"
	defaultDatabasePath     = "chat.db"
	defaultLogLevel         = "info"
	defaultLogFormat        = "json"
	defaultCookieName       = "chatmemo_identity"
	defaultIdentityTTL      = 24 * time.Hour
	defaultAdminPassword    = "admin123"
	defaultSendBuffer       = 256
	defaultPingInterval     = 54 * time.Second
	defaultChatHistoryLimit = 0
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress      string
	DatabasePath     string
	LogLevel         string
	LogFormat        string
	SigningSecret    string
	CookieName       string
	IdentityTTL      time.Duration
	SecureCookie     bool
	AdminPassword    string
	ChatHistoryLimit int
	SendBuffer       int
	PingInterval     time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("identity.cookie_name", defaultCookieName)
	configViper.SetDefault("identity.ttl", defaultIdentityTTL)
	configViper.SetDefault("identity.secure_cookie", false)
	configViper.SetDefault("admin.password", defaultAdminPassword)
	configViper.SetDefault("chat.history_limit", defaultChatHistoryLimit)
	configViper.SetDefault("realtime.send_buffer", defaultSendBuffer)
	configViper.SetDefault("realtime.ping_interval", defaultPingInterval)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		DatabasePath:     configViper.GetString("database.path"),
		LogLevel:         configViper.GetString("log.level"),
		LogFormat:        configViper.GetString("log.format"),
		SigningSecret:    configViper.GetString("identity.signing_secret"),
		CookieName:       configViper.GetString("identity.cookie_name"),
		IdentityTTL:      configViper.GetDuration("identity.ttl"),
		SecureCookie:     configViper.GetBool("identity.secure_cookie"),
		AdminPassword:    configViper.GetString("admin.password"),
		ChatHistoryLimit: configViper.GetInt("chat.history_limit"),
		SendBuffer:       configViper.GetInt("realtime.send_buffer"),
		PingInterval:     configViper.GetDuration("realtime.ping_interval"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("identity.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("identity.cookie_name is required")
	}
	if c.IdentityTTL <= 0 {
		return fmt.Errorf("identity.ttl must be positive")
	}
	if c.ChatHistoryLimit < 0 {
		return fmt.Errorf("chat.history_limit must not be negative")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("realtime.send_buffer must be positive")
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("realtime.ping_interval must be positive")
	}
	return nil
}
