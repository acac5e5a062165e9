// Package config loads service configuration from the environment and an
// optional config file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all service settings.
type Config struct {
	Server struct {
		Port int
	}
	Database struct {
		DSN             string
		MaxOpenConns    int
		MaxIdleConns    int
		ConnMaxLifetime int
	}
	Redis struct {
		Addr     string
		Password string
		DB       int
		TTL      time.Duration
	}
	Kafka struct {
		Brokers []string
		Topic   string
	}
	Auth struct {
		JWTSecret     string
		TokenTTL      time.Duration
		AdminEmail    string
		AdminPassword string
	}
	Content struct {
		Dir          string
		MaxUploadMiB int64
	}
	LogLevel string
}

// LoadConfig reads settings from the environment (optionally a .env already
// loaded by the caller) and an optional config.yaml in the working directory.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", 8080)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 3600)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "5m")
	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "datamarket.events")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("content.dir", "data/content")
	v.SetDefault("content.max_upload_mib", 256)
	v.SetDefault("log_level", "info")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	cfg.Server.Port = v.GetInt("server.port")
	cfg.Database.DSN = v.GetString("database.dsn")
	cfg.Database.MaxOpenConns = v.GetInt("database.max_open_conns")
	cfg.Database.MaxIdleConns = v.GetInt("database.max_idle_conns")
	cfg.Database.ConnMaxLifetime = v.GetInt("database.conn_max_lifetime")
	cfg.Redis.Addr = v.GetString("redis.addr")
	cfg.Redis.Password = v.GetString("redis.password")
	cfg.Redis.DB = v.GetInt("redis.db")
	cfg.Redis.TTL = v.GetDuration("redis.ttl")
	if brokers := v.GetString("kafka.brokers"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	cfg.Kafka.Topic = v.GetString("kafka.topic")
	cfg.Auth.JWTSecret = v.GetString("auth.jwt_secret")
	cfg.Auth.TokenTTL = v.GetDuration("auth.token_ttl")
	cfg.Auth.AdminEmail = v.GetString("auth.admin_email")
	cfg.Auth.AdminPassword = v.GetString("auth.admin_password")
	cfg.Content.Dir = v.GetString("content.dir")
	cfg.Content.MaxUploadMiB = v.GetInt64("content.max_upload_mib")
	cfg.LogLevel = v.GetString("log_level")

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret (AUTH_JWT_SECRET) is required")
	}
	if !strings.Contains(cfg.Auth.AdminEmail, "@") {
		return nil, fmt.Errorf("auth.admin_email (AUTH_ADMIN_EMAIL) must be a valid email address")
	}
	if len(cfg.Auth.AdminPassword) < 8 {
		return nil, fmt.Errorf("auth.admin_password (AUTH_ADMIN_PASSWORD) must be at least 8 characters")
	}
	return cfg, nil
}
