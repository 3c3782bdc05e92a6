package config

import (
	"time"

	pkgconfig "github.com/TobyVincentJohn/wheedle-sub000/pkg/config"
)

type Config struct {
	Server  ServerConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Session SessionConfig
	Log     LogConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	OpTimeout time.Duration `mapstructure:"op_timeout"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type SessionConfig struct {
	MaxPlayersLimit int           `mapstructure:"max_players_limit"`
	LiveTTL         time.Duration `mapstructure:"live_ttl"`
	CompletedTTL    time.Duration `mapstructure:"completed_ttl"`
	CodeLength      int           `mapstructure:"code_length"`
	CodeAttempts    int           `mapstructure:"code_attempts"`
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.op_timeout", "3s")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("session.max_players_limit", 12)
	v.SetDefault("session.live_ttl", "24h")
	v.SetDefault("session.completed_ttl", "10m")
	v.SetDefault("session.code_length", 5)
	v.SetDefault("session.code_attempts", 5)
	v.SetDefault("log.level", "info")

	// Bind environment variables
	v.BindEnv("server.port", "PORT")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")
	v.BindEnv("redis.op_timeout", "REDIS_OP_TIMEOUT")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("session.max_players_limit", "SESSION_MAX_PLAYERS_LIMIT")
	v.BindEnv("session.live_ttl", "SESSION_LIVE_TTL")
	v.BindEnv("session.completed_ttl", "SESSION_COMPLETED_TTL")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
