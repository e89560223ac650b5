// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	WebOrigin    string `mapstructure:"web_origin"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // seconds
}

// UpstreamConfig holds settings for the upstream query service.
type UpstreamConfig struct {
	BaseURL          string   `mapstructure:"base_url"`
	SearchTimeout    int      `mapstructure:"search_timeout"`     // milliseconds
	DataTimeout      int      `mapstructure:"data_timeout"`       // milliseconds
	SearchMaxRetries int      `mapstructure:"search_max_retries"` // primary endpoint budget
	DataMaxRetries   int      `mapstructure:"data_max_retries"`   // follow-up call budget
	BackoffStep      int      `mapstructure:"backoff_step"`       // milliseconds per attempt
	DegradedTriggers []string `mapstructure:"degraded_triggers"`  // substrings in content text
}

func (u UpstreamConfig) SearchTimeoutDuration() time.Duration {
	return time.Duration(u.SearchTimeout) * time.Millisecond
}

func (u UpstreamConfig) DataTimeoutDuration() time.Duration {
	return time.Duration(u.DataTimeout) * time.Millisecond
}

func (u UpstreamConfig) BackoffStepDuration() time.Duration {
	return time.Duration(u.BackoffStep) * time.Millisecond
}

type CacheConfig struct {
	TTL int `mapstructure:"ttl"` // seconds
}

func (c CacheConfig) TTLDuration() time.Duration {
	return time.Duration(c.TTL) * time.Second
}

type RateLimitConfig struct {
	MonthlyLimit int    `mapstructure:"monthly_limit"`
	Store        string `mapstructure:"store"` // "redis" or "postgres"
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds settings for identity resolution.
type AuthConfig struct {
	// JWTSecret verifies Bearer tokens issued by the external identity
	// provider. When verification fails the gateway falls back to a
	// network-address bucket.
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
