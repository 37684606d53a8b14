// Package config loads relay settings from the environment, an optional .env
// file and command-line flags.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Identity verification modes
const (
	IdentityTrust = "trust"
	IdentityToken = "token"
	IdentityStore = "store"
)

// Keys double as environment variable names (upper-cased by viper).
const (
	KeyPort               = "port"
	KeyEnvironment        = "environment"
	KeyLogLevel           = "log_level"
	KeyLogFile            = "log_file"
	KeyAllowedOrigins     = "relay_allowed_origins"
	KeyIdentifyTimeout    = "relay_identify_timeout"
	KeyRateLimitPerSecond = "relay_rate_limit_per_second"
	KeyRateLimitBurst     = "relay_rate_limit_burst"
	KeyMaxContentBytes    = "relay_max_content_bytes"
	KeyMaxFrameBytes      = "relay_max_frame_bytes"
	KeySendBuffer         = "relay_send_buffer"
	KeyIdentityMode       = "relay_identity_mode"
	KeyJWTSecret          = "relay_jwt_secret"
	KeyShutdownTimeout    = "relay_shutdown_timeout"
	KeyDatabaseURL        = "database_url"
	KeyRedisURL           = "redis_url"
	KeyRedisHost          = "redis_host"
	KeyRedisPort          = "redis_port"
	KeyRedisPassword      = "redis_password"
	KeyOTELEnabled        = "otel_enabled"
	KeyOTLPEndpoint       = "otel_exporter_otlp_endpoint"
	KeyOTELSamplingRate   = "otel_sampling_rate"
)

// Config holds everything the relay process needs at startup
type Config struct {
	Port        string
	Environment string
	LogLevel    string
	LogFile     string

	// AllowedOrigins is the origin allow-list for upgrades and CORS. "*" allows any origin.
	AllowedOrigins []string

	IdentifyTimeout    time.Duration
	RateLimitPerSecond int
	RateLimitBurst     int
	MaxContentBytes    int
	MaxFrameBytes      int64
	SendBuffer         int
	ShutdownTimeout    time.Duration

	IdentityMode string
	JWTSecret    string
	DatabaseURL  string

	Redis RedisConfig

	Telemetry TelemetryConfig
}

// RedisConfig locates the optional presence mirror
type RedisConfig struct {
	URL      string
	Host     string
	Port     string
	Password string
}

// Enabled reports whether any redis location was configured
func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Host != ""
}

// TelemetryConfig controls OpenTelemetry tracing
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	SamplingRate float64
}

// AllowsAnyOrigin reports whether the origin allow-list is permissive
func (c *Config) AllowsAnyOrigin() bool {
	for _, o := range c.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return len(c.AllowedOrigins) == 0
}

// New returns a viper instance with the relay defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault(KeyPort, "4000")
	v.SetDefault(KeyEnvironment, "development")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFile, "relay.log")
	v.SetDefault(KeyAllowedOrigins, "*")
	v.SetDefault(KeyIdentifyTimeout, "0s")
	v.SetDefault(KeyRateLimitPerSecond, 0)
	v.SetDefault(KeyRateLimitBurst, 0)
	v.SetDefault(KeyMaxContentBytes, 0)
	v.SetDefault(KeyMaxFrameBytes, 512*1024)
	v.SetDefault(KeySendBuffer, 256)
	v.SetDefault(KeyShutdownTimeout, "30s")
	v.SetDefault(KeyIdentityMode, IdentityTrust)
	v.SetDefault(KeyJWTSecret, "")
	v.SetDefault(KeyDatabaseURL, "")
	v.SetDefault(KeyRedisURL, "")
	v.SetDefault(KeyRedisHost, "")
	v.SetDefault(KeyRedisPort, "6379")
	v.SetDefault(KeyRedisPassword, "")
	v.SetDefault(KeyOTELEnabled, false)
	v.SetDefault(KeyOTLPEndpoint, "localhost:4318")
	v.SetDefault(KeyOTELSamplingRate, 1.0)

	v.AutomaticEnv()
	return v
}

// LoadDotEnv reads .env files into the process environment if they exist.
// A missing file is not an error.
func LoadDotEnv(files ...string) {
	_ = godotenv.Load(files...)
}

// Load builds a Config from v and validates it
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:               v.GetString(KeyPort),
		Environment:        v.GetString(KeyEnvironment),
		LogLevel:           v.GetString(KeyLogLevel),
		LogFile:            v.GetString(KeyLogFile),
		AllowedOrigins:     splitList(v.GetString(KeyAllowedOrigins)),
		IdentifyTimeout:    v.GetDuration(KeyIdentifyTimeout),
		RateLimitPerSecond: v.GetInt(KeyRateLimitPerSecond),
		RateLimitBurst:     v.GetInt(KeyRateLimitBurst),
		MaxContentBytes:    v.GetInt(KeyMaxContentBytes),
		MaxFrameBytes:      v.GetInt64(KeyMaxFrameBytes),
		SendBuffer:         v.GetInt(KeySendBuffer),
		ShutdownTimeout:    v.GetDuration(KeyShutdownTimeout),
		IdentityMode:       strings.ToLower(strings.TrimSpace(v.GetString(KeyIdentityMode))),
		JWTSecret:          v.GetString(KeyJWTSecret),
		DatabaseURL:        v.GetString(KeyDatabaseURL),
		Redis: RedisConfig{
			URL:      v.GetString(KeyRedisURL),
			Host:     v.GetString(KeyRedisHost),
			Port:     v.GetString(KeyRedisPort),
			Password: v.GetString(KeyRedisPassword),
		},
		Telemetry: TelemetryConfig{
			Enabled:      v.GetBool(KeyOTELEnabled),
			OTLPEndpoint: v.GetString(KeyOTLPEndpoint),
			SamplingRate: v.GetFloat64(KeyOTELSamplingRate),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the relay cannot run with
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("%s must not be empty", strings.ToUpper(KeyPort))
	}
	if c.IdentifyTimeout < 0 {
		return fmt.Errorf("%s must not be negative", strings.ToUpper(KeyIdentifyTimeout))
	}
	if c.RateLimitPerSecond < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit settings must not be negative")
	}
	if c.RateLimitPerSecond > 0 && c.RateLimitBurst == 0 {
		c.RateLimitBurst = c.RateLimitPerSecond
	}
	if c.MaxContentBytes < 0 {
		return fmt.Errorf("%s must not be negative", strings.ToUpper(KeyMaxContentBytes))
	}
	if c.MaxFrameBytes <= 0 {
		return fmt.Errorf("%s must be positive", strings.ToUpper(KeyMaxFrameBytes))
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("%s must be positive", strings.ToUpper(KeySendBuffer))
	}
	for _, origin := range c.AllowedOrigins {
		if origin == "*" {
			continue
		}
		u, err := url.Parse(origin)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%s entry %q must be \"*\" or an http(s) origin such as https://app.example.com",
				strings.ToUpper(KeyAllowedOrigins), origin)
		}
	}

	switch c.IdentityMode {
	case IdentityTrust:
	case IdentityToken:
		if c.JWTSecret == "" {
			return fmt.Errorf("identity mode %q requires %s", IdentityToken, strings.ToUpper(KeyJWTSecret))
		}
	case IdentityStore:
		if c.DatabaseURL == "" {
			return fmt.Errorf("identity mode %q requires %s", IdentityStore, strings.ToUpper(KeyDatabaseURL))
		}
	default:
		return fmt.Errorf("unknown identity mode %q", c.IdentityMode)
	}

	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		return fmt.Errorf("%s must be between 0 and 1", strings.ToUpper(KeyOTELSamplingRate))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
