// Package config - service configuration
package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	toml "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefix of environment variable overrides
const EnvPrefix = "PROXYKEY_"

// Config complete service configuration
type Config struct {
	Database    DatabaseConfig    `koanf:"database"`
	Enclave     EnclaveConfig     `koanf:"enclave"`
	Attestation AttestationConfig `koanf:"attestation"`
	RateLimit   RateLimitConfig   `koanf:"ratelimit"`
	Webhook     WebhookConfig     `koanf:"webhook"`
	Log         LogConfig         `koanf:"log"`
}

// DatabaseConfig persistence settings
type DatabaseConfig struct {
	// Driver "sqlite" or "postgres"
	Driver string `koanf:"driver" validate:"oneof=sqlite postgres"`
	// DSN sqlite file path, or postgres connection string
	DSN string `koanf:"dsn" validate:"required"`
	// LogLevel SQL log level: silent, error, warn, info
	LogLevel string `koanf:"log_level" validate:"oneof=silent error warn info"`
}

// EnclaveConfig secret enclave settings
type EnclaveConfig struct {
	// SystemSecret hex encoded process-wide secret, at least 32 bytes
	SystemSecret string `koanf:"system_secret" validate:"required,hexadecimal,min=64"`
	// GracePeriod how long a rotated-out proxy key still resolves. 0 disables it.
	GracePeriod time.Duration `koanf:"grace_period" validate:"gte=0"`
}

// SystemSecretBytes the decoded process-wide secret
func (c EnclaveConfig) SystemSecretBytes() ([]byte, error) {
	secret, err := hex.DecodeString(c.SystemSecret)
	if err != nil {
		return nil, fmt.Errorf("system secret is not hex encoded [%w]", err)
	}
	return secret, nil
}

// AttestationConfig attestation backend settings
type AttestationConfig struct {
	// Mode "none", "age" (software simulation), or "remote"
	Mode string `koanf:"mode" validate:"oneof=none age remote"`
	// AgeIdentity age X25519 identity used in "age" mode
	AgeIdentity string `koanf:"age_identity" validate:"required_if=Mode age"`
	// RemoteURL attestation service base URL used in "remote" mode
	RemoteURL string `koanf:"remote_url" validate:"required_if=Mode remote,omitempty,url"`
	// Timeout remote request timeout
	Timeout time.Duration `koanf:"timeout" validate:"gte=0"`
}

// RateLimitConfig rate limiter settings
type RateLimitConfig struct {
	// Backend window store: "sql" or "redis"
	Backend string `koanf:"backend" validate:"oneof=sql redis"`
	// RedisAddr redis server address used by the redis backend
	RedisAddr string `koanf:"redis_addr" validate:"required_if=Backend redis"`
	// RedisPassword redis password
	RedisPassword string `koanf:"redis_password"`
	// RedisDB redis database index
	RedisDB int `koanf:"redis_db" validate:"gte=0"`
	// KeyPrefix redis key prefix
	KeyPrefix string `koanf:"key_prefix"`

	Window          time.Duration `koanf:"window" validate:"gt=0"`
	WindowLimit     int           `koanf:"window_limit" validate:"gt=0"`
	BurstWindow     time.Duration `koanf:"burst_window" validate:"gt=0,ltefield=Window"`
	BurstLimit      int           `koanf:"burst_limit" validate:"gt=0"`
	AbuseLimit      int           `koanf:"abuse_limit" validate:"gtfield=WindowLimit"`
	SpamBanDuration time.Duration `koanf:"spam_ban_duration" validate:"gt=0"`
	IdleWindowTTL   time.Duration `koanf:"idle_window_ttl" validate:"gte=0"`
	// SweepInterval background sweep interval. 0 disables the sweeper.
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"gte=0"`
}

// WebhookConfig rotation webhook settings
type WebhookConfig struct {
	Timeout   time.Duration `koanf:"timeout" validate:"gte=0"`
	UserAgent string        `koanf:"user_agent"`
}

// LogConfig logging settings
type LogConfig struct {
	// Level debug, info, warn, error
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
	// Format "json" or "cli"
	Format string `koanf:"format" validate:"oneof=json cli"`
}

// Default the default configuration. The system secret has no default.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Driver:   "sqlite",
			DSN:      "proxykey.db",
			LogLevel: "error",
		},
		Enclave: EnclaveConfig{GracePeriod: 0},
		Attestation: AttestationConfig{
			Mode:    "none",
			Timeout: 5 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Backend:         "sql",
			KeyPrefix:       "proxykey:rl:",
			Window:          60 * time.Second,
			WindowLimit:     60,
			BurstWindow:     5 * time.Second,
			BurstLimit:      10,
			AbuseLimit:      1000,
			SpamBanDuration: 24 * time.Hour,
			IdleWindowTTL:   10 * time.Minute,
			SweepInterval:   time.Minute,
		},
		Webhook: WebhookConfig{
			Timeout:   10 * time.Second,
			UserAgent: "proxykey-webhook/1",
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// envKey map PROXYKEY_RATELIMIT_WINDOW__LIMIT to ratelimit.window_limit
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	s = strings.ToLower(s)
	// Double underscores are literal underscores, single ones separate sections
	s = strings.ReplaceAll(s, "__", "%UNDERSCORE%")
	s = strings.ReplaceAll(s, "_", ".")
	return strings.ReplaceAll(s, "%UNDERSCORE%", "_")
}

/*
Load read the configuration. Values are layered: defaults, then the TOML file if one
is given, then PROXYKEY_ environment variables.

	@param configPath string - optional TOML file
	@returns the validated configuration
*/
func Load(configPath string) (Config, error) {
	cfg := Default()

	k := koanf.New(".")

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to load config file [%w]", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment variables [%w]", err)
	}

	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Result:           &cfg,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}); err != nil {
		return Config{}, fmt.Errorf("failed to parse config [%w]", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate check the configuration
func (c Config) Validate() error {
	if err := validator.New().Struct(&c); err != nil {
		return fmt.Errorf("invalid config [%w]", err)
	}
	return nil
}
