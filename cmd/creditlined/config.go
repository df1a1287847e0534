package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/xraph/creditline"
)

// Config is the daemon configuration. It is read from an optional YAML
// file and overridden by CREDITLINE_* environment variables, e.g.
// CREDITLINE_STORE_DRIVER or CREDITLINE_AUTH_JWT_SECRET.
type Config struct {
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	HTTP    HTTPConfig    `mapstructure:"http" yaml:"http"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Redis   RedisConfig   `mapstructure:"redis" yaml:"redis"`
	Gateway GatewayConfig `mapstructure:"gateway" yaml:"gateway"`
	Ledger  LedgerConfig  `mapstructure:"ledger" yaml:"ledger"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Webhook WebhookConfig `mapstructure:"webhook" yaml:"webhook"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=json text"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
}

type StoreConfig struct {
	Driver   string `mapstructure:"driver" yaml:"driver" validate:"oneof=memory badger postgres mongo"`
	Path     string `mapstructure:"path" yaml:"path" validate:"required_if=Driver badger"`
	URL      string `mapstructure:"url" yaml:"url" validate:"required_if=Driver postgres,required_if=Driver mongo"`
	Database string `mapstructure:"database" yaml:"database" validate:"required_if=Driver mongo"`
}

// RedisConfig enables the published-image cache when URL is set.
type RedisConfig struct {
	URL string        `mapstructure:"url" yaml:"url"`
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

type GatewayConfig struct {
	GeminiAPIKey       string `mapstructure:"gemini_api_key" yaml:"gemini_api_key"`
	GeminiModel        string `mapstructure:"gemini_model" yaml:"gemini_model"`
	ImageKitEndpoint   string `mapstructure:"imagekit_endpoint" yaml:"imagekit_endpoint" validate:"omitempty,url"`
	ImageKitPublicKey  string `mapstructure:"imagekit_public_key" yaml:"imagekit_public_key"`
	ImageKitPrivateKey string `mapstructure:"imagekit_private_key" yaml:"imagekit_private_key"`
}

type LedgerConfig struct {
	InitialCredits    int64         `mapstructure:"initial_credits" yaml:"initial_credits" validate:"gte=0"`
	GenerationTimeout time.Duration `mapstructure:"generation_timeout" yaml:"generation_timeout" validate:"gt=0"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval" validate:"gte=0"`
	SweepBatchSize    int           `mapstructure:"sweep_batch_size" yaml:"sweep_batch_size" validate:"gt=0"`
	AppID             string        `mapstructure:"app_id" yaml:"app_id" validate:"required"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	Issuer    string `mapstructure:"issuer" yaml:"issuer"`
}

type WebhookConfig struct {
	Secret string `mapstructure:"secret" yaml:"secret"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allowed_origins", []string{"*"})
	v.SetDefault("http.shutdown_timeout", 30*time.Second)

	v.SetDefault("store.driver", "badger")
	v.SetDefault("store.path", "data/creditline")
	v.SetDefault("store.url", "")
	v.SetDefault("store.database", "creditline")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ttl", time.Minute)

	v.SetDefault("gateway.gemini_api_key", "")
	v.SetDefault("gateway.gemini_model", "")
	v.SetDefault("gateway.imagekit_endpoint", "")
	v.SetDefault("gateway.imagekit_public_key", "")
	v.SetDefault("gateway.imagekit_private_key", "")

	v.SetDefault("ledger.initial_credits", creditline.DefaultInitialCredits)
	v.SetDefault("ledger.generation_timeout", creditline.DefaultGenerationTimeout)
	v.SetDefault("ledger.sweep_interval", creditline.DefaultSweepInterval)
	v.SetDefault("ledger.sweep_batch_size", creditline.DefaultSweepBatchSize)
	v.SetDefault("ledger.app_id", creditline.DefaultAppID)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("webhook.secret", "")
}

// loadConfig reads .env (if present), then path (if set, else an optional
// creditline.yaml in the working directory), then the environment.
func loadConfig(path string) (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env is optional

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CREDITLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("creditline")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
