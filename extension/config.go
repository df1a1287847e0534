package extension

import "time"

// Config holds the creditline extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.creditline" or "creditline" keys).
type Config struct {
	// DisableRoutes skips building the HTTP api.Server.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix the host mounts the api under (default: "/").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// InitialCredits is granted to each account when it is opened (default: 20).
	InitialCredits int64 `json:"initial_credits" mapstructure:"initial_credits" yaml:"initial_credits"`

	// GenerationTimeout bounds each gateway call (default: 60s).
	GenerationTimeout time.Duration `json:"generation_timeout" mapstructure:"generation_timeout" yaml:"generation_timeout"`

	// SweepInterval is how often unbilled turns are retried (default: 1m).
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// SweepBatchSize bounds one sweeper pass (default: 100).
	SweepBatchSize int `json:"sweep_batch_size" mapstructure:"sweep_batch_size" yaml:"sweep_batch_size"`

	// AppID tags checkout sessions so notifications for other apps sharing
	// the processor account are ignored (default: "creditline").
	AppID string `json:"app_id" mapstructure:"app_id" yaml:"app_id"`

	// WebhookSecret verifies payment notifications. Empty disables them.
	WebhookSecret string `json:"-" mapstructure:"webhook_secret" yaml:"webhook_secret"`

	// JWTSecret verifies bearer tokens on the api routes.
	JWTSecret string `json:"-" mapstructure:"jwt_secret" yaml:"jwt_secret"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:          "/",
		InitialCredits:    20,
		GenerationTimeout: 60 * time.Second,
		SweepInterval:     time.Minute,
		SweepBatchSize:    100,
		AppID:             "creditline",
	}
}
