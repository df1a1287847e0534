package extension

import (
	"time"

	"github.com/xraph/creditline"
	"github.com/xraph/creditline/gateway"
	"github.com/xraph/creditline/plugin"
	"github.com/xraph/creditline/store"
)

// Option configures the creditline Forge extension.
type Option func(*Extension)

// WithStore sets the store for the engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithGateway sets the generator turns are produced by.
func WithGateway(g gateway.Generator) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, creditline.WithGateway(g))
	}
}

// WithLedgerOption passes a creditline.Option through to the underlying engine.
func WithLedgerOption(opt creditline.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, opt)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, creditline.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes skips building the HTTP api.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for the api routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithInitialCredits sets the grant for newly opened accounts.
func WithInitialCredits(n int64) Option {
	return func(e *Extension) { e.config.InitialCredits = n }
}

// WithGenerationTimeout bounds each gateway call.
func WithGenerationTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.GenerationTimeout = d }
}

// WithSweepInterval sets how often unbilled turns are retried.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.SweepInterval = d }
}

// WithSecrets sets the webhook and bearer token secrets.
func WithSecrets(webhookSecret, jwtSecret string) Option {
	return func(e *Extension) {
		e.config.WebhookSecret = webhookSecret
		e.config.JWTSecret = jwtSecret
	}
}
