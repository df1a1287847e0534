// Package extension provides the Forge extension adapter for creditline.
//
// It implements the forge.Extension interface to integrate the credit
// ledger into a Forge application with DI registration and lifecycle
// management. The engine and, unless routes are disabled, its api.Server
// are provided to the container.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.creditline" or
// "creditline" keys.
package extension

import (
	"context"
	"errors"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/creditline"
	"github.com/xraph/creditline/api"
	"github.com/xraph/creditline/store"
	"github.com/xraph/creditline/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "creditline"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Credit-metered generation ledger"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts creditline as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *creditline.Ledger
	server     *api.Server
	store      store.Store
	ledgerOpts []creditline.Option
}

// New creates a new creditline Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Ledger instance.
// This is nil until Register is called.
func (e *Extension) Engine() *creditline.Ledger { return e.engine }

// Server returns the HTTP api. It is nil until Register is called, and
// stays nil when routes are disabled.
func (e *Extension) Server() *api.Server { return e.server }

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	e.engine = creditline.New(e.store, e.buildLedgerOpts()...)

	if err := vessel.Provide(fapp.Container(), func() (*creditline.Ledger, error) {
		return e.engine, nil
	}); err != nil {
		return err
	}

	if e.config.DisableRoutes {
		return nil
	}
	if e.config.JWTSecret == "" {
		return errors.New("creditline: jwt_secret is required unless routes are disabled")
	}
	e.server = api.New(e.engine, api.NewAuthenticator(e.config.JWTSecret))

	return vessel.Provide(fapp.Container(), func() (*api.Server, error) {
		return e.server, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("creditline: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("creditline: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildLedgerOpts constructs creditline.Option values from the resolved config.
func (e *Extension) buildLedgerOpts() []creditline.Option {
	opts := make([]creditline.Option, 0, len(e.ledgerOpts)+6)

	opts = append(opts,
		creditline.WithInitialCredits(e.config.InitialCredits),
		creditline.WithGenerationTimeout(e.config.GenerationTimeout),
		creditline.WithSweepBatchSize(e.config.SweepBatchSize),
		creditline.WithAppID(e.config.AppID),
	)

	// A negative interval disables the sweeper.
	interval := max(e.config.SweepInterval, 0)
	opts = append(opts, creditline.WithSweepInterval(interval))

	if e.config.WebhookSecret != "" {
		opts = append(opts, creditline.WithWebhookSecret(e.config.WebhookSecret))
	}

	// Append any pass-through options.
	opts = append(opts, e.ledgerOpts...)

	return opts
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("creditline: configuration is required but not found in config files; " +
				"ensure 'extensions.creditline' or 'creditline' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("creditline: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("initial_credits", e.config.InitialCredits),
		forge.F("generation_timeout", e.config.GenerationTimeout),
		forge.F("sweep_interval", e.config.SweepInterval),
		forge.F("app_id", e.config.AppID),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	for _, key := range []string{"extensions.creditline", "creditline"} {
		if !cm.IsSet(key) {
			continue
		}
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("creditline: loaded config from file",
				forge.F("key", key),
			)
			return cfg, true
		}
		e.Logger().Warn("creditline: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.InitialCredits == 0 {
		cfg.InitialCredits = defaults.InitialCredits
	}
	if cfg.GenerationTimeout == 0 {
		cfg.GenerationTimeout = defaults.GenerationTimeout
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	if cfg.SweepBatchSize == 0 {
		cfg.SweepBatchSize = defaults.SweepBatchSize
	}
	if cfg.AppID == "" {
		cfg.AppID = defaults.AppID
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	if yamlConfig.BasePath == "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.AppID == "" {
		yamlConfig.AppID = programmaticConfig.AppID
	}
	if yamlConfig.WebhookSecret == "" {
		yamlConfig.WebhookSecret = programmaticConfig.WebhookSecret
	}
	if yamlConfig.JWTSecret == "" {
		yamlConfig.JWTSecret = programmaticConfig.JWTSecret
	}
	if yamlConfig.InitialCredits == 0 {
		yamlConfig.InitialCredits = programmaticConfig.InitialCredits
	}
	if yamlConfig.GenerationTimeout == 0 {
		yamlConfig.GenerationTimeout = programmaticConfig.GenerationTimeout
	}
	if yamlConfig.SweepInterval == 0 {
		yamlConfig.SweepInterval = programmaticConfig.SweepInterval
	}
	if yamlConfig.SweepBatchSize == 0 {
		yamlConfig.SweepBatchSize = programmaticConfig.SweepBatchSize
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}
