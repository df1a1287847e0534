package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/xraph/creditline/gateway"
	"github.com/xraph/creditline/publication"
	"github.com/xraph/creditline/store"
	"github.com/xraph/creditline/store/badger"
	"github.com/xraph/creditline/store/memory"
	"github.com/xraph/creditline/store/mongo"
	"github.com/xraph/creditline/store/postgres"
)

func newLogger(cfg LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func openStore(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("using in-memory store; state is lost on exit")
		return memory.New(), nil
	case "badger":
		return badger.Open(cfg.Path, badger.WithLogger(logger))
	case "postgres":
		return postgres.Connect(ctx, cfg.URL)
	case "mongo":
		return mongo.Connect(ctx, cfg.URL, cfg.Database)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// openCache returns nil when no redis URL is configured.
func openCache(ctx context.Context, cfg RedisConfig) (*publication.RedisCache, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	return publication.NewRedisCache(ctx, cfg.URL, cfg.TTL)
}

// newGateway routes text to Gemini and images to ImageKit. A backend that
// is not configured rejects its kind.
func newGateway(cfg GatewayConfig, logger *slog.Logger) *gateway.Mux {
	var text, image gateway.Generator

	if cfg.GeminiAPIKey != "" {
		var opts []gateway.GeminiOption
		if cfg.GeminiModel != "" {
			opts = append(opts, gateway.WithGeminiModel(cfg.GeminiModel))
		}
		text = gateway.NewGeminiClient(cfg.GeminiAPIKey, opts...)
	} else {
		logger.Warn("gemini not configured; text turns will fail")
	}

	if cfg.ImageKitEndpoint != "" && cfg.ImageKitPrivateKey != "" {
		image = gateway.NewImageKitClient(cfg.ImageKitEndpoint, cfg.ImageKitPublicKey, cfg.ImageKitPrivateKey)
	} else {
		logger.Warn("imagekit not configured; image turns will fail")
	}

	return gateway.NewMux(text, image)
}
