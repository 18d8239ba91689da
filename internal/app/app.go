// ABOUTME: Assembles storage, embedder, telemetry backend and engine from configuration
// ABOUTME: Shared by the CLI commands, the MCP server and the benchmark harness
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/harper/recall/internal/charm"
	"github.com/harper/recall/internal/config"
	"github.com/harper/recall/internal/core"
	"github.com/harper/recall/internal/embedding"
	"github.com/harper/recall/internal/llm"
	"github.com/harper/recall/internal/logging"
	"github.com/harper/recall/internal/storage"
	"github.com/harper/recall/internal/storage/postgres"
	"github.com/harper/recall/internal/storage/sqlite"
)

// App holds the wired components of one process
type App struct {
	Config   *config.Config
	Store    storage.Store
	Embedder embedding.Embedder
	Engine   *core.Engine

	charm *charm.Client
}

// Option adjusts how an App is opened
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	store      storage.Store
}

// WithRegisterer exposes the engine's metrics on reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithStore uses an already opened store instead of the configured backend
func WithStore(s storage.Store) Option {
	return func(o *options) { o.store = s }
}

// Open builds an App from cfg
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	store := o.store
	if store == nil {
		var err error
		store, err = OpenStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	embedder, err := embedding.New(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	a := &App{Config: cfg, Store: store, Embedder: embedder}

	var recorder storage.EventStore
	switch cfg.TelemetryBackend {
	case "store":
		recorder = store
	case "charm":
		client, err := charm.NewClient(charm.ConfigFrom(cfg))
		if err != nil {
			// telemetry must never block the engine, so fall back to the store
			logging.For("app").WithError(err).Warn("charm unavailable, recording telemetry locally")
			recorder = store
		} else {
			a.charm = client
			recorder = client
		}
	}

	engineOpts := core.Options{
		Recorder:   recorder,
		Registerer: o.registerer,
	}
	if cfg.OpenAIKey != "" {
		chat, err := llm.NewChatClient(llm.ChatConfigFrom(cfg))
		if err != nil {
			logging.For("app").WithError(err).Warn("chat model unavailable, ask limited to prompts")
		} else {
			engineOpts.Chat = chat
		}
	}

	a.Engine = core.NewEngine(store, embedder, cfg, engineOpts)
	return a, nil
}

// OpenStore opens the configured storage backend
func OpenStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case "postgres":
		store, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.VectorDimension)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		return store, nil
	default:
		var (
			store *sqlite.Storage
			err   error
		)
		if cfg.DatabasePath != "" {
			store, err = sqlite.NewStorageWithPath(cfg.DatabasePath)
		} else {
			store, err = sqlite.NewStorage()
		}
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		return store, nil
	}
}

// Charm returns the charm client when charm telemetry is active
func (a *App) Charm() *charm.Client {
	return a.charm
}

// Close stops the engine, flushes telemetry and closes every backend
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(a.Engine.Close(ctx))
	if closer, ok := a.Embedder.(interface{ Close() error }); ok {
		keep(closer.Close())
	}
	if a.charm != nil {
		keep(a.charm.Close())
	}
	keep(a.Store.Close())
	return firstErr
}
