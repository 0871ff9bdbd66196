package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rendis/flowengine/internal/blocks"
	"github.com/rendis/flowengine/internal/engine"
	"github.com/rendis/flowengine/internal/expressions"
	"github.com/rendis/flowengine/internal/logging"
	"github.com/rendis/flowengine/internal/progress"
	"github.com/rendis/flowengine/internal/runners"
	"github.com/rendis/flowengine/internal/secrets"
	"github.com/rendis/flowengine/internal/store"
	"github.com/rendis/flowengine/internal/validation"
	"github.com/rendis/flowengine/internal/worker"
)

// runtime is the wired engine shared by every command.
type runtime struct {
	logger *slog.Logger
	store  *store.LibSQLStore
	worker *worker.Worker
	redis  *redis.Client
}

type runtimeOptions struct {
	// discardProgress drops progress updates. Set for local runs that have
	// no coordinator to report to.
	discardProgress bool
}

// buildRuntime wires store → vault → expressions → blocks → runner →
// executor → worker.
func buildRuntime(ctx context.Context, cfg Config, logOut io.Writer, opts runtimeOptions) (*runtime, error) {
	logger := logging.New(logOut, cfg.LogLevel)
	rt := &runtime{logger: logger}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	rt.store = st
	if err := st.Migrate(ctx); err != nil {
		rt.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	var secretSource expressions.SecretSource
	var decoder engine.SampleDecoder
	if cfg.VaultPassphrase != "" {
		vault, err := secrets.NewAESVault(st, secrets.VaultConfig{
			Passphrase: cfg.VaultPassphrase,
			Salt:       []byte(cfg.VaultSalt),
		})
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open vault: %w", err)
		}
		secretSource = vault
		decoder = secrets.NewSampleCodec(vault)
	} else {
		logger.Warn("vault passphrase not set; connection references and encoded test outputs are unavailable")
	}

	engines, err := expressions.NewEngines()
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("init expression engines: %w", err)
	}

	inputValidator, err := validation.NewJSONSchemaValidator()
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("init input validator: %w", err)
	}
	registry := blocks.NewRegistry(inputValidator)
	if err := blocks.RegisterBuiltins(registry, blocks.BuiltinConfig{}); err != nil {
		rt.Close()
		return nil, fmt.Errorf("register blocks: %w", err)
	}

	flowValidator, err := validation.NewFlowValidator(registry)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("init flow validator: %w", err)
	}

	var locker worker.Locker
	if cfg.RedisAddr != "" {
		rt.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rt.redis.Ping(ctx).Err(); err != nil {
			rt.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		locker = worker.NewRedisLocker(rt.redis, "")
	}

	runner := runners.NewLocal(runners.Config{Engines: engines, Blocks: registry, Logger: logger})
	wcfg := worker.Config{
		Executor:  engine.NewExecutor(engine.ExecutorDeps{Runner: runner, Logger: logger}),
		Store:     st,
		Validator: flowValidator,
		Locker:    locker,
		Variables: expressions.NewTemplateResolver(secretSource),
		Decoder:   decoder,
		Logger:    logger,
		Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
	if opts.discardProgress {
		wcfg.NewProgress = func() engine.ProgressSender { return progress.Discard{} }
	}
	rt.worker = worker.New(wcfg)
	return rt, nil
}

// Close releases the store and redis connections.
func (rt *runtime) Close() {
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			rt.logger.Warn("close redis", "error", err)
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Warn("close store", "error", err)
		}
	}
}
