package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/pario-ai/tollgate/pkg/config"
	"github.com/pario-ai/tollgate/pkg/metering"
	"github.com/pario-ai/tollgate/pkg/reload"
	"github.com/pario-ai/tollgate/pkg/store"
	"github.com/pario-ai/tollgate/pkg/store/postgres"
	"github.com/pario-ai/tollgate/pkg/store/sqlite"
)

// seedStore is a store that also accepts seed data. Both drivers satisfy it.
type seedStore interface {
	store.Store
	store.Seeder
}

// app holds the process-wide dependencies built from the config file.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  seedStore
	redis  *redis.Client
}

func openApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}

	a := &app{cfg: cfg, logger: logger, store: st}
	if cfg.Redis.URL != "" {
		client, err := reload.Dial(ctx, cfg.Redis.URL)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		a.redis = client
	}
	return a, nil
}

func openStore(ctx context.Context, sc config.StoreConfig) (seedStore, error) {
	switch sc.Driver {
	case "postgres":
		return postgres.Open(ctx, sc.DSN)
	case "sqlite", "":
		return sqlite.New(sc.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", sc.Driver)
	}
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.store.Close()
	_ = a.logger.Sync()
}

// service builds the metering service. Extra reload options are applied to the executor.
func (a *app) service(reloadOpts []reload.Option, opts ...metering.Option) *metering.Service {
	if a.redis != nil {
		reloadOpts = append(reloadOpts, reload.WithClaimer(reload.NewRedisClaimer(a.redis)))
	}
	executor := reload.New(a.store, a.logger, reloadOpts...)
	opts = append(opts, metering.WithReloader(executor))

	m := a.cfg.Meter
	return metering.New(a.store, metering.Config{
		PlatformOwnerID:      a.cfg.Auth.PlatformOwnerID,
		MaxEvents:            m.MaxEvents,
		FallbackInputTokens:  m.FallbackInputTokens,
		FallbackOutputTokens: m.FallbackOutputTokens,
		ScanTimeout:          m.ScanTimeout,
	}, a.logger, opts...)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
