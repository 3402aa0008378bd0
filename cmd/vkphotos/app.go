package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vkphotos/pkg/auth"
	"vkphotos/pkg/config"
	"vkphotos/pkg/logger"
	"vkphotos/pkg/photosync"
	"vkphotos/pkg/ratelimit"
	"vkphotos/pkg/retry"
	"vkphotos/pkg/store"
	"vkphotos/pkg/store/memory"
	"vkphotos/pkg/store/sqlstore"
	"vkphotos/pkg/vkapi"
	"vkphotos/pkg/webcounter"
)

// app bundles everything a sync command needs
type app struct {
	cfg    *config.Config
	log    logger.Logger
	store  store.Store
	engine *photosync.Engine
}

// commandFlags collects the global flags that override configuration
func commandFlags() map[string]interface{} {
	flags := make(map[string]interface{})
	if accessToken != "" {
		flags["access-token"] = accessToken
	}
	if storeDriver != "" {
		flags["store-driver"] = storeDriver
	}
	if storePath != "" {
		flags["store-path"] = storePath
	}
	if storeDSN != "" {
		flags["store-dsn"] = storeDSN
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	return flags
}

// newApp loads configuration, opens the store and builds the engine
func newApp(ctx context.Context, extra map[string]interface{}) (*app, error) {
	flags := commandFlags()
	for k, v := range extra {
		flags[k] = v
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	token, err := resolveToken(cfg, log)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return nil, err
	}

	client := vkapi.NewClient(cfg.API, log, vkapi.WithAccessToken(token))
	opts := []photosync.Option{
		photosync.WithLogger(log),
		photosync.WithRateLimiter(ratelimit.New(cfg.RateLimit)),
		photosync.WithRetry(retry.FromSettings(cfg.Retry, log)),
		photosync.WithSyncConfig(cfg.Sync),
	}
	if cfg.Fallback.Enabled {
		counters := webcounter.New(cfg.Fallback, log, webcounter.WithRateLimiter(ratelimit.New(cfg.RateLimit)))
		opts = append(opts, photosync.WithCounterSource(counters))
	}

	logger.LogComponentStart(log, "engine", map[string]interface{}{
		"api":         client.String(),
		"store":       cfg.Store.Driver,
		"page_size":   cfg.Sync.PageSize,
		"concurrency": cfg.Sync.ConcurrentAlbums,
		"fallback":    cfg.Fallback.Enabled,
	})

	return &app{
		cfg:    cfg,
		log:    log,
		store:  st,
		engine: photosync.New(client, st, opts...),
	}, nil
}

// Close releases the store
func (a *app) Close() error {
	logger.LogComponentStop(a.log, "engine", "command finished")
	return a.store.Close()
}

// resolveToken picks the access token. Precedence: --access-token, then
// --account, then configuration and environment, then the most recent
// stored account. An empty token is allowed for public data.
func resolveToken(cfg *config.Config, log logger.Logger) (string, error) {
	if accessToken != "" {
		return accessToken, nil
	}

	if accountName != "" {
		manager, err := auth.NewManager()
		if err != nil {
			return "", fmt.Errorf("failed to initialize credential manager: %w", err)
		}
		account, err := manager.Lookup(accountName)
		if err != nil {
			return "", err
		}
		log.WithField("account", account.Name).Info("Using stored credentials")
		return account.AccessToken, nil
	}

	if cfg.API.AccessToken != "" {
		return cfg.API.AccessToken, nil
	}

	manager, err := auth.NewManager()
	if err != nil {
		log.WithError(err).Warn("Credential manager unavailable")
		return "", nil
	}
	account, err := manager.RetrieveDefault()
	if errors.Is(err, auth.ErrCredentialsNotFound) {
		log.Warn("No access token configured, only public data is reachable")
		return "", nil
	}
	if err != nil {
		return "", err
	}
	log.WithField("account", account.Name).Info("Using stored credentials")
	return account.AccessToken, nil
}

// openStore opens the store selected by cfg.Driver
func openStore(ctx context.Context, cfg config.StoreConfig, log logger.Logger) (store.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlstore.OpenSQLite(ctx, cfg.Path, sqlstore.WithLogger(log))
	case "mysql":
		return sqlstore.OpenMySQL(ctx, cfg.DSN, sqlstore.WithLogger(log))
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
