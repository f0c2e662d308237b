// Package app assembles credcore's services from a Config. Both the API
// server and credctl build on it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/org/credcore/internal/audit"
	"github.com/org/credcore/internal/breach"
	"github.com/org/credcore/internal/config"
	"github.com/org/credcore/internal/crypto"
	"github.com/org/credcore/internal/history"
	"github.com/org/credcore/internal/keysource"
	"github.com/org/credcore/internal/policy"
	"github.com/org/credcore/internal/rotation"
	"github.com/org/credcore/internal/secret"
	"github.com/org/credcore/internal/similarity"
	"github.com/org/credcore/internal/storage"
)

// App holds the wired services.
type App struct {
	Config        *config.Config
	Store         storage.Backend
	Cipher        *crypto.SecretCipher
	Fingerprinter *crypto.Fingerprinter
	History       *history.Store
	Policy        *policy.Engine
	Audit         *audit.Logger
	Scheduler     *rotation.Scheduler
	Breach        *breach.Detector
	Secrets       *secret.Service

	closers []func()
}

// New opens storage, loads key material and wires every service.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	src, err := keysource.New(ctx, cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("configuring key source: %w", err)
	}
	raw, err := keysource.Load(ctx, src)
	if err != nil && !errors.Is(err, keysource.ErrNoKey) {
		return nil, err
	}
	raw, err = crypto.ResolveKeyMaterial(raw, cfg.Production())
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return Assemble(ctx, cfg, store, raw)
}

// Assemble wires services over an already open store and resolved key.
func Assemble(ctx context.Context, cfg *config.Config, store storage.Backend, rawKey string) (*App, error) {
	a := &App{Config: cfg, Store: store}
	a.closers = append(a.closers, store.Close)

	cipher, err := crypto.NewSecretCipher(rawKey, crypto.Options{LegacyCBC: cfg.Crypto.LegacyCBC})
	if err != nil {
		a.Close()
		return nil, err
	}
	fp, err := crypto.NewFingerprinter(rawKey)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, fp.Close)
	a.Cipher, a.Fingerprinter = cipher, fp

	var opts []policy.Option
	if cfg.Policy.BlacklistFile != "" {
		bl, err := policy.LoadBlacklist(cfg.Policy.BlacklistFile)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("loading password blacklist: %w", err)
		}
		log.Info().Int("entries", bl.Len()).Msg("password blacklist loaded")
		opts = append(opts, policy.WithBlacklist(bl))
	}

	a.History = history.NewStore(store, history.Options{MaxEntriesPerCredential: cfg.History.MaxEntriesPerCredential})
	a.Policy = policy.NewEngine(store, a.History, cipher, opts...)
	a.Audit = audit.NewLogger(store)
	a.Scheduler = rotation.NewScheduler(store, a.Policy, cipher, a.History, a.Audit,
		rotation.Options{AllowConcurrentSchedules: cfg.AllowConcurrentSchedules()})

	svcOpts := []secret.Option{
		secret.WithAnalyzer(similarity.NewAnalyzer(fp, similarity.Options{
			Threshold: cfg.Similarity.Threshold,
			MaxItems:  cfg.Similarity.MaxItems,
			Workers:   cfg.Similarity.Workers,
		})),
	}
	if cfg.Breach.Enabled {
		det, err := a.breachDetector(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Breach = det
		svcOpts = append(svcOpts,
			secret.WithBreachDetector(det),
			secret.WithBreachBatchTimeout(cfg.Breach.BatchTimeout))
	}
	a.Secrets = secret.NewService(store, cipher, a.Policy, a.History, a.Audit, svcOpts...)
	return a, nil
}

func (a *App) breachDetector(ctx context.Context) (*breach.Detector, error) {
	bc := a.Config.Breach
	var cache breach.RangeCache
	switch bc.Cache.Driver {
	case "redis":
		rc, err := breach.OpenRedisCache(ctx, bc.Cache.RedisURL, bc.Cache.KeyPrefix, bc.Cache.TTL)
		if err != nil {
			return nil, fmt.Errorf("opening breach range cache: %w", err)
		}
		a.closers = append(a.closers, func() { rc.Close() }) //nolint:errcheck
		cache = rc
	case "memory", "":
		cache = breach.NewMemoryCache(bc.Cache.TTL)
	}
	return breach.NewDetector(breach.Options{
		BaseURL:    bc.BaseURL,
		Timeout:    bc.Timeout,
		BatchDelay: bc.BatchDelay,
		Cache:      cache,
	}), nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
