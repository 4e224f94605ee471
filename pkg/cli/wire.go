package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/mchmarny/microscore/pkg/cache"
	"github.com/mchmarny/microscore/pkg/data"
	"github.com/mchmarny/microscore/pkg/events"
	"github.com/mchmarny/microscore/pkg/feast"
	"github.com/mchmarny/microscore/pkg/model"
	"github.com/mchmarny/microscore/pkg/rate"
	"github.com/mchmarny/microscore/pkg/score"
	"github.com/mchmarny/microscore/pkg/secret"
)

// deps are the components built from config, created on first use.
type deps struct {
	store     *data.Store
	features  data.FeatureSource
	models    *model.Holder
	scorer    *score.Scorer
	rates     *rate.Table
	publisher events.Publisher
	closers   []func() error
}

func (d *deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// resolveDSN picks the database: --db, then config or env, then the
// keychain, then the default file in the home dir.
func (a *app) resolveDSN() string {
	if a.dsn != "" {
		return a.dsn
	}
	if a.cfg != nil && a.cfg.Database.DSN != "" {
		return a.cfg.Database.DSN
	}
	if v, err := secret.DSN(a.homeDir).Get(); err == nil && v != "" {
		slog.Debug("using database from keychain")
		return v
	}
	return filepath.Join(a.homeDir, data.DataFileName)
}

// newModels returns the predictor holder for the configured model.
func (a *app) newModels() *model.Holder {
	m := a.cfg.Model
	if m.URL != "" {
		slog.Debug("using remote model", "url", m.URL)
		return model.NewStaticHolder(model.NewRemote(m.URL, m.Token, m.Timeout))
	}
	paths := m.Paths
	if len(paths) == 0 {
		paths = model.CandidatesFromEnv()
	}
	return model.NewFileHolder(paths)
}

// feastConfig maps the feast config section, token included, to the client config.
func (a *app) feastConfig() feast.Config {
	fc := a.cfg.Feast
	return feast.Config{
		Host:      fc.Host,
		Port:      fc.Port,
		Project:   fc.Project,
		View:      fc.View,
		EntityKey: fc.EntityKey,
		Token:     fc.Token,
	}
}

// cacheFeatures wraps src in redis when an address is set, otherwise in
// process memory when enabled.
func (a *app) cacheFeatures(ctx context.Context, d *deps, src data.FeatureSource) data.FeatureSource {
	cc := a.cfg.Cache
	switch {
	case cc.Addr != "":
		rs, err := cache.NewRedisStore(ctx, cc.Addr, cc.Password, cc.DB)
		if err != nil {
			slog.Warn("feature cache disabled", "error", err)
			return src
		}
		d.closers = append(d.closers, rs.Close)
		return cache.NewSource(src, rs, cc.TTL)
	case cc.Memory:
		slog.Debug("using in-process feature cache", "ttl", cc.TTL)
		return cache.NewSource(src, cache.NewMemoryStore(), cc.TTL)
	default:
		return src
	}
}

func (a *app) newScorer(models *model.Holder) *score.Scorer {
	return score.New(models, score.WithClamp(a.cfg.Scoring.Clamp))
}

// getDeps opens the store and builds everything that depends on it.
// Optional backends that can not be reached are logged and skipped.
func (a *app) getDeps(ctx context.Context) (*deps, error) {
	if a.deps != nil {
		return a.deps, nil
	}

	d := &deps{}

	dsn := a.resolveDSN()
	store, err := data.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	d.closers = append(d.closers, store.Close)
	if err := store.Init(ctx); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	d.store = store

	var src data.FeatureSource = store
	if a.cfg.Feast.Host != "" {
		fs, err := feast.NewSource(a.feastConfig(), store)
		if err != nil {
			slog.Warn("feast unavailable, using database features", "error", err)
		} else {
			src = fs
		}
	}

	d.features = a.cacheFeatures(ctx, d, src)

	d.publisher = events.Noop{}
	if ec := a.cfg.Events; ec.URL != "" {
		p, err := events.Connect(ec.URL, ec.Subject)
		if err != nil {
			slog.Warn("score events disabled", "error", err)
		} else {
			d.publisher = p
			d.closers = append(d.closers, p.Close)
		}
	}

	d.rates, err = rate.NewTable(a.cfg.Rates.Tiers, a.cfg.Rates.Floor)
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("loading rate tiers: %w", err)
	}

	d.models = a.newModels()
	d.scorer = a.newScorer(d.models)

	a.deps = d
	return d, nil
}
