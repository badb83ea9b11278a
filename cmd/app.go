package cmd

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/config"
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore"
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore/badgerstore"
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore/memory"
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/expression"
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/logs"
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/metadata"
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/query"
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/query/cache"
)

type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	service  datastore.Service
	compiler *query.Compiler
	executor *query.Executor
	closers  []io.Closer
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}

func newApp(ctx context.Context, configPath string, fixtures []string) (_ *app, outErr error) {
	cfg, err := config.ReadConfig(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't read config")
	}
	logger, logCloser, err := logs.New(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't create logger")
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		closers: []io.Closer{logCloser},
	}
	defer func() {
		if outErr != nil {
			a.Close()
		}
	}()

	switch cfg.Store.Type {
	case "", "memory":
		a.service = memory.NewStore()
	case "badger":
		opts, err := badgerstore.OptionsFromConfig(cfg.Store.Config, logger)
		if err != nil {
			return nil, errors.Wrap(err, "couldn't get badger store options")
		}
		store, err := badgerstore.Open(opts)
		if err != nil {
			return nil, errors.Wrap(err, "couldn't open badger store")
		}
		a.service = store
		a.closers = append(a.closers, store)
	default:
		return nil, errors.Errorf("unknown store type: %s", cfg.Store.Type)
	}

	registry, err := metadata.ReadRegistry(cfg.Metadata)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't read metadata registry")
	}
	if cfg.Query.TenantID != "" {
		registry.TenantID = cfg.Query.TenantID
	}

	a.compiler = query.NewCompiler(
		registry,
		query.WithInMemoryFallback(cfg.Query.InMemoryFallback),
		query.WithLogger(logger),
	)
	a.executor = &query.Executor{
		Service:             a.service,
		Materializer:        query.MapMaterializer{},
		AccurateDeleteCount: cfg.Query.AccurateDeleteCount,
		ChunkSize:           cfg.Query.ChunkSize,
		Logger:              logger,
	}
	if cfg.Cache.Enabled {
		keyCache, err := cache.NewKeyCache(cache.Config{
			NumCounters: cfg.Cache.NumCounters,
			MaxCost:     cfg.Cache.MaxCost,
		})
		if err != nil {
			return nil, errors.Wrap(err, "couldn't create key cache")
		}
		a.executor.KeyCache = keyCache
		a.closers = append(a.closers, closerFunc(keyCache.Close))
	}

	for _, path := range fixtures {
		if _, err := a.loadFixtures(ctx, path); err != nil {
			return nil, err
		}
	}

	return a, nil
}

func (a *app) loadFixtures(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "couldn't open fixture file")
	}
	defer f.Close()

	entities, err := readFixtures(f)
	if err != nil {
		return 0, errors.Wrapf(err, "couldn't read fixtures from %s", path)
	}
	if err := completeKeys(ctx, a.service, entities); err != nil {
		return 0, errors.Wrap(err, "couldn't allocate fixture ids")
	}
	if err := a.service.Put(ctx, nil, entities); err != nil {
		return 0, errors.Wrap(err, "couldn't store fixtures")
	}
	a.logger.WithFields(logrus.Fields{
		"path":     path,
		"entities": len(entities),
	}).Info("loaded fixtures")
	return len(entities), nil
}

func (a *app) compile(path string) (*query.QueryData, expression.Parameters, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "couldn't open query file")
	}
	defer f.Close()

	qf, err := expression.DecodeQueryFile(f)
	if err != nil {
		return nil, nil, errors.Wrap(err, "couldn't decode query file")
	}
	qd, err := a.compiler.Compile(qf.Compilation, qf.Parameters)
	if err != nil {
		return nil, nil, errors.Wrap(err, "couldn't compile query")
	}
	return qd, qf.Parameters, nil
}

// Close releases everything in reverse order of creation.
func (a *app) Close() error {
	var outErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && outErr == nil {
			outErr = err
		}
	}
	return outErr
}
