package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"regexp"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/aretw0/relay"
	"github.com/aretw0/relay/internal/config"
	"github.com/aretw0/relay/internal/logging"
	"github.com/aretw0/relay/pkg/adapters/file"
	"github.com/aretw0/relay/pkg/adapters/loam"
	"github.com/aretw0/relay/pkg/adapters/memory"
	"github.com/aretw0/relay/pkg/adapters/process"
	"github.com/aretw0/relay/pkg/adapters/redis"
	"github.com/aretw0/relay/pkg/adapters/sqlite"
	"github.com/aretw0/relay/pkg/capability"
	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/observability"
	"github.com/aretw0/relay/pkg/persistence/middleware"
	"github.com/aretw0/relay/pkg/ports"
	"github.com/aretw0/relay/pkg/registry"
)

// DefaultSQLitePath is the database file of the sqlite driver when no path is set.
const DefaultSQLitePath = "relay.db"

// Options tune how the runtime is assembled.
type Options struct {
	// Debug logs every lifecycle hook at debug level.
	Debug bool
	// Logger overrides the logger built from the configuration.
	Logger *slog.Logger
	// HTTPClient is used by remote coordinators and workers.
	HTTPClient *http.Client
}

// Runtime is a fully wired engine plus the resources it owns.
type Runtime struct {
	Engine  *relay.Engine
	Specs   []capability.Spec
	Metrics *prometheus.Registry
	Store   ports.CheckpointStore
	Logger  *slog.Logger
	closers []io.Closer
}

// Close releases store connections.
func (r *Runtime) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// NewLogger builds the application logger. Debug forces the debug level.
func NewLogger(cfg config.LogConfig, debug bool) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if debug {
		level = slog.LevelDebug
	}
	return logging.NewWithFormat(os.Stderr, level, logging.Format(cfg.Format)), nil
}

// Build assembles the engine described by cfg.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		var err error
		if logger, err = NewLogger(cfg.Log, opts.Debug); err != nil {
			return nil, err
		}
	}

	rt := &Runtime{Logger: logger}

	store, locker, err := rt.openStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	rt.Store = store

	specs, err := LoadSpecs(ctx, cfg.Workers.Dir, logger)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Specs = specs

	workers, err := buildWorkers(cfg.Workers, specs, opts.HTTPClient)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	coordinator, err := buildCoordinator(cfg.Coordinator, specs, workers.Catalog(), opts.HTTPClient)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	rt.Metrics = prometheus.NewRegistry()
	rt.Metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	hooks := observability.NewMetrics(rt.Metrics).Hooks()
	if opts.Debug {
		hooks = observability.Combine(hooks, observability.LogHooks(logger))
	}

	engineOpts := []relay.Option{
		relay.WithStore(store),
		relay.WithLogger(logger),
		relay.WithLifecycleHooks(hooks),
		relay.WithMaxSteps(cfg.Execution.MaxSteps),
		relay.WithMaxInputBytes(cfg.Execution.MaxInputBytes),
		relay.WithInvokeTimeout(cfg.Execution.InvokeTimeout),
		relay.WithParallelHandoffs(cfg.Execution.ParallelHandoffs),
		relay.WithHandoffConcurrency(cfg.Execution.HandoffConcurrency),
	}
	if locker != nil {
		engineOpts = append(engineOpts, relay.WithLocker(locker, cfg.Store.LockTTL))
	}

	rt.Engine, err = relay.New(coordinator, workers, engineOpts...)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("error initializing engine: %w", err)
	}

	logger.Debug("Runtime ready",
		"store", cfg.Store.Driver,
		"coordinator", cfg.Coordinator.Kind,
		"workers", len(specs),
	)
	return rt, nil
}

// openStore opens the configured driver and wraps it with the persistence middleware.
func (rt *Runtime) openStore(cfg config.StoreConfig) (ports.CheckpointStore, ports.DistributedLocker, error) {
	mws, err := storeMiddleware(cfg)
	if err != nil {
		return nil, nil, err
	}

	var (
		store  ports.CheckpointStore
		locker ports.DistributedLocker
	)
	switch cfg.Driver {
	case config.DriverMemory:
		store = memory.NewStore()
	case config.DriverFile:
		store = file.New(cfg.Path)
	case config.DriverRedis:
		var redisOpts []redis.Option
		if cfg.TTL > 0 {
			redisOpts = append(redisOpts, redis.WithTTL(cfg.TTL))
		}
		rs := redis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, redisOpts...)
		rt.closers = append(rt.closers, rs)
		store = rs
		locker = redis.NewLocker(rs.Client(), redis.DefaultPrefix)
	case config.DriverSQLite:
		path := cfg.Path
		if path == "" {
			path = DefaultSQLitePath
		}
		ss, err := sqlite.Open(path)
		if err != nil {
			return nil, nil, err
		}
		rt.closers = append(rt.closers, ss)
		store = ss
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	return middleware.Chain(store, mws...), locker, nil
}

func storeMiddleware(cfg config.StoreConfig) ([]middleware.Middleware, error) {
	var mws []middleware.Middleware
	if len(cfg.Redact) > 0 {
		for _, p := range cfg.Redact {
			if _, err := regexp.Compile(p); err != nil {
				return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
			}
		}
		mws = append(mws, middleware.NewRedactionMiddleware(cfg.Redact))
	}
	if cfg.EncryptionKey != "" {
		key, err := middleware.ParseKey(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("invalid encryption key: %w", err)
		}
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}))
	}
	return mws, nil
}

// LoadSpecs reads the worker catalog. A missing directory yields no workers.
func LoadSpecs(ctx context.Context, dir string, logger *slog.Logger) ([]capability.Spec, error) {
	if dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		logger.Warn("Worker catalog not found, starting without workers", "dir", dir)
		return nil, nil
	}

	catalog, err := loam.Open(dir)
	if err != nil {
		return nil, err
	}
	specs, err := catalog.Specs(ctx)
	if err != nil {
		return nil, err
	}
	return specs, nil
}

func buildWorkers(cfg config.WorkersConfig, specs []capability.Spec, client *http.Client) (*registry.Registry, error) {
	tools, err := process.LoadTools(cfg.Tools)
	if err != nil {
		return nil, fmt.Errorf("failed to load tools config: %w", err)
	}

	factory := capability.Factory{
		Tools:  process.NewRunner(process.WithRegistry(tools)),
		Client: client,
	}

	reg := registry.NewRegistry()
	for _, spec := range specs {
		c, err := factory.Build(spec)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(spec.ID, spec.Description, c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildCoordinator(cfg config.CoordinatorConfig, specs []capability.Spec, catalog []ports.WorkerInfo, client *http.Client) (ports.Capability, error) {
	switch cfg.Kind {
	case config.CoordinatorKeyword, "":
		routes, fallback := capability.Routes(specs)
		var opts []capability.KeywordOption
		if fallback != "" {
			opts = append(opts, capability.WithFallback(fallback))
		}
		return capability.NewKeywordCoordinator(routes, opts...), nil
	case config.CoordinatorRemote:
		opts := []capability.RemoteOption{capability.WithWorkers(catalog)}
		if client != nil {
			opts = append(opts, capability.WithHTTPClient(client))
		}
		if cfg.RPS > 0 {
			opts = append(opts, capability.WithRateLimit(cfg.RPS, 1))
		}
		return capability.NewRemote(domain.CoordinatorID, cfg.URL, opts...), nil
	}
	return nil, fmt.Errorf("unknown coordinator kind %q", cfg.Kind)
}
