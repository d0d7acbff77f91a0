package weave

import (
	"context"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/loreweave/loom/config"
	"github.com/ZanzyTHEbar/loreweave/loom/db"
	"github.com/ZanzyTHEbar/loreweave/loom/weave/adapters"
	ports "github.com/ZanzyTHEbar/loreweave/loom/weave/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Factory creates and wires a Manager from configuration.
type Factory struct {
	cfg        *config.Config
	logger     zerolog.Logger
	registerer prometheus.Registerer
	completer  ports.Completer
}

// NewFactory creates a new factory.
func NewFactory(cfg *config.Config, logger zerolog.Logger) *Factory {
	return &Factory{
		cfg:        cfg,
		logger:     logger,
		registerer: prometheus.DefaultRegisterer,
	}
}

// WithRegisterer sets where Prometheus instruments are registered.
func (f *Factory) WithRegisterer(reg prometheus.Registerer) *Factory {
	if reg != nil {
		f.registerer = reg
	}
	return f
}

// WithCompleter replaces the OpenAI client, mainly for tests and offline runs.
func (f *Factory) WithCompleter(c ports.Completer) *Factory {
	f.completer = c
	return f
}

// CreateManager builds a Manager and returns a closer that releases its storage.
func (f *Factory) CreateManager(ctx context.Context) (*Manager, func() error, error) {
	turn, err := f.turnConfig()
	if err != nil {
		return nil, nil, err
	}

	counter, err := f.createCounter()
	if err != nil {
		return nil, nil, err
	}

	store, closeStore, err := f.createStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	m, err := NewManager(turn, store, f.createCompleter(), counter)
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	m.WithLogger(f.logger).
		WithTracer(f.createTracer()).
		WithMetrics(f.createMetrics()).
		WithParallelism(f.cfg.Weave.Parallelism)

	return m, closeStore, nil
}

func (f *Factory) turnConfig() (TurnConfig, error) {
	model, err := ParseModel(f.cfg.Weave.Model)
	if err != nil {
		return TurnConfig{}, err
	}
	return TurnConfig{
		Model:            model,
		Temperature:      f.cfg.Weave.Temperature,
		PresencePenalty:  f.cfg.Weave.PresencePenalty,
		FrequencyPenalty: f.cfg.Weave.FrequencyPenalty,
		SummaryFraction:  f.cfg.Weave.SummaryFraction,
		ContextWindow:    f.cfg.Weave.ContextWindow,
	}, nil
}

func (f *Factory) createStore(ctx context.Context) (ports.FragmentStore, func() error, error) {
	sc := f.cfg.Storage
	noClose := func() error { return nil }

	switch sc.Backend {
	case "memory":
		return adapters.NewMemoryFragmentStore(), noClose, nil
	case "libsql":
		conn, err := db.ConnectToDBWithConfig(ctx, &db.LibSQLEmbeddedConfig{DatabasePath: sc.LibSQLPath, Logger: f.logger})
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrStorageFailed, err)
		}
		return adapters.NewLibSQLFragmentStore(conn), conn.Close, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     sc.RedisAddr,
			Password: sc.RedisPassword,
			DB:       sc.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("%w: ping redis %s: %w", ErrStorageFailed, sc.RedisAddr, err)
		}
		return adapters.NewRedisFragmentStore(client, sc.RedisPrefix, 0), client.Close, nil
	case "postgres":
		store, err := adapters.NewPostgresFragmentStore(ctx, sc.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrStorageFailed, err)
		}
		return store, store.Close, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown storage backend %q", ErrBadConfig, sc.Backend)
}

func (f *Factory) createCompleter() ports.Completer {
	completer := f.completer
	if completer == nil {
		oc := f.cfg.OpenAI
		completer = adapters.NewOpenAICompleter(adapters.OpenAIConfig{
			APIKey:       oc.APIKey,
			BaseURL:      oc.BaseURL,
			Organization: oc.Organization,
			Timeout:      oc.Timeout,
			MaxRetries:   3,
		}, f.logger)
	}

	if !f.cfg.RateLimit.Enabled {
		return completer
	}
	return adapters.NewRateLimitedCompleter(completer,
		adapters.NewTokenBucket(f.cfg.RateLimit.Capacity, f.cfg.RateLimit.RefillRate))
}

func (f *Factory) createCounter() (ports.TokenCounter, error) {
	tc := f.cfg.Tokenizer

	var counter ports.TokenCounter
	switch tc.Kind {
	case "heuristic":
		counter = adapters.HeuristicCounter{}
	case "tiktoken":
		tk, err := adapters.NewTiktokenCounter(tc.Encoding)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadConfig, err)
		}
		counter = tk
	default:
		return nil, fmt.Errorf("%w: unknown tokenizer %q", ErrBadConfig, tc.Kind)
	}

	if !tc.CacheEnabled {
		return counter, nil
	}
	return adapters.NewCachedCounter(counter, adapters.NewLRUCache(tc.CacheCapacity), tc.CacheTTLSeconds), nil
}

func (f *Factory) createTracer() ports.Tracer {
	if !f.cfg.Telemetry.EnableTracing {
		return noOpTracer{}
	}
	return adapters.NewZerologTracer(f.logger)
}

func (f *Factory) createMetrics() ports.Metrics {
	if !f.cfg.Telemetry.EnableMetrics {
		return noOpMetrics{}
	}
	m, err := registerMetrics(f.cfg.Telemetry.MetricsNamespace, f.registerer)
	if err != nil {
		f.logger.Warn().Err(err).Msg("metrics disabled")
		return noOpMetrics{}
	}
	return m
}

// registerMetrics turns promauto's duplicate-registration panic into an error.
func registerMetrics(namespace string, reg prometheus.Registerer) (m *adapters.PrometheusMetrics, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("register metrics: %v", r)
		}
	}()
	return adapters.NewPrometheusMetrics(namespace, reg), nil
}

// noOpTracer implements Tracer with no-op behavior.
type noOpTracer struct{}

func (noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

// noOpMetrics implements Metrics with no-op behavior.
type noOpMetrics struct{}

func (noOpMetrics) ObserveTurn(outcome string, compacted bool, elapsed time.Duration) {}
func (noOpMetrics) ObserveTokens(kind string, tokens int)                            {}

var (
	_ ports.Tracer  = noOpTracer{}
	_ ports.Metrics = noOpMetrics{}
)
