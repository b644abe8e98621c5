package codecache

// config.go defines the Loader's configuration object and the functional
// options used to build it, following pkg/config.go's shape: a private
// struct with sane defaults, mutated only through exported Option closures,
// validated once in applyOptions.
//
// © codecache authors.

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config bundles every knob spec.md §4.3 enumerates plus the ambient
// logging/metrics/tracing wiring. All fields are immutable once the Loader
// is constructed.
type Config struct {
	// MaxBinaryFormatVersion is the deserializer ceiling (spec.md §4.3).
	MaxBinaryFormatVersion uint32

	// MaxDependencyDepth optionally caps recursive dependency walks; zero
	// means unbounded. Exceeding it raises MaxDependencyDepthReached.
	MaxDependencyDepth int

	// ParanoidTypeChecks, when true, requires a deserialized module's
	// self-id to equal the requested runtime id (spec.md §9(c)).
	ParanoidTypeChecks bool

	// LazyNatives, when true, defers a missing native-function error until
	// the native is actually invoked; when false, check_natives rejects the
	// module at load time (spec.md §4.3).
	LazyNatives bool

	registry *prometheus.Registry
	logger   *zap.Logger
	tracer   trace.Tracer
}

// Option is the functional option passed to NewLoader.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		MaxBinaryFormatVersion: ^uint32(0),
		MaxDependencyDepth:     0,
		ParanoidTypeChecks:     false,
		LazyNatives:            false,
		logger:                 zap.NewNop(),
	}
}

// WithMaxBinaryFormatVersion sets the deserializer ceiling.
func WithMaxBinaryFormatVersion(v uint32) Option {
	return func(c *Config) { c.MaxBinaryFormatVersion = v }
}

// WithMaxDependencyDepth caps recursive dependency walks.
func WithMaxDependencyDepth(n int) Option {
	return func(c *Config) { c.MaxDependencyDepth = n }
}

// WithParanoidTypeChecks enables the self-id-equals-requested-runtime-id
// check.
func WithParanoidTypeChecks(on bool) Option {
	return func(c *Config) { c.ParanoidTypeChecks = on }
}

// WithLazyNatives controls when a missing native function is reported.
func WithLazyNatives(on bool) Option {
	return func(c *Config) { c.LazyNatives = on }
}

// WithMetrics enables Prometheus metrics collection for the Loader
// instance. Passing nil disables metrics (default).
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *Config) { c.registry = reg }
}

// WithLogger plugs an external zap.Logger. The loader only logs slow,
// noteworthy events (rollback, verification failure, key-map
// inconsistencies found during rollback) — never on a cache-hit fast path.
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTracer plugs an OpenTelemetry tracer around LoadFunction,
// LoadScript, and bundle verification. Passing nil disables tracing
// (default, a no-op tracer is used).
func WithTracer(t trace.Tracer) Option {
	return func(c *Config) {
		if t != nil {
			c.tracer = t
		}
	}
}

// applyOptions copies user-supplied options into cfg and validates the
// result.
func applyOptions(cfg *Config, opts []Option) error {
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.MaxBinaryFormatVersion == 0 {
		return errInvalidMaxVersion
	}
	if cfg.MaxDependencyDepth < 0 {
		return errInvalidDependencyDepth
	}
	return nil
}

var (
	errInvalidMaxVersion     = errors.New("max binary format version must be > 0")
	errInvalidDependencyDepth = errors.New("max dependency depth must be >= 0")
)
