package codecache

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	if cfg.MaxBinaryFormatVersion != ^uint32(0) {
		t.Errorf("MaxBinaryFormatVersion = %d, want max uint32", cfg.MaxBinaryFormatVersion)
	}
	if cfg.MaxDependencyDepth != 0 {
		t.Errorf("MaxDependencyDepth = %d, want 0", cfg.MaxDependencyDepth)
	}
	if cfg.ParanoidTypeChecks {
		t.Error("ParanoidTypeChecks should default to false")
	}
	if cfg.LazyNatives {
		t.Error("LazyNatives should default to false")
	}
	if cfg.logger == nil {
		t.Error("default logger must not be nil")
	}
}

func TestApplyOptionsAppliesEachOption(t *testing.T) {
	cfg := defaultConfig()
	err := applyOptions(cfg, []Option{
		WithMaxBinaryFormatVersion(7),
		WithMaxDependencyDepth(4),
		WithParanoidTypeChecks(true),
		WithLazyNatives(true),
	})
	if err != nil {
		t.Fatalf("applyOptions: %v", err)
	}
	if cfg.MaxBinaryFormatVersion != 7 {
		t.Errorf("MaxBinaryFormatVersion = %d, want 7", cfg.MaxBinaryFormatVersion)
	}
	if cfg.MaxDependencyDepth != 4 {
		t.Errorf("MaxDependencyDepth = %d, want 4", cfg.MaxDependencyDepth)
	}
	if !cfg.ParanoidTypeChecks {
		t.Error("ParanoidTypeChecks should be true")
	}
	if !cfg.LazyNatives {
		t.Error("LazyNatives should be true")
	}
}

func TestApplyOptionsRejectsZeroMaxVersion(t *testing.T) {
	cfg := defaultConfig()
	err := applyOptions(cfg, []Option{WithMaxBinaryFormatVersion(0)})
	if err != errInvalidMaxVersion {
		t.Fatalf("applyOptions error = %v, want errInvalidMaxVersion", err)
	}
}

func TestApplyOptionsRejectsNegativeDependencyDepth(t *testing.T) {
	cfg := defaultConfig()
	err := applyOptions(cfg, []Option{WithMaxDependencyDepth(-1)})
	if err != errInvalidDependencyDepth {
		t.Fatalf("applyOptions error = %v, want errInvalidDependencyDepth", err)
	}
}

func TestWithLoggerIgnoresNil(t *testing.T) {
	cfg := defaultConfig()
	original := cfg.logger
	WithLogger(nil)(cfg)
	if cfg.logger != original {
		t.Error("WithLogger(nil) should leave the default logger untouched")
	}
}

func TestWithTracerIgnoresNil(t *testing.T) {
	cfg := defaultConfig()
	original := cfg.tracer
	WithTracer(nil)(cfg)
	if cfg.tracer != original {
		t.Error("WithTracer(nil) should leave the tracer untouched")
	}
}

func TestWithMetricsNilLeavesRegistryNil(t *testing.T) {
	cfg := defaultConfig()
	if cfg.registry != nil {
		t.Fatal("default registry should be nil")
	}
	WithMetrics(nil)(cfg)
	if cfg.registry != nil {
		t.Error("WithMetrics(nil) should leave the registry nil")
	}
}
