package engine

import (
	"time"

	"github.com/TomNeyland/modash.js-sub008/fuser"
)

// Config holds every tunable of a Collection (spec's Ambient Stack
// "Configuration" section): ring buffer sizing, scheduler targets,
// backpressure thresholds, and the fuser's guardrails. Zero-value
// Config is never used directly; New always starts from defaultConfig
// and applies Options on top, mirroring the teacher's EditOption
// functional-options pattern (nodestorage/v2/options.go's
// EditOption func(*EditOptions)).
type Config struct {
	RingCapacity    int
	SchedulerTarget time.Duration
	Cadence         time.Duration
	BackpressureHi  float64
	BackpressureLo  float64

	Fuser fuser.Options

	// Fallback is the external one-shot evaluator collaborator (spec §6)
	// that Aggregate invokes when its pipeline contains an unsupported
	// stage/operator. Install itself never calls it and returns the parse
	// error either way. Nil means no fallback is available and Aggregate
	// returns the parse error too.
	Fallback Evaluator
}

// Option configures a Collection at New time.
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		RingCapacity:    1024,
		SchedulerTarget: 5 * time.Millisecond,
		Cadence:         10 * time.Millisecond,
		BackpressureHi:  0.8,
		BackpressureLo:  0.4,
		Fuser:           fuser.Options{},
	}
}

// WithRingCapacity overrides the ring buffer's batch-slot capacity.
func WithRingCapacity(n int) Option {
	return func(c *Config) { c.RingCapacity = n }
}

// WithSchedulerTarget overrides the scheduler's target per-batch latency.
func WithSchedulerTarget(d time.Duration) Option {
	return func(c *Config) { c.SchedulerTarget = d }
}

// WithCadence overrides the minimum interval between batch emissions.
func WithCadence(d time.Duration) Option {
	return func(c *Config) { c.Cadence = d }
}

// WithBackpressureThresholds overrides the hysteresis high/low watermarks.
func WithBackpressureThresholds(hi, lo float64) Option {
	return func(c *Config) { c.BackpressureHi = hi; c.BackpressureLo = lo }
}

// WithFuserOptions overrides the pipeline fuser's guardrails.
func WithFuserOptions(o fuser.Options) Option {
	return func(c *Config) { c.Fuser = o }
}

// WithFallback installs the external one-shot evaluator collaborator
// used when Install meets a stage or operator the incremental core
// doesn't support (spec §6, "the core delegates when any unsupported
// stage or operator is seen").
func WithFallback(e Evaluator) Option {
	return func(c *Config) { c.Fallback = e }
}
