package gflake

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// neverIssued is the lastTick of a generator that has not issued an ID yet
const neverIssued int64 = -1

// Generator is a thread-safe Snowflake generator. Each call to Next returns an
// ID strictly greater than every ID previously returned by the same Generator,
// unless it fails.
//
// The lock is owned by the Generator instance: independent generators never
// serialize each other. Next waits for the lock; TryNext does not.
type Generator struct {
	mu       sync.Mutex
	lastTick int64
	sequence int64

	layout   BitLayout
	identity NodeIdentity
	ts       TimeSource

	logger  *slog.Logger
	metrics *generatorMetrics

	// overflow hooks, replaced in tests
	jitter func(time.Duration) time.Duration
	sleep  func(context.Context, time.Duration) error
	spin   func(context.Context, TimeSource, int64) error
}

type options struct {
	logger         *slog.Logger
	meterProvider  metric.MeterProvider
	disableMetrics bool
}

// Option configures a Generator
type Option func(*options)

// WithLogger sets the logger used for overflow and clock events.
// The default discards all records.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider. The global provider
// is used by default.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// WithoutMetrics disables metric recording
func WithoutMetrics() Option {
	return func(o *options) {
		o.disableMetrics = true
	}
}

// NewGenerator creates a Generator issuing IDs with layout for identity,
// reading ticks from ts.
func NewGenerator(layout BitLayout, identity NodeIdentity, ts TimeSource, opts ...Option) (*Generator, error) {
	if layout.IsZero() {
		return nil, fmt.Errorf("%w: bit layout must be provided", ErrConfiguration)
	}
	if ts == nil {
		return nil, fmt.Errorf("%w: time source must be provided", ErrConfiguration)
	}
	if ts.Epoch().IsZero() {
		return nil, fmt.Errorf("%w: time source epoch must be set", ErrConfiguration)
	}
	if err := identity.fits(layout); err != nil {
		return nil, err
	}

	cfg := &options{}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	g := &Generator{
		lastTick: neverIssued,
		layout:   layout,
		identity: identity,
		ts:       ts,
		logger: logger.With(
			"data_center", identity.DataCenter(),
			"worker", identity.Worker()),
		jitter: randomJitter,
		sleep:  sleepContext,
		spin:   spinUntilTickChanges,
	}
	if !cfg.disableMetrics {
		m, err := newGeneratorMetrics(cfg.meterProvider, identity)
		if err != nil {
			return nil, fmt.Errorf("gflake: create metrics: %w", err)
		}
		g.metrics = m
	}
	return g, nil
}

// Layout returns the layout of issued IDs
func (g *Generator) Layout() BitLayout { return g.layout }

// Identity returns the node identity of the generator
func (g *Generator) Identity() NodeIdentity { return g.identity }

// TimeSource returns the generator's time source
func (g *Generator) TimeSource() TimeSource { return g.ts }

// Next returns a new ID, waiting for the lock and for the overflow policy as
// needed. It fails with ErrClockRegression, ErrOverflow (OverflowThrow only)
// or ErrTimestampRange.
//
// Under OverflowSpinWait, Next does not return while the clock stalls. Use
// NextContext to bound the wait.
func (g *Generator) Next() (ID, error) {
	return g.NextContext(context.Background())
}

// NextContext is like Next, but overflow sleeping and spinning stop with
// ctx.Err() once ctx is done. Waiting for the lock itself is not cancellable.
func (g *Generator) NextContext(ctx context.Context) (ID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.next(ctx)
}

// TryNext is the non-blocking form of Next. If another caller holds the
// generator, it returns immediately with ok == false and a nil error; the
// caller may retry. Once the lock is taken it behaves like Next, including
// blocking overflow policies.
func (g *Generator) TryNext() (id ID, ok bool, err error) {
	ctx := context.Background()
	if !g.mu.TryLock() {
		g.metrics.contention(ctx)
		return ID{}, false, nil
	}
	defer g.mu.Unlock()

	id, err = g.next(ctx)
	return id, err == nil, err
}

// next must be called with g.mu held
func (g *Generator) next(ctx context.Context) (ID, error) {
	for {
		tick := g.ts.Tick()

		if tick < 0 || tick > g.layout.MaxTimestamp() {
			g.logger.ErrorContext(ctx, "tick out of timestamp range",
				"tick", tick, "max_timestamp", g.layout.MaxTimestamp())
			return ID{}, fmt.Errorf("%w: tick %d not in [0, %d]", ErrTimestampRange, tick, g.layout.MaxTimestamp())
		}

		if tick < g.lastTick {
			g.logger.ErrorContext(ctx, "clock moved backwards",
				"tick", tick, "last_tick", g.lastTick)
			g.metrics.regression(ctx)
			return ID{}, fmt.Errorf("%w: tick %d is behind last issued tick %d", ErrClockRegression, tick, g.lastTick)
		}

		if tick == g.lastTick {
			if g.sequence >= g.layout.MaxSequence() {
				if err := g.handleOverflow(ctx, tick); err != nil {
					return ID{}, err
				}
				continue
			}
			g.sequence++
		} else {
			g.sequence = 0
		}

		g.lastTick = tick
		id, err := Encode(g.layout, tick, g.identity.dataCenter, g.identity.worker, g.sequence)
		if err != nil {
			return ID{}, err
		}
		g.metrics.issue(ctx)
		return id, nil
	}
}

// Must is a helper that wraps a call to a function returning (ID, error)
// and panics if the error is non-nil. It is intended for use in variable
// initializations such as:
//
//	var id = gflake.Must(generator.Next())
func Must(id ID, err error) ID {
	if err != nil {
		panic(err)
	}
	return id
}

// defaultGenerator is the package-level generator used by New
var defaultGenerator = mustDefaultGenerator()

func mustDefaultGenerator() *Generator {
	g, err := NewGenerator(DefaultLayout, DefaultNodeIdentity(), DefaultTimeSource())
	if err != nil {
		panic(err)
	}
	return g
}

// Default returns the package-level generator: DefaultLayout, data center 0,
// worker 0, the sleep overflow policy and DefaultTimeSource.
func Default() *Generator {
	return defaultGenerator
}

// New generates an ID using the default generator.
// This is a convenience function for single-node use; processes sharing an ID
// space must each build a Generator with a distinct NodeIdentity.
func New() (ID, error) {
	return defaultGenerator.Next()
}
