package gflake

import (
	"fmt"
	"sync"
	"time"
)

// DefaultEpoch is 2020-01-01T08:00:00Z
var DefaultEpoch = time.UnixMilli(1577865600000).UTC()

// DefaultTickDuration is the length of one tick of the default time source
const DefaultTickDuration = time.Millisecond

// TimeSource supplies the timestamp field of generated IDs.
//
// Tick returns the number of whole ticks elapsed since Epoch. It must be
// non-decreasing under normal clock behavior; the Generator fails a call with
// ErrClockRegression when it is not.
type TimeSource interface {
	Epoch() time.Time
	Tick() int64
	TickDuration() time.Duration
}

// ClockTimeSource is a TimeSource backed by a wall clock. It holds no state
// beyond the clock it wraps and is safe for concurrent use.
type ClockTimeSource struct {
	epoch        time.Time
	tickDuration time.Duration
	now          func() time.Time
}

// TimeSourceOption configures a ClockTimeSource
type TimeSourceOption func(*ClockTimeSource)

// WithTickDuration sets the length of one tick. Ticks are computed as
// whole multiples of d since the epoch.
func WithTickDuration(d time.Duration) TimeSourceOption {
	return func(s *ClockTimeSource) {
		s.tickDuration = d
	}
}

// WithClock replaces time.Now as the clock
func WithClock(now func() time.Time) TimeSourceOption {
	return func(s *ClockTimeSource) {
		s.now = now
	}
}

// NewTimeSource returns a wall-clock TimeSource counting ticks from epoch.
// The epoch should be in the past; ticks before it are negative and rejected
// by the Generator.
func NewTimeSource(epoch time.Time, opts ...TimeSourceOption) (*ClockTimeSource, error) {
	if epoch.IsZero() {
		return nil, fmt.Errorf("%w: epoch must be set", ErrConfiguration)
	}
	s := &ClockTimeSource{
		epoch:        epoch,
		tickDuration: DefaultTickDuration,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.tickDuration <= 0 {
		return nil, fmt.Errorf("%w: tick duration must be positive, got %s", ErrConfiguration, s.tickDuration)
	}
	if s.now == nil {
		return nil, fmt.Errorf("%w: clock must not be nil", ErrConfiguration)
	}
	return s, nil
}

// DefaultTimeSource returns a millisecond TimeSource counting from DefaultEpoch
func DefaultTimeSource() *ClockTimeSource {
	return &ClockTimeSource{
		epoch:        DefaultEpoch,
		tickDuration: DefaultTickDuration,
		now:          time.Now,
	}
}

// Epoch returns the reference instant
func (s *ClockTimeSource) Epoch() time.Time { return s.epoch }

// TickDuration returns the length of one tick
func (s *ClockTimeSource) TickDuration() time.Duration { return s.tickDuration }

// Tick returns the whole ticks elapsed since the epoch
func (s *ClockTimeSource) Tick() int64 {
	elapsed := s.now().Sub(s.epoch)
	tick := int64(elapsed / s.tickDuration)
	// round towards negative infinity before the epoch
	if elapsed < 0 && elapsed%s.tickDuration != 0 {
		tick--
	}
	return tick
}

// ManualTimeSource is a TimeSource whose tick is set explicitly. It is meant
// for tests and simulations and is safe for concurrent use.
type ManualTimeSource struct {
	mu           sync.Mutex
	epoch        time.Time
	tickDuration time.Duration
	tick         int64
}

// NewManualTimeSource returns a ManualTimeSource at tick with DefaultEpoch and
// DefaultTickDuration
func NewManualTimeSource(tick int64) *ManualTimeSource {
	return &ManualTimeSource{
		epoch:        DefaultEpoch,
		tickDuration: DefaultTickDuration,
		tick:         tick,
	}
}

// Epoch returns DefaultEpoch
func (m *ManualTimeSource) Epoch() time.Time { return m.epoch }

// TickDuration returns DefaultTickDuration
func (m *ManualTimeSource) TickDuration() time.Duration { return m.tickDuration }

// Tick returns the current tick
func (m *ManualTimeSource) Tick() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tick
}

// Set moves the clock to tick, which may be earlier than the current one
func (m *ManualTimeSource) Set(tick int64) {
	m.mu.Lock()
	m.tick = tick
	m.mu.Unlock()
}

// Advance moves the clock forward by n ticks and returns the new tick
func (m *ManualTimeSource) Advance(n int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tick += n
	return m.tick
}
