package gflake

import (
	"fmt"
	"strings"
	"time"
)

// OverflowStrategy selects what the Generator does when the sequence space of
// the current tick is exhausted.
type OverflowStrategy uint8

const (
	// OverflowUnspecified is the zero value and is rejected by NewNodeIdentity
	OverflowUnspecified OverflowStrategy = iota
	// OverflowSleep blocks for a fixed duration, then retries
	OverflowSleep
	// OverflowSleepWithJitter blocks for a fixed duration plus a random jitter, then retries
	OverflowSleepWithJitter
	// OverflowSpinWait polls the time source until the tick changes, then retries
	OverflowSpinWait
	// OverflowThrow fails the call with ErrOverflow
	OverflowThrow
)

// Default overflow policy parameters
const (
	DefaultOverflowSleep  = 100 * time.Millisecond
	DefaultOverflowJitter = 500 * time.Millisecond
)

var strategyNames = map[OverflowStrategy]string{
	OverflowUnspecified:     "unspecified",
	OverflowSleep:           "sleep",
	OverflowSleepWithJitter: "sleep_with_jitter",
	OverflowSpinWait:        "spin_wait",
	OverflowThrow:           "throw",
}

// strategyAliases are accepted by ParseOverflowStrategy besides the names
var strategyAliases = map[string]OverflowStrategy{
	"throw_exception": OverflowThrow,
}

// String returns the configuration name of the strategy
func (s OverflowStrategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("OverflowStrategy(%d)", uint8(s))
}

// ParseOverflowStrategy parses a strategy name as returned by String.
// Matching is case-insensitive and accepts '-' in place of '_'.
// "throw_exception" is accepted for OverflowThrow.
func ParseOverflowStrategy(s string) (OverflowStrategy, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	if strategy, ok := strategyAliases[name]; ok {
		return strategy, nil
	}
	for strategy, n := range strategyNames {
		if strategy != OverflowUnspecified && n == name {
			return strategy, nil
		}
	}
	return OverflowUnspecified, fmt.Errorf("%w: unknown overflow strategy %q", ErrConfiguration, s)
}

// MarshalText implements encoding.TextMarshaler
func (s OverflowStrategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *OverflowStrategy) UnmarshalText(data []byte) error {
	strategy, err := ParseOverflowStrategy(string(data))
	if err != nil {
		return err
	}
	*s = strategy
	return nil
}

// OverflowPolicy is an overflow strategy together with its parameters.
// Sleep is used by OverflowSleep and OverflowSleepWithJitter, Jitter only by
// OverflowSleepWithJitter.
type OverflowPolicy struct {
	Strategy OverflowStrategy
	Sleep    time.Duration
	Jitter   time.Duration
}

// SleepPolicy returns an OverflowSleep policy
func SleepPolicy(d time.Duration) OverflowPolicy {
	return OverflowPolicy{Strategy: OverflowSleep, Sleep: d}
}

// SleepWithJitterPolicy returns an OverflowSleepWithJitter policy
func SleepWithJitterPolicy(d, jitter time.Duration) OverflowPolicy {
	return OverflowPolicy{Strategy: OverflowSleepWithJitter, Sleep: d, Jitter: jitter}
}

// SpinWaitPolicy returns an OverflowSpinWait policy
func SpinWaitPolicy() OverflowPolicy {
	return OverflowPolicy{Strategy: OverflowSpinWait}
}

// ThrowPolicy returns an OverflowThrow policy
func ThrowPolicy() OverflowPolicy {
	return OverflowPolicy{Strategy: OverflowThrow}
}

// DefaultOverflowPolicy is SleepPolicy(DefaultOverflowSleep)
func DefaultOverflowPolicy() OverflowPolicy {
	return SleepPolicy(DefaultOverflowSleep)
}

func (p OverflowPolicy) validate() error {
	switch p.Strategy {
	case OverflowSleep, OverflowSleepWithJitter, OverflowSpinWait, OverflowThrow:
	case OverflowUnspecified:
		return fmt.Errorf("%w: overflow strategy must be provided", ErrConfiguration)
	default:
		return fmt.Errorf("%w: unsupported overflow strategy %s", ErrConfiguration, p.Strategy)
	}
	if p.Sleep < 0 {
		return fmt.Errorf("%w: overflow sleep must be non-negative, got %s", ErrConfiguration, p.Sleep)
	}
	if p.Sleep == 0 && (p.Strategy == OverflowSleep || p.Strategy == OverflowSleepWithJitter) {
		return fmt.Errorf("%w: overflow strategy %s needs a positive sleep", ErrConfiguration, p.Strategy)
	}
	if p.Jitter < 0 {
		return fmt.Errorf("%w: overflow jitter must be non-negative, got %s", ErrConfiguration, p.Jitter)
	}
	return nil
}

// NodeIdentity is the fixed data center and worker id of one generator plus
// the overflow policy it applies. It is validated against a BitLayout when
// constructed.
type NodeIdentity struct {
	dataCenter int64
	worker     int64
	policy     OverflowPolicy
}

// NewNodeIdentity validates dataCenter and worker against layout and returns
// the identity. Both ids must be non-negative and fit in their fields, and the
// policy must name a strategy.
func NewNodeIdentity(layout BitLayout, dataCenter, worker int64, policy OverflowPolicy) (NodeIdentity, error) {
	if layout.IsZero() {
		return NodeIdentity{}, fmt.Errorf("%w: bit layout must be provided", ErrConfiguration)
	}
	if dataCenter < 0 || dataCenter > layout.MaxDataCenter() {
		return NodeIdentity{}, fmt.Errorf("%w: data center must be in [0, %d], got %d",
			ErrConfiguration, layout.MaxDataCenter(), dataCenter)
	}
	if worker < 0 || worker > layout.MaxWorker() {
		return NodeIdentity{}, fmt.Errorf("%w: worker must be in [0, %d], got %d",
			ErrConfiguration, layout.MaxWorker(), worker)
	}
	if err := policy.validate(); err != nil {
		return NodeIdentity{}, err
	}
	return NodeIdentity{dataCenter: dataCenter, worker: worker, policy: policy}, nil
}

// DefaultNodeIdentity returns data center 0, worker 0 with the default sleep policy
func DefaultNodeIdentity() NodeIdentity {
	return NodeIdentity{policy: DefaultOverflowPolicy()}
}

// DataCenter returns the data center id
func (n NodeIdentity) DataCenter() int64 { return n.dataCenter }

// Worker returns the worker id
func (n NodeIdentity) Worker() int64 { return n.worker }

// OverflowPolicy returns the overflow policy
func (n NodeIdentity) OverflowPolicy() OverflowPolicy { return n.policy }

// fits reports whether the identity's ids fit layout
func (n NodeIdentity) fits(layout BitLayout) error {
	if n.policy.Strategy == OverflowUnspecified {
		return fmt.Errorf("%w: node identity must be built with NewNodeIdentity", ErrConfiguration)
	}
	if n.dataCenter > layout.MaxDataCenter() {
		return fmt.Errorf("%w: data center %d exceeds layout maximum %d", ErrConfiguration, n.dataCenter, layout.MaxDataCenter())
	}
	if n.worker > layout.MaxWorker() {
		return fmt.Errorf("%w: worker %d exceeds layout maximum %d", ErrConfiguration, n.worker, layout.MaxWorker())
	}
	return nil
}
