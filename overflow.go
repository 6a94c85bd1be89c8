package gflake

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"
	"time"
)

// overflowAction is what the generator does once the sequence of a tick is
// exhausted. At most one of wait, spin and fail is meaningful.
type overflowAction struct {
	wait time.Duration
	spin bool
	fail bool
}

// planOverflow maps a policy to an action. jitter draws a duration in [0, n)
// and is only called for OverflowSleepWithJitter with a positive bound.
func planOverflow(p OverflowPolicy, jitter func(n time.Duration) time.Duration) overflowAction {
	switch p.Strategy {
	case OverflowSleep:
		return overflowAction{wait: p.Sleep}
	case OverflowSleepWithJitter:
		d := p.Sleep
		if p.Jitter > 0 {
			d += jitter(p.Jitter)
		}
		return overflowAction{wait: d}
	case OverflowSpinWait:
		return overflowAction{spin: true}
	default:
		return overflowAction{fail: true}
	}
}

func randomJitter(n time.Duration) time.Duration {
	return rand.N(n)
}

// sleepContext blocks for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// spinUntilTickChanges polls ts until its tick differs from tick, yielding the
// processor on every iteration. It does not return while the clock stalls
// unless ctx is done.
func spinUntilTickChanges(ctx context.Context, ts TimeSource, tick int64) error {
	for ts.Tick() == tick {
		if err := ctx.Err(); err != nil {
			return err
		}
		runtime.Gosched()
	}
	return nil
}

// handleOverflow runs the overflow policy for tick. A nil error means the
// caller should read the clock again.
func (g *Generator) handleOverflow(ctx context.Context, tick int64) error {
	policy := g.identity.policy
	g.logger.WarnContext(ctx, "sequence overflow",
		"tick", tick,
		"max_sequence", g.layout.MaxSequence(),
		"strategy", policy.Strategy.String())
	g.metrics.overflow(ctx)

	action := planOverflow(policy, g.jitter)
	switch {
	case action.fail:
		return fmt.Errorf("%w: tick %d exhausted %d sequence numbers", ErrOverflow, tick, g.layout.MaxSequence()+1)
	case action.spin:
		return g.spin(ctx, g.ts, tick)
	default:
		return g.sleep(ctx, action.wait)
	}
}
