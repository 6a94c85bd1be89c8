package gflake

import (
	"context"
	"errors"
	"time"

	retry "github.com/avast/retry-go/v5"
)

// errBusy marks a TryNext call that found the generator locked
var errBusy = errors.New("gflake: generator busy")

// RetryOptions bounds NextWithRetry
type RetryOptions struct {
	// Attempts is the maximum number of calls, including the first. Zero
	// means 10.
	Attempts uint
	// Delay between attempts. Zero means one tick of the time source.
	Delay time.Duration
}

// NextWithRetry calls TryNext until it yields an ID, retrying while the
// generator is busy or the sequence of the current tick is exhausted
// (ErrOverflow). Clock regression and range errors are returned at once.
//
// It is meant for generators using OverflowThrow that prefer a bounded wait
// over an error.
func (g *Generator) NextWithRetry(ctx context.Context, opts RetryOptions) (ID, error) {
	attempts := opts.Attempts
	if attempts == 0 {
		attempts = 10
	}
	delay := opts.Delay
	if delay <= 0 {
		delay = g.ts.TickDuration()
	}

	return retry.NewWithData[ID](
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, errBusy) || errors.Is(err, ErrOverflow)
		}),
		retry.LastErrorOnly(true),
	).Do(func() (ID, error) {
		id, ok, err := g.TryNext()
		if err != nil {
			return ID{}, err
		}
		if !ok {
			return ID{}, errBusy
		}
		return id, nil
	})
}
