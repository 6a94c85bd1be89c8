package gflake

import "errors"

var (
	// ErrConfiguration indicates an invalid bit layout, node identity, time source
	// or generator setup. It is returned at construction time and never retried.
	ErrConfiguration = errors.New("gflake: invalid configuration")

	// ErrClockRegression indicates that the time source reported a tick earlier
	// than the last tick an ID was issued at
	ErrClockRegression = errors.New("gflake: clock moved backwards")

	// ErrOverflow indicates that the sequence space of the current tick is
	// exhausted and the overflow strategy is OverflowThrow
	ErrOverflow = errors.New("gflake: sequence overflow")

	// ErrTimestampRange indicates that the current tick is before the epoch or
	// does not fit in the layout's timestamp field
	ErrTimestampRange = errors.New("gflake: timestamp out of range")

	// ErrInvalidFormat indicates that an encoded ID could not be parsed
	ErrInvalidFormat = errors.New("gflake: invalid ID format")

	// ErrInvalidLength indicates that a binary ID does not have 8 bytes
	ErrInvalidLength = errors.New("gflake: invalid ID length (expected 8 bytes)")
)
