// Package gflake generates 63-bit, time-ordered, unique identifiers
// ("Snowflakes") across independent processes without central coordination.
//
// An ID packs four fields, most significant first:
//
//	| 0 | timestamp | data center | worker | sequence |
//
// The sign bit is always zero, so IDs are non-negative int64 values that sort
// by creation time. The width of each field is given by a BitLayout; the
// default (41, 4, 6, 12) layout yields about 69 years of millisecond ticks,
// 16 data centers, 64 workers and 4096 IDs per millisecond per node.
//
// Basic Usage:
//
//	// Generate an ID with the default generator (data center 0, worker 0)
//	id, err := gflake.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(id.Int64(), id.Timestamp(), id.Sequence())
//
// Custom Generator:
//
//	layout, err := gflake.NewBitLayout(41, 5, 5, 12)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	node, err := gflake.NewNodeIdentity(layout, 3, 17, gflake.ThrowPolicy())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	gen, err := gflake.NewGenerator(layout, node, gflake.DefaultTimeSource())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	id, err := gen.Next()
//
// Decoding:
//
//	id, err := gflake.Decode(raw, gflake.DefaultLayout)
//	fmt.Println(id.DataCenter(), id.Worker(), id.Time(gflake.DefaultTimeSource()))
//
// Sequence Overflow:
//
// When more IDs are requested within one tick than the sequence field can
// hold, the generator applies the node's OverflowPolicy: sleep, sleep with
// jitter, spin until the tick changes, or fail with ErrOverflow.
//
// Thread Safety:
//
// A Generator may be shared by any number of goroutines. Next serializes
// callers on a lock owned by the generator and waits for it; TryNext returns
// immediately with ok == false when the generator is busy.
//
// Uniqueness:
//
// IDs from different generators are unique only if each generator sharing a
// layout has a distinct (data center, worker) pair. A generator fails with
// ErrClockRegression rather than issue an ID when the clock moves backwards.
package gflake
