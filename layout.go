package gflake

import "fmt"

// TotalBits is the number of usable bits in an ID. The 64th bit is the sign
// bit and is always zero.
const TotalBits = 63

// Default field widths
const (
	DefaultTimestampBits  = 41
	DefaultDataCenterBits = 4
	DefaultWorkerBits     = 6
	DefaultSequenceBits   = 12
)

// BitLayout describes how the 63 usable bits of an ID are split between the
// timestamp, data center, worker and sequence fields. Fields are packed most
// significant first in that order.
//
// A BitLayout is an immutable value; the zero value is not a valid layout.
type BitLayout struct {
	timestampBits  uint8
	dataCenterBits uint8
	workerBits     uint8
	sequenceBits   uint8
}

// DefaultLayout is the (41, 4, 6, 12) layout: about 69 years of millisecond
// ticks, 16 data centers, 64 workers and 4096 IDs per tick per node.
var DefaultLayout = BitLayout{
	timestampBits:  DefaultTimestampBits,
	dataCenterBits: DefaultDataCenterBits,
	workerBits:     DefaultWorkerBits,
	sequenceBits:   DefaultSequenceBits,
}

// NewBitLayout validates the field widths and returns the layout.
// timestampBits and sequenceBits must be in [1, 62], dataCenterBits and
// workerBits in [0, 62], and the four must sum to exactly 63.
func NewBitLayout(timestampBits, dataCenterBits, workerBits, sequenceBits int) (BitLayout, error) {
	checks := []struct {
		name    string
		bits    int
		minimum int
	}{
		{"timestamp", timestampBits, 1},
		{"data center", dataCenterBits, 0},
		{"worker", workerBits, 0},
		{"sequence", sequenceBits, 1},
	}
	for _, c := range checks {
		if c.bits < c.minimum || c.bits >= TotalBits {
			return BitLayout{}, fmt.Errorf("%w: %s bits must be in [%d, %d], got %d",
				ErrConfiguration, c.name, c.minimum, TotalBits-1, c.bits)
		}
	}

	if sum := timestampBits + dataCenterBits + workerBits + sequenceBits; sum != TotalBits {
		return BitLayout{}, fmt.Errorf("%w: bit widths must sum to %d, got %d", ErrConfiguration, TotalBits, sum)
	}

	return BitLayout{
		timestampBits:  uint8(timestampBits),
		dataCenterBits: uint8(dataCenterBits),
		workerBits:     uint8(workerBits),
		sequenceBits:   uint8(sequenceBits),
	}, nil
}

// MustBitLayout is like NewBitLayout but panics if the layout is invalid.
func MustBitLayout(timestampBits, dataCenterBits, workerBits, sequenceBits int) BitLayout {
	l, err := NewBitLayout(timestampBits, dataCenterBits, workerBits, sequenceBits)
	if err != nil {
		panic(err)
	}
	return l
}

// TimestampBits returns the width of the timestamp field
func (l BitLayout) TimestampBits() int { return int(l.timestampBits) }

// DataCenterBits returns the width of the data center field
func (l BitLayout) DataCenterBits() int { return int(l.dataCenterBits) }

// WorkerBits returns the width of the worker field
func (l BitLayout) WorkerBits() int { return int(l.workerBits) }

// SequenceBits returns the width of the sequence field
func (l BitLayout) SequenceBits() int { return int(l.sequenceBits) }

// MaxTimestamp returns the largest tick the timestamp field can hold
func (l BitLayout) MaxTimestamp() int64 { return maxValue(l.timestampBits) }

// MaxDataCenter returns the largest data center id
func (l BitLayout) MaxDataCenter() int64 { return maxValue(l.dataCenterBits) }

// MaxWorker returns the largest worker id
func (l BitLayout) MaxWorker() int64 { return maxValue(l.workerBits) }

// MaxSequence returns the largest sequence number within one tick
func (l BitLayout) MaxSequence() int64 { return maxValue(l.sequenceBits) }

// IsZero reports whether l is the zero (invalid) layout
func (l BitLayout) IsZero() bool { return l == BitLayout{} }

// String returns the layout as "timestamp/dataCenter/worker/sequence"
func (l BitLayout) String() string {
	return fmt.Sprintf("%d/%d/%d/%d", l.timestampBits, l.dataCenterBits, l.workerBits, l.sequenceBits)
}

// Field offsets, counted from the least significant bit.
func (l BitLayout) workerShift() uint     { return uint(l.sequenceBits) }
func (l BitLayout) dataCenterShift() uint { return l.workerShift() + uint(l.workerBits) }
func (l BitLayout) timestampShift() uint  { return l.dataCenterShift() + uint(l.dataCenterBits) }

func maxValue(bits uint8) int64 {
	return int64(1)<<bits - 1
}

// field extracts a bits-wide field at offset from value
func field(value int64, bits uint8, offset uint) int64 {
	mask := (int64(1)<<bits - 1) << offset
	return (value & mask) >> offset
}
