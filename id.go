package gflake

import (
	"bytes"
	"database/sql/driver"
	"fmt"
	"strconv"
	"time"
)

// ID is a 63-bit Snowflake identifier together with the BitLayout used to
// interpret it. IDs are immutable values.
type ID struct {
	value  int64
	layout BitLayout
}

// Components holds the decoded fields of an ID
type Components struct {
	Timestamp  int64 `json:"timestamp"`
	DataCenter int64 `json:"data_center"`
	Worker     int64 `json:"worker"`
	Sequence   int64 `json:"sequence"`
}

// Encode packs the four fields into an ID. Every field must be non-negative
// and no larger than its layout maximum.
func Encode(layout BitLayout, timestamp, dataCenter, worker, sequence int64) (ID, error) {
	if layout.IsZero() {
		return ID{}, fmt.Errorf("%w: bit layout must be provided", ErrConfiguration)
	}
	fields := []struct {
		name  string
		value int64
		max   int64
	}{
		{"timestamp", timestamp, layout.MaxTimestamp()},
		{"data center", dataCenter, layout.MaxDataCenter()},
		{"worker", worker, layout.MaxWorker()},
		{"sequence", sequence, layout.MaxSequence()},
	}
	for _, f := range fields {
		if f.value < 0 || f.value > f.max {
			return ID{}, fmt.Errorf("%w: %s %d out of range [0, %d]", ErrConfiguration, f.name, f.value, f.max)
		}
	}

	value := timestamp<<layout.timestampShift() |
		dataCenter<<layout.dataCenterShift() |
		worker<<layout.workerShift() |
		sequence
	return ID{value: value, layout: layout}, nil
}

// Decode reconstructs an ID from its raw value. raw must be non-negative.
func Decode(raw int64, layout BitLayout) (ID, error) {
	if layout.IsZero() {
		return ID{}, fmt.Errorf("%w: bit layout must be provided", ErrConfiguration)
	}
	if raw < 0 {
		return ID{}, fmt.Errorf("%w: negative value %d", ErrInvalidFormat, raw)
	}
	return ID{value: raw, layout: layout}, nil
}

// MustDecode is like Decode but panics on error
func MustDecode(raw int64, layout BitLayout) ID {
	id, err := Decode(raw, layout)
	if err != nil {
		panic(err)
	}
	return id
}

// Int64 returns the raw value of the ID
func (id ID) Int64() int64 { return id.value }

// Layout returns the layout the ID is interpreted with
func (id ID) Layout() BitLayout { return id.layout }

// Timestamp returns the tick the ID was issued at
func (id ID) Timestamp() int64 {
	return field(id.value, id.layout.timestampBits, id.layout.timestampShift())
}

// DataCenter returns the data center field
func (id ID) DataCenter() int64 {
	return field(id.value, id.layout.dataCenterBits, id.layout.dataCenterShift())
}

// Worker returns the worker field
func (id ID) Worker() int64 {
	return field(id.value, id.layout.workerBits, id.layout.workerShift())
}

// Sequence returns the sequence field
func (id ID) Sequence() int64 {
	return field(id.value, id.layout.sequenceBits, 0)
}

// Components returns all decoded fields
func (id ID) Components() Components {
	return Components{
		Timestamp:  id.Timestamp(),
		DataCenter: id.DataCenter(),
		Worker:     id.Worker(),
		Sequence:   id.Sequence(),
	}
}

// Time converts the timestamp field back to wall-clock time using the epoch
// and tick duration of ts
func (id ID) Time(ts TimeSource) time.Time {
	return ts.Epoch().Add(time.Duration(id.Timestamp()) * ts.TickDuration())
}

// IsZero returns true for the zero ID
func (id ID) IsZero() bool {
	return id == ID{}
}

// String returns the decimal form of the raw value
func (id ID) String() string {
	return strconv.FormatInt(id.value, 10)
}

// Compare returns -1, 0 or +1 depending on whether id is less than, equal to,
// or greater than other. Only raw values are compared.
func (id ID) Compare(other ID) int {
	switch {
	case id.value < other.value:
		return -1
	case id.value > other.value:
		return 1
	default:
		return 0
	}
}

// Equal returns true if id and other have the same raw value and layout
func (id ID) Equal(other ID) bool {
	return id == other
}

// decodingLayout is the layout used when unmarshaling into id
func (id ID) decodingLayout() BitLayout {
	if id.layout.IsZero() {
		return DefaultLayout
	}
	return id.layout
}

// MarshalText implements the encoding.TextMarshaler interface
func (id ID) MarshalText() ([]byte, error) {
	return strconv.AppendInt(nil, id.value, 10), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface. The
// receiver's layout is kept, or DefaultLayout is used if it has none.
func (id *ID) UnmarshalText(data []byte) error {
	parsed, err := Parse(string(data), id.decodingLayout())
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// MarshalJSON encodes the ID as a quoted decimal string, so that JavaScript
// clients do not lose precision
func (id ID) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, 22)
	buf = append(buf, '"')
	buf = strconv.AppendInt(buf, id.value, 10)
	buf = append(buf, '"')
	return buf, nil
}

// UnmarshalJSON accepts a quoted decimal string or a bare number
func (id *ID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	data = bytes.TrimPrefix(data, []byte{'"'})
	data = bytes.TrimSuffix(data, []byte{'"'})
	return id.UnmarshalText(data)
}

// Scan implements the sql.Scanner interface for database compatibility
func (id *ID) Scan(src interface{}) error {
	switch src := src.(type) {
	case nil:
		return nil
	case int64:
		parsed, err := Decode(src, id.decodingLayout())
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	case string:
		return id.UnmarshalText([]byte(src))
	case []byte:
		if len(src) == 0 {
			return nil
		}
		return id.UnmarshalText(src)
	default:
		return fmt.Errorf("gflake: cannot scan type %T into ID", src)
	}
}

// Value implements the driver.Valuer interface for database compatibility
func (id ID) Value() (driver.Value, error) {
	return id.value, nil
}

// Parse parses the decimal form of an ID
func Parse(s string, layout BitLayout) (ID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	return Decode(v, layout)
}

// MustParse is like Parse but panics if the string cannot be parsed.
// It simplifies safe initialization of global variables.
func MustParse(s string, layout BitLayout) ID {
	id, err := Parse(s, layout)
	if err != nil {
		panic(fmt.Sprintf("gflake: Parse(%q): %v", s, err))
	}
	return id
}
