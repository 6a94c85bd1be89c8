package gflake

import (
	"errors"
	"testing"
)

func TestNewBitLayout(t *testing.T) {
	tests := []struct {
		name                            string
		timestamp, dc, worker, sequence int
		wantErr                         bool
	}{
		{"default", 41, 4, 6, 12, false},
		{"no data center or worker bits", 51, 0, 0, 12, false},
		{"one sequence bit", 1, 30, 31, 1, false},
		{"sum 62", 41, 4, 6, 11, true},
		{"sum 64", 41, 4, 6, 13, true},
		{"zero timestamp bits", 0, 25, 26, 12, true},
		{"zero sequence bits", 41, 10, 12, 0, true},
		{"negative data center bits", 41, -1, 11, 12, true},
		{"negative worker bits", 41, 11, -1, 12, true},
		{"timestamp bits 63", 63, 0, 0, 0, true},
		{"sequence bits 62", 1, 0, 0, 62, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewBitLayout(tt.timestamp, tt.dc, tt.worker, tt.sequence)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewBitLayout() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrConfiguration) {
					t.Errorf("NewBitLayout() error = %v, want ErrConfiguration", err)
				}
				if !l.IsZero() {
					t.Errorf("NewBitLayout() returned non-zero layout %v on error", l)
				}
				return
			}
			if l.TimestampBits() != tt.timestamp || l.DataCenterBits() != tt.dc ||
				l.WorkerBits() != tt.worker || l.SequenceBits() != tt.sequence {
				t.Errorf("NewBitLayout() = %v, want %d/%d/%d/%d", l, tt.timestamp, tt.dc, tt.worker, tt.sequence)
			}
		})
	}
}

func TestBitLayout_Max(t *testing.T) {
	l := DefaultLayout
	if got := l.MaxTimestamp(); got != 1<<41-1 {
		t.Errorf("MaxTimestamp() = %d, want %d", got, int64(1<<41-1))
	}
	if got := l.MaxDataCenter(); got != 15 {
		t.Errorf("MaxDataCenter() = %d, want 15", got)
	}
	if got := l.MaxWorker(); got != 63 {
		t.Errorf("MaxWorker() = %d, want 63", got)
	}
	if got := l.MaxSequence(); got != 4095 {
		t.Errorf("MaxSequence() = %d, want 4095", got)
	}

	empty := MustBitLayout(51, 0, 0, 12)
	if empty.MaxDataCenter() != 0 || empty.MaxWorker() != 0 {
		t.Errorf("zero-width fields should have max 0, got %d and %d", empty.MaxDataCenter(), empty.MaxWorker())
	}
}

func TestBitLayout_DefaultMatchesConstructor(t *testing.T) {
	l := MustBitLayout(DefaultTimestampBits, DefaultDataCenterBits, DefaultWorkerBits, DefaultSequenceBits)
	if l != DefaultLayout {
		t.Errorf("DefaultLayout = %v, want %v", DefaultLayout, l)
	}
	if got := DefaultLayout.String(); got != "41/4/6/12" {
		t.Errorf("String() = %q, want %q", got, "41/4/6/12")
	}
}

func TestMustBitLayout_Panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustBitLayout() did not panic on invalid layout")
		}
	}()
	MustBitLayout(41, 4, 6, 11)
}

func TestBitLayout_Shifts(t *testing.T) {
	l := DefaultLayout
	if l.workerShift() != 12 || l.dataCenterShift() != 18 || l.timestampShift() != 22 {
		t.Errorf("shifts = %d/%d/%d, want 22/18/12", l.timestampShift(), l.dataCenterShift(), l.workerShift())
	}
}
