package compute

import (
	"encoding/binary"
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/hellhand/vkcompute/driver"
)

func TestNewSpecializationLayout(t *testing.T) {
	spec, err := NewSpecialization(float32(1.5), uint32(7), true, float64(2), int32(-1))
	if err != nil {
		t.Fatalf("NewSpecialization: %v", err)
	}
	wantEntries := []driver.SpecializationEntry{
		{ConstantID: 0, Offset: 0, Size: 4},
		{ConstantID: 1, Offset: 4, Size: 4},
		{ConstantID: 2, Offset: 8, Size: 4},
		{ConstantID: 3, Offset: 16, Size: 8},
		{ConstantID: 4, Offset: 24, Size: 4},
	}
	if got := spec.Entries(); !slices.Equal(got, wantEntries) {
		t.Errorf("Entries() = %+v, want %+v", got, wantEntries)
	}

	data := spec.Data()
	if len(data) != 28 {
		t.Fatalf("len(Data()) = %d, want 28", len(data))
	}
	ne := binary.NativeEndian
	if got := math.Float32frombits(ne.Uint32(data[0:])); got != 1.5 {
		t.Errorf("constant 0 = %v, want 1.5", got)
	}
	if got := ne.Uint32(data[4:]); got != 7 {
		t.Errorf("constant 1 = %d, want 7", got)
	}
	if got := ne.Uint32(data[8:]); got != 1 {
		t.Errorf("constant 2 = %d, want 1", got)
	}
	if got := math.Float64frombits(ne.Uint64(data[16:])); got != 2 {
		t.Errorf("constant 3 = %v, want 2", got)
	}
	if got := int32(ne.Uint32(data[24:])); got != -1 {
		t.Errorf("constant 4 = %d, want -1", got)
	}
}

func TestSpecializationEqual(t *testing.T) {
	mustSpec := func(values ...any) Specialization {
		t.Helper()
		s, err := NewSpecialization(values...)
		if err != nil {
			t.Fatalf("NewSpecialization(%v): %v", values, err)
		}
		return s
	}

	tests := []struct {
		name string
		a, b Specialization
		want bool
	}{
		{"empty", Specialization{}, mustSpec(), true},
		{"same values", mustSpec(uint32(4), uint32(4), uint32(1)), mustSpec(uint32(4), uint32(4), uint32(1)), true},
		{"different value", mustSpec(uint32(4), uint32(4), uint32(1)), mustSpec(uint32(8), uint32(4), uint32(1)), false},
		{"different arity", mustSpec(uint32(4)), mustSpec(uint32(4), uint32(0)), false},
		{"different width", mustSpec(uint32(1)), mustSpec(uint64(1)), false},
		{"false and zero", mustSpec(false), mustSpec(uint32(0)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewSpecializationUnsupported(t *testing.T) {
	for _, v := range []any{1, "x", []uint32{1}, uint8(1), nil} {
		if _, err := NewSpecialization(v); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("NewSpecialization(%#v) error = %v, want ErrInvalidArgument", v, err)
		}
	}
}

func TestSpecializationCopies(t *testing.T) {
	spec, err := NewSpecialization(uint32(3))
	if err != nil {
		t.Fatal(err)
	}
	spec.Data()[0] = 0xff
	spec.Entries()[0].Size = 99
	if spec.Data()[0] == 0xff || spec.Entries()[0].Size != 4 {
		t.Error("accessors exposed internal state")
	}
}
