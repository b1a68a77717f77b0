package compute

import (
	"bytes"
	"encoding/binary"
	"math"
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/hellhand/vkcompute/driver"
)

// Specialization is an ordered tuple of specialization constant values,
// packed into the byte layout the driver expects. Constant i gets id i.
// The zero value is the empty tuple.
type Specialization struct {
	entries []driver.SpecializationEntry
	data    []byte
}

// NewSpecialization packs values in order with natural alignment. Supported
// types are uint32, int32, float32, bool (4 bytes), uint64, int64 and float64.
func NewSpecialization(values ...any) (Specialization, error) {
	var s Specialization
	for i, v := range values {
		var word [8]byte
		var size uint32
		switch x := v.(type) {
		case uint32:
			binary.NativeEndian.PutUint32(word[:], x)
			size = 4
		case int32:
			binary.NativeEndian.PutUint32(word[:], uint32(x))
			size = 4
		case float32:
			binary.NativeEndian.PutUint32(word[:], math.Float32bits(x))
			size = 4
		case bool:
			if x {
				binary.NativeEndian.PutUint32(word[:], 1)
			}
			size = 4
		case uint64:
			binary.NativeEndian.PutUint64(word[:], x)
			size = 8
		case int64:
			binary.NativeEndian.PutUint64(word[:], uint64(x))
			size = 8
		case float64:
			binary.NativeEndian.PutUint64(word[:], math.Float64bits(x))
			size = 8
		default:
			return Specialization{}, errors.Wrapf(ErrInvalidArgument, "specialization value %d has unsupported type %T", i, v)
		}
		offset := alignUp(uint32(len(s.data)), size)
		s.data = append(s.data, make([]byte, int(offset)-len(s.data))...)
		s.data = append(s.data, word[:size]...)
		s.entries = append(s.entries, driver.SpecializationEntry{
			ConstantID: uint32(i),
			Offset:     offset,
			Size:       size,
		})
	}
	return s, nil
}

func alignUp(v, align uint32) uint32 {
	return (v + align - 1) &^ (align - 1)
}

// Len returns the number of constants.
func (s Specialization) Len() int { return len(s.entries) }

// Entries returns a copy of the constant table.
func (s Specialization) Entries() []driver.SpecializationEntry {
	return slices.Clone(s.entries)
}

// Data returns a copy of the packed constant values.
func (s Specialization) Data() []byte {
	return slices.Clone(s.data)
}

// Equal reports whether both tuples have the same layout and bytes, so
// values that differ only in signedness compare equal.
func (s Specialization) Equal(o Specialization) bool {
	return slices.Equal(s.entries, o.entries) && bytes.Equal(s.data, o.data)
}
