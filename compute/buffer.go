package compute

import (
	"reflect"
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/hellhand/vkcompute/driver"
)

// Binding is a device resource that can be attached to a kernel binding slot.
type Binding interface {
	DescriptorInfo() driver.BufferRange
	Kind() driver.BindingKind
}

// BufferOption configures NewBuffer and NewBufferFrom.
type BufferOption func(*bufferConfig)

type bufferConfig struct {
	kind driver.BindingKind
}

// AsUniform binds the buffer as a uniform buffer instead of a storage buffer.
// DefaultPoolLimits reserves no uniform descriptors, so a program binding
// uniform buffers needs WithPoolLimits or pool.uniform_buffers in the config.
func AsUniform() BufferOption {
	return func(c *bufferConfig) { c.kind = driver.UniformBuffer }
}

// Buffer is a fixed-capacity device buffer of count elements of type T. Its
// memory stays mapped into host address space until Release.
type Buffer[T any] struct {
	dev    driver.Device
	handle driver.Buffer
	kind   driver.BindingKind
	count  int
	elem   uint64
	mapped []byte
}

var _ Binding = (*Buffer[float32])(nil)

// NewBuffer creates a host-visible buffer holding count elements of T. T must
// be a fixed-size plain data type.
func NewBuffer[T any](dev driver.Device, count int, opts ...BufferOption) (*Buffer[T], error) {
	cfg := bufferConfig{kind: driver.StorageBuffer}
	for _, opt := range opts {
		opt(&cfg)
	}
	if count <= 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "buffer element count %d", count)
	}
	elemType := reflect.TypeFor[T]()
	if err := checkPlainData(elemType); err != nil {
		return nil, errors.Wrapf(ErrInvalidArgument, "buffer element type %s: %v", elemType, err)
	}
	elem := uint64(elemType.Size())
	if elem == 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "buffer element type %s has zero size", elemType)
	}

	size := elem * uint64(count)
	handle, err := dev.CreateBuffer(size, cfg.kind, true)
	if err != nil {
		return nil, errors.Wrap(err, "create buffer")
	}
	mapped, err := dev.MapBuffer(handle)
	if err != nil {
		dev.DestroyBuffer(handle)
		return nil, errors.Wrap(err, "map buffer")
	}
	return &Buffer[T]{
		dev:    dev,
		handle: handle,
		kind:   cfg.kind,
		count:  count,
		elem:   elem,
		mapped: mapped[:size:size],
	}, nil
}

// NewBufferFrom creates a buffer sized to data and loads it.
func NewBufferFrom[T any](dev driver.Device, data []T, opts ...BufferOption) (*Buffer[T], error) {
	b, err := NewBuffer[T](dev, len(data), opts...)
	if err != nil {
		return nil, err
	}
	if err := b.Load(data); err != nil {
		b.Release()
		return nil, err
	}
	return b, nil
}

// Len returns the element capacity.
func (b *Buffer[T]) Len() int { return b.count }

// SizeBytes returns the capacity in bytes.
func (b *Buffer[T]) SizeBytes() uint64 { return b.elem * uint64(b.count) }

func (b *Buffer[T]) Kind() driver.BindingKind { return b.kind }

// Handle returns the driver handle, or zero after Release.
func (b *Buffer[T]) Handle() driver.Buffer { return b.handle }

// Load copies data into the start of the buffer. Data larger than the buffer
// fails with *CapacityError and leaves the contents unchanged.
func (b *Buffer[T]) Load(data []T) error {
	if b.mapped == nil {
		return ErrReleased
	}
	n := b.elem * uint64(len(data))
	if n > b.SizeBytes() {
		return &CapacityError{Requested: n, Capacity: b.SizeBytes()}
	}
	if n == 0 {
		return nil
	}
	copy(b.mapped, unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), n))
	return nil
}

// LoadPointer copies SizeBytes bytes from src. The caller guarantees that
// many bytes are readable.
func (b *Buffer[T]) LoadPointer(src unsafe.Pointer) error {
	if b.mapped == nil {
		return ErrReleased
	}
	if src == nil {
		return errors.Wrap(ErrInvalidArgument, "nil source pointer")
	}
	copy(b.mapped, unsafe.Slice((*byte)(src), b.SizeBytes()))
	return nil
}

// Store returns a fresh copy of every element in the buffer. It returns nil
// after Release.
func (b *Buffer[T]) Store() []T {
	if b.mapped == nil {
		return nil
	}
	out := make([]T, b.count)
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&out[0])), b.SizeBytes()), b.mapped)
	return out
}

// DescriptorInfo returns the range written into a binding set for this buffer.
func (b *Buffer[T]) DescriptorInfo() driver.BufferRange {
	return driver.BufferRange{Buffer: b.handle, Offset: 0, Size: b.SizeBytes()}
}

// Release unmaps the buffer and frees its memory and handle. It is safe to
// call more than once.
func (b *Buffer[T]) Release() {
	if b.handle == 0 {
		return
	}
	b.dev.UnmapBuffer(b.handle)
	b.dev.DestroyBuffer(b.handle)
	b.handle = 0
	b.mapped = nil
}

// checkPlainData rejects types whose memory is not a flat, fixed-size run of
// bytes that can be copied to the device.
func checkPlainData(t reflect.Type) error {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return nil
	case reflect.Array:
		return checkPlainData(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if err := checkPlainData(t.Field(i).Type); err != nil {
				return errors.Wrapf(err, "field %s", t.Field(i).Name)
			}
		}
		return nil
	default:
		return errors.Newf("kind %s is not plain data", t.Kind())
	}
}
