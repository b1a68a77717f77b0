package commands

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/hellhand/vkcompute/compute"
	"github.com/hellhand/vkcompute/driver"
)

// Element type names accepted on the command line.
const (
	typeU32  = "u32"
	typeI32  = "i32"
	typeF32  = "f32"
	typeVec4 = "vec4"
)

// parseGroups parses "x[,y[,z]]"; missing axes default to 1.
func parseGroups(s string) (compute.WorkGroups, error) {
	parts := strings.Split(s, ",")
	if len(parts) > 3 {
		return compute.WorkGroups{}, errors.Newf("groups %q: at most three axes", s)
	}
	dims := [3]uint32{1, 1, 1}
	for i, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return compute.WorkGroups{}, errors.Wrapf(err, "groups %q", s)
		}
		dims[i] = uint32(n)
	}
	return compute.WorkGroups{X: dims[0], Y: dims[1], Z: dims[2]}, nil
}

// parseScalar parses one u32, i32 or f32 value.
func parseScalar(typ, s string) (any, error) {
	s = strings.TrimSpace(s)
	switch typ {
	case typeU32:
		n, err := strconv.ParseUint(s, 0, 32)
		return uint32(n), err
	case typeI32:
		n, err := strconv.ParseInt(s, 0, 32)
		return int32(n), err
	case typeF32:
		f, err := strconv.ParseFloat(s, 32)
		return float32(f), err
	}
	return nil, errors.Newf("unknown scalar type %q", typ)
}

// parseSpecValue parses "type:value" for a specialization constant. Besides
// the scalar types it accepts bool.
func parseSpecValue(s string) (any, error) {
	typ, val, ok := strings.Cut(s, ":")
	if !ok {
		return nil, errors.Newf("specialization %q: want type:value", s)
	}
	if typ == "bool" {
		b, err := strconv.ParseBool(val)
		return b, errors.Wrapf(err, "specialization %q", s)
	}
	v, err := parseScalar(typ, val)
	if err != nil {
		return nil, errors.Wrapf(err, "specialization %q", s)
	}
	return v, nil
}

// parseConstants parses "type:value,type:value,..." into a push-constant
// blob of consecutive 4-byte values.
func parseConstants(s string) ([]byte, error) {
	var blob []byte
	for _, field := range strings.Split(s, ",") {
		typ, val, ok := strings.Cut(strings.TrimSpace(field), ":")
		if !ok {
			return nil, errors.Newf("constant %q: want type:value", field)
		}
		v, err := parseScalar(typ, val)
		if err != nil {
			return nil, errors.Wrapf(err, "constant %q", field)
		}
		switch v := v.(type) {
		case uint32:
			blob = binary.NativeEndian.AppendUint32(blob, v)
		case int32:
			blob = binary.NativeEndian.AppendUint32(blob, uint32(v))
		case float32:
			blob = binary.NativeEndian.AppendUint32(blob, math.Float32bits(v))
		}
	}
	return blob, nil
}

// bufferSpec is a parsed --buffer flag: either "type:count" for a zeroed
// buffer or "type=v1,v2,..." for one filled with values.
type bufferSpec struct {
	elem   string
	count  int
	values []string
}

func parseBufferSpec(s string) (bufferSpec, error) {
	if typ, list, ok := strings.Cut(s, "="); ok {
		values := strings.Split(list, ",")
		count := len(values)
		if typ == typeVec4 {
			if count%4 != 0 {
				return bufferSpec{}, errors.Newf("buffer %q: vec4 needs a multiple of 4 values", s)
			}
			count /= 4
		}
		return bufferSpec{elem: typ, count: count, values: values}, nil
	}
	typ, n, ok := strings.Cut(s, ":")
	if !ok {
		return bufferSpec{}, errors.Newf("buffer %q: want type:count or type=values", s)
	}
	count, err := strconv.Atoi(n)
	if err != nil || count <= 0 {
		return bufferSpec{}, errors.Newf("buffer %q: bad count", s)
	}
	return bufferSpec{elem: typ, count: count}, nil
}

// hostBuffer is a typed device buffer created from the command line.
type hostBuffer interface {
	compute.Binding
	Release()
	print(w io.Writer, index int)
}

type typedBuffer[T any] struct {
	*compute.Buffer[T]
	elem string
}

func (b typedBuffer[T]) print(w io.Writer, index int) {
	fmt.Fprintf(w, "buffer %d (%s x %d): %v\n", index, b.elem, b.Len(), b.Store())
}

func newTyped[T any](dev driver.Device, spec bufferSpec, values []T) (hostBuffer, error) {
	buf, err := compute.NewBuffer[T](dev, spec.count)
	if err != nil {
		return nil, err
	}
	if len(values) > 0 {
		if err := buf.Load(values); err != nil {
			buf.Release()
			return nil, err
		}
	}
	return typedBuffer[T]{Buffer: buf, elem: spec.elem}, nil
}

func parseValues[T any](spec bufferSpec, conv func(any) T) ([]T, error) {
	out := make([]T, 0, len(spec.values))
	for _, s := range spec.values {
		v, err := parseScalar(spec.elem, s)
		if err != nil {
			return nil, errors.Wrapf(err, "buffer value %q", s)
		}
		out = append(out, conv(v))
	}
	return out, nil
}

func newHostBuffer(dev driver.Device, spec bufferSpec) (hostBuffer, error) {
	switch spec.elem {
	case typeU32:
		vals, err := parseValues(spec, func(v any) uint32 { return v.(uint32) })
		if err != nil {
			return nil, err
		}
		return newTyped(dev, spec, vals)
	case typeI32:
		vals, err := parseValues(spec, func(v any) int32 { return v.(int32) })
		if err != nil {
			return nil, err
		}
		return newTyped(dev, spec, vals)
	case typeF32:
		vals, err := parseValues(spec, func(v any) float32 { return v.(float32) })
		if err != nil {
			return nil, err
		}
		return newTyped(dev, spec, vals)
	case typeVec4:
		flat, err := parseValues(bufferSpec{elem: typeF32, values: spec.values}, func(v any) float32 { return v.(float32) })
		if err != nil {
			return nil, err
		}
		vals := make([]mgl32.Vec4, len(flat)/4)
		for i := range vals {
			vals[i] = mgl32.Vec4{flat[4*i], flat[4*i+1], flat[4*i+2], flat[4*i+3]}
		}
		return newTyped(dev, spec, vals)
	}
	return nil, errors.Newf("unknown buffer element type %q", spec.elem)
}
