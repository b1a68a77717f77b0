package vkdriver

/*
#include <stdlib.h>
*/
import "C"

import (
	"unsafe"
)

// cAlloc allocates size bytes of zeroed C memory so the driver never writes
// into Go-managed memory.
func cAlloc(size uintptr) (unsafe.Pointer, func()) {
	p := C.calloc(C.size_t(1), C.size_t(size))
	if p == nil {
		return nil, func() {}
	}
	return p, func() { C.free(p) }
}

// cBytes copies b into C memory. A nil pointer is returned for empty input.
func cBytes(b []byte) (unsafe.Pointer, func()) {
	if len(b) == 0 {
		return nil, func() {}
	}
	p := C.CBytes(b)
	return p, func() { C.free(p) }
}

// hostBytes views n bytes of mapped device memory.
func hostBytes(p unsafe.Pointer, n uint64) []byte {
	if p == nil || n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(p), n)
}

func safeString(s string) string {
	if len(s) == 0 || s[len(s)-1] != 0 {
		return s + "\x00"
	}
	return s
}

func safeStrings(list []string) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = safeString(s)
	}
	return out
}
