package vkdriver

import (
	"unsafe"

	"github.com/hellhand/vkcompute/driver"
)

// handleTable maps opaque driver handles to native objects of one kind.
type handleTable[T any] struct {
	kind    string
	objects map[driver.Handle]T
}

func newHandleTable[T any](kind string) *handleTable[T] {
	return &handleTable[T]{kind: kind, objects: make(map[driver.Handle]T)}
}

func (t *handleTable[T]) insert(h driver.Handle, v T) {
	t.objects[h] = v
}

func (t *handleTable[T]) lookup(h driver.Handle) (T, bool) {
	v, ok := t.objects[h]
	return v, ok
}

func (t *handleTable[T]) remove(h driver.Handle) (T, bool) {
	v, ok := t.objects[h]
	if ok {
		delete(t.objects, h)
	}
	return v, ok
}

func (t *handleTable[T]) len() int { return len(t.objects) }

// cOut allocates C memory for a single output handle of type T.
func cOut[T any]() (*T, func()) {
	var zero T
	p, free := cAlloc(unsafe.Sizeof(zero))
	return (*T)(p), free
}
