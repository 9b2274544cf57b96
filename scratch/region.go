// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package scratch

import (
	"fmt"
	"unsafe"
)

// Region is a scratch memory region holding elements of type T, backed by
// anonymous memory mappings that are allocated in multiples of the OS page
// size. T must not contain any pointers, as the garbage collector does not
// scan the mapped memory.
//
// A Region is not safe for concurrent use; it has a single owner.
type Region[T any] struct {
	mem []byte
}

// New returns a new Region with a capacity of at least minBytes, but never
// less than a single page.
func New[T any](minBytes int) *Region[T] {
	if elemSize[T]() == 0 {
		panic("scratch: zero-sized element type")
	}
	r := &Region[T]{}
	if minBytes < pageSize {
		minBytes = pageSize
	}
	r.Ensure(minBytes)
	return r
}

// elemSize returns the size of T in bytes.
func elemSize[T any]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// Ensure grows the region to hold at least minBytes, rounded up to the next
// multiple of the page size. If the region already is large enough, Ensure is
// a no-op. Otherwise, the old contents are discarded without being copied and
// any slices obtained before become invalid. Ensure never shrinks a region.
//
// Failing to allocate memory is unrecoverable and thus panics.
func (r *Region[T]) Ensure(minBytes int) {
	if minBytes <= len(r.mem) {
		return
	}
	size := (minBytes + pageSize - 1) &^ (pageSize - 1)
	if r.mem != nil {
		unmap(r.mem)
		r.mem = nil
	}
	mem, err := mmap(size)
	if err != nil {
		panic(fmt.Sprintf("scratch: cannot allocate %d bytes: %s", size, err.Error()))
	}
	r.mem = mem
}

// EnsureLen grows the region to hold at least n elements of type T.
func (r *Region[T]) EnsureLen(n int) {
	r.Ensure(n * elemSize[T]())
}

// Cap returns the capacity of this region in bytes. It is always a multiple
// of the page size.
func (r *Region[T]) Cap() int {
	return len(r.mem)
}

// Len returns the number of elements of type T fitting into this region.
func (r *Region[T]) Len() int {
	return len(r.mem) / elemSize[T]()
}

// Slice returns a typed view onto the complete region. The view becomes
// invalid with the next Ensure that actually grows the region.
func (r *Region[T]) Slice() []T {
	n := r.Len()
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&r.mem[0])), n)
}

// Bytes returns the region's raw memory; it becomes invalid in the same way
// as Slice.
func (r *Region[T]) Bytes() []byte {
	return r.mem
}

// At returns a pointer to the element at index i. Indexing past the current
// capacity is a programming error and panics.
func (r *Region[T]) At(i int) *T {
	if i < 0 || i >= r.Len() {
		panic(fmt.Sprintf("scratch: index %d out of range [0:%d]", i, r.Len()))
	}
	return &r.Slice()[i]
}

// Release gives the region's memory back to the OS. The region must not be
// used afterwards, except for calling Release again.
func (r *Region[T]) Release() {
	if r.mem == nil {
		return
	}
	unmap(r.mem)
	r.mem = nil
}
