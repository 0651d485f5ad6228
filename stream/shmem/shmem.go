// Package shmem provides the shared regions backing command rings and
// transfer buffers.
//
// On unix platforms a region is an anonymous MAP_SHARED mapping, so it is
// visible to a forked service process and page-aligned. Elsewhere a region
// falls back to ordinary heap memory, which is enough for in-process services.
package shmem

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidSize indicates a non-positive region size.
var ErrInvalidSize = errors.New("shmem: region size must be positive")

// Region is one mapped shared region.
type Region struct {
	mem   []byte
	unmap func([]byte) error
	once  sync.Once
	err   error
}

// New maps a zero-filled shared region of size bytes.
func New(size int) (*Region, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	mem, unmap, err := mapShared(size)
	if err != nil {
		return nil, fmt.Errorf("shmem: map %d bytes: %w", size, err)
	}
	return &Region{mem: mem, unmap: unmap}, nil
}

// Bytes returns the region's memory. It is nil after Close.
func (r *Region) Bytes() []byte {
	return r.mem
}

// Len returns the region size in bytes.
func (r *Region) Len() int {
	return len(r.mem)
}

// Close releases the mapping. Calling Close more than once is a no-op.
func (r *Region) Close() error {
	r.once.Do(func() {
		mem := r.mem
		r.mem = nil
		if r.unmap != nil && mem != nil {
			r.err = r.unmap(mem)
		}
	})
	return r.err
}
