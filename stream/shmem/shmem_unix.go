//go:build unix

package shmem

import (
	"errors"

	"golang.org/x/sys/unix"
)

func mapShared(size int) ([]byte, func([]byte) error, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, nil, err
	}
	return mem, munmap, nil
}

func munmap(mem []byte) error {
	err := unix.Munmap(mem)
	if errors.Is(err, unix.EINVAL) {
		// Treat double-unmap as no-op for callers.
		return nil
	}
	return err
}
