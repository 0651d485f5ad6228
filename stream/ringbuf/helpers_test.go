package ringbuf

import (
	"testing"
)

// fakeWaiter is a TokenWaiter whose service "reads" a token the moment it is
// waited on.
type fakeWaiter struct {
	lastRead int32
	waits    []int32
	err      error
}

func (f *fakeWaiter) HasTokenPassed(token int32) bool {
	return token <= f.lastRead
}

func (f *fakeWaiter) WaitForToken(token int32) error {
	f.waits = append(f.waits, token)
	if f.err != nil {
		return f.err
	}
	if token > f.lastRead {
		f.lastRead = token
	}
	return nil
}

// newTestRing creates a ring with backing memory and a fake waiter.
func newTestRing(t testing.TB, alignment, baseOffset, size uint32) (*RingBuffer, *fakeWaiter) {
	t.Helper()
	w := &fakeWaiter{}
	rb, err := New(alignment, baseOffset, size, w, make([]byte, size))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return rb, w
}

// checkBlocks verifies that live blocks stay inside the ring and never
// overlap each other.
func checkBlocks(t testing.TB, rb *RingBuffer) {
	t.Helper()
	blocks := rb.Blocks()
	for i, a := range blocks {
		if a.Size == 0 || a.Offset+a.Size > rb.Size() {
			t.Fatalf("block %d out of bounds: %+v (ring size %d)", i, a, rb.Size())
		}
		for j := i + 1; j < len(blocks); j++ {
			b := blocks[j]
			if a.Offset < b.Offset+b.Size && b.Offset < a.Offset+a.Size {
				t.Fatalf("blocks %d and %d overlap: %+v %+v", i, j, a, b)
			}
		}
	}
}
