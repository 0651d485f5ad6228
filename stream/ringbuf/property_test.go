package ringbuf

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestProperty_RandomAllocFree drives random allocation and release orders
// (including releases that are not in allocation order) and checks bounds,
// alignment and non-overlap after every step.
func TestProperty_RandomAllocFree(t *testing.T) {
	const (
		alignment = 8
		base      = 32
		size      = 4096
		steps     = 5000
	)

	rng := rand.New(rand.NewSource(1))
	rb, w := newTestRing(t, alignment, base, size)

	type live struct {
		off  uint32
		size uint32
	}
	var held []live
	var token int32

	for step := 0; step < steps; step++ {
		switch op := rng.Intn(10); {
		case op < 5 || len(held) == 0:
			n := uint32(rng.Intn(size / 4))
			off, buf, err := rb.Alloc(n)
			if errors.Is(err, ErrBlockInUse) {
				// Held blocks at the head stop retirement; that is the only
				// acceptable failure.
				require.Equal(t, InUse, rb.Blocks()[0].State)
				continue
			}
			require.NoError(t, err, "step %d alloc %d", step, n)
			require.Zero(t, (off-base)%alignment)
			require.True(t, off >= base && off-base+n <= size, "step %d: [%d,+%d) outside ring", step, off, n)
			require.Len(t, buf, int(n))
			held = append(held, live{off, n})
		case op < 9:
			// Release a random held block, usually the oldest.
			i := 0
			if rng.Intn(4) == 0 {
				i = rng.Intn(len(held))
			}
			token++
			require.NoError(t, rb.FreePendingToken(held[i].off, token))
			held = append(held[:i], held[i+1:]...)
		default:
			// The service catches up.
			w.lastRead = token
		}
		checkBlocks(t, rb)
	}

	for _, h := range held {
		token++
		require.NoError(t, rb.FreePendingToken(h.off, token))
	}
	require.NoError(t, rb.Close())
}
