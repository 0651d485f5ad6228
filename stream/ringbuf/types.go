package ringbuf

// TokenWaiter answers token progress queries for a ring. The command stream
// helper implements it.
type TokenWaiter interface {
	// HasTokenPassed reports, without blocking, whether the service has read
	// past token.
	HasTokenPassed(token int32) bool

	// WaitForToken blocks until the service has read past token.
	WaitForToken(token int32) error
}

// State is a block's lifecycle state.
type State uint8

const (
	InUse State = iota
	Padding
	FreePendingToken
)

func (s State) String() string {
	switch s {
	case InUse:
		return "in_use"
	case Padding:
		return "padding"
	case FreePendingToken:
		return "free_pending_token"
	default:
		return "unknown"
	}
}

// Block is one entry of the ring's FIFO. Offset is relative to the start of
// the ring, not to the enclosing region.
type Block struct {
	Offset uint32
	Size   uint32
	Token  int32
	State  State
}

// blockQueue is a FIFO of blocks. The head lives at items[head].
type blockQueue struct {
	items []Block
	head  int
}

func (q *blockQueue) len() int { return len(q.items) - q.head }

func (q *blockQueue) empty() bool { return q.len() == 0 }

func (q *blockQueue) front() *Block { return &q.items[q.head] }

func (q *blockQueue) back() *Block { return &q.items[len(q.items)-1] }

// at returns the i-th block counted from the head.
func (q *blockQueue) at(i int) *Block { return &q.items[q.head+i] }

func (q *blockQueue) pushBack(b Block) {
	if q.head > 0 && len(q.items) == cap(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	q.items = append(q.items, b)
}

func (q *blockQueue) popFront() {
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
}

func (q *blockQueue) popBack() {
	q.items = q.items[:len(q.items)-1]
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
}

func (q *blockQueue) reset() {
	q.items = q.items[:0]
	q.head = 0
}
