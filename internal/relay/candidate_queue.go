package relay

// CandidateQueue is a fixed-capacity FIFO of candidates that arrived before
// their relay could apply them. When full, the oldest entry is dropped.
// It is not safe for concurrent use.
type CandidateQueue struct {
	data     []Candidate
	capacity int
	size     int
	head     int // next write position
	tail     int // oldest element
}

// NewCandidateQueue returns a queue holding at most capacity candidates.
// A capacity below one is raised to one.
func NewCandidateQueue(capacity int) *CandidateQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &CandidateQueue{
		data:     make([]Candidate, capacity),
		capacity: capacity,
	}
}

// Push appends c and reports whether an older candidate was evicted.
func (q *CandidateQueue) Push(c Candidate) (dropped bool) {
	q.data[q.head] = c
	q.head = (q.head + 1) % q.capacity

	if q.size < q.capacity {
		q.size++
		return false
	}
	q.tail = (q.tail + 1) % q.capacity
	return true
}

// Drain returns the queued candidates oldest first and empties the queue.
func (q *CandidateQueue) Drain() []Candidate {
	if q.size == 0 {
		return nil
	}
	out := make([]Candidate, q.size)
	for i := 0; i < q.size; i++ {
		out[i] = q.data[(q.tail+i)%q.capacity]
		q.data[(q.tail+i)%q.capacity] = Candidate{}
	}
	q.size, q.head, q.tail = 0, 0, 0
	return out
}

// Len returns the number of queued candidates.
func (q *CandidateQueue) Len() int { return q.size }
