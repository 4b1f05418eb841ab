// Package strict implements the highest-priority tier of the composite
// dispatcher: a priority -> client -> FIFO mapping drained highest-priority
// first, round-robining across clients within a priority bucket. Items
// here bypass all fairness machinery and carry no cost.
package strict

// bucket holds one priority level's per-client FIFOs plus a round-robin
// cursor. The cursor is an index into order; order only ever grows
// (new clients are appended, removed items leave their client in place),
// so the index stays valid as clients come and go (spec.md §9).
type bucket[T any, K comparable] struct {
	order  []K // client insertion order within this priority
	fifos  map[K][]T
	cursor int // index into order of the next client to serve
}

func newBucket[T any, K comparable]() *bucket[T, K] {
	return &bucket[T, K]{fifos: make(map[K][]T)}
}

func (b *bucket[T, K]) empty() bool {
	for _, k := range b.order {
		if len(b.fifos[k]) > 0 {
			return false
		}
	}
	return true
}

// Queue is the strict-priority tier, generic over item type T and client id
// K, with priority expressed as an unsigned integer (higher value == higher
// priority, drained first).
type Queue[T any, K comparable] struct {
	buckets map[uint]*bucket[T, K]
	prios   []uint // kept sorted ascending
	size    int
}

// New creates an empty strict-priority queue.
func New[T any, K comparable]() *Queue[T, K] {
	return &Queue[T, K]{buckets: make(map[uint]*bucket[T, K])}
}

func (q *Queue[T, K]) bucketFor(prio uint) *bucket[T, K] {
	b, ok := q.buckets[prio]
	if !ok {
		b = newBucket[T, K]()
		q.buckets[prio] = b
		q.insertPriority(prio)
	}
	return b
}

func (q *Queue[T, K]) insertPriority(prio uint) {
	i := 0
	for ; i < len(q.prios); i++ {
		if q.prios[i] > prio {
			break
		}
	}
	q.prios = append(q.prios, 0)
	copy(q.prios[i+1:], q.prios[i:])
	q.prios[i] = prio
}

func (b *bucket[T, K]) push(client K, item T, front bool) {
	if _, ok := b.fifos[client]; !ok {
		b.fifos[client] = nil
		b.order = append(b.order, client)
	}
	if front {
		b.fifos[client] = append([]T{item}, b.fifos[client]...)
	} else {
		b.fifos[client] = append(b.fifos[client], item)
	}
}

// Enqueue appends item to client's FIFO under priority prio.
func (q *Queue[T, K]) Enqueue(client K, prio uint, item T) {
	q.bucketFor(prio).push(client, item, false)
	q.size++
}

// EnqueueFront prepends item to client's FIFO under priority prio.
func (q *Queue[T, K]) EnqueueFront(client K, prio uint, item T) {
	q.bucketFor(prio).push(client, item, true)
	q.size++
}

// Empty reports whether every priority bucket is empty.
func (q *Queue[T, K]) Empty() bool { return q.size == 0 }

// Len returns the total number of queued items.
func (q *Queue[T, K]) Len() int { return q.size }

// Dequeue pops the front item of the highest-priority non-empty bucket,
// round-robining across clients within that bucket. Buckets are consulted
// from the largest priority value down to the smallest. Panics if empty.
func (q *Queue[T, K]) Dequeue() T {
	if q.size == 0 {
		panic("strict: dequeue on empty queue")
	}
	for i := len(q.prios) - 1; i >= 0; i-- {
		b := q.buckets[q.prios[i]]
		if b.empty() {
			continue
		}
		item, ok := b.popRoundRobin()
		if ok {
			q.size--
			return item
		}
	}
	panic("strict: inconsistent size accounting")
}

// popRoundRobin pops from the client currently under the cursor, advancing
// the cursor to the next client with pending items, wrapping around.
func (b *bucket[T, K]) popRoundRobin() (T, bool) {
	var zero T
	n := len(b.order)
	if n == 0 {
		return zero, false
	}
	for i := 0; i < n; i++ {
		idx := (b.cursor + i) % n
		client := b.order[idx]
		items := b.fifos[client]
		if len(items) == 0 {
			continue
		}
		item := items[0]
		b.fifos[client] = items[1:]
		b.cursor = (idx + 1) % n
		return item, true
	}
	return zero, false
}

// RemoveByClass drops every item belonging to client across all priorities
// and returns them, in priority-ascending then original order.
func (q *Queue[T, K]) RemoveByClass(client K) []T {
	var removed []T
	for _, prio := range q.prios {
		b := q.buckets[prio]
		items, ok := b.fifos[client]
		if !ok || len(items) == 0 {
			continue
		}
		removed = append(removed, items...)
		b.fifos[client] = nil
	}
	q.size -= len(removed)
	return removed
}

// RemoveByFilter drops every item matching pred across all clients and
// priorities, preserving the relative order of survivors.
func (q *Queue[T, K]) RemoveByFilter(pred func(client K, item T) bool) []T {
	var removed []T
	for _, prio := range q.prios {
		b := q.buckets[prio]
		for _, client := range b.order {
			items := b.fifos[client]
			if len(items) == 0 {
				continue
			}
			kept := items[:0:0]
			for _, it := range items {
				if pred(client, it) {
					removed = append(removed, it)
				} else {
					kept = append(kept, it)
				}
			}
			b.fifos[client] = kept
		}
	}
	q.size -= len(removed)
	return removed
}
