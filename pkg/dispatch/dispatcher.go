// Package dispatch composes the three scheduling tiers — strict priority,
// dmClock fair-share, and weighted token bucket — into the single ordered
// dispatcher described by the system: strict-priority traffic always drains
// first, dmClock-governed traffic next, and token-bucket traffic only once
// both are empty.
package dispatch

import (
	"sync"

	"github.com/aresqos/qosd/pkg/dispatch/dmclock"
	"github.com/aresqos/qosd/pkg/dispatch/strict"
	"github.com/aresqos/qosd/pkg/dispatch/tokenbucket"
)

// Tier names which sub-queue an item was enqueued into or dispatched from.
type Tier int

const (
	TierStrict Tier = iota
	TierDmClock
	TierTokenBucket
)

func (t Tier) String() string {
	switch t {
	case TierStrict:
		return "strict"
	case TierDmClock:
		return "dmclock"
	case TierTokenBucket:
		return "tokenbucket"
	default:
		return "unknown"
	}
}

// Dispatcher is the composite queue, generic over item type T and client id
// K, wiring the three tiers in fixed dispatch order (spec.md §6). The three
// tiers hold no internal lock of their own (spec.md §5); Dispatcher supplies
// the one mutex SPEC_FULL §5 calls for, held for the duration of every
// mutating or diagnostic call, so it is safe to share across goroutines.
type Dispatcher[T any, K comparable] struct {
	mu sync.Mutex

	strict      *strict.Queue[T, K]
	dmclockQ    *dmclock.Queue[T, K]
	tokenBucket *tokenbucket.Queue[T, K]
}

// New creates an empty composite dispatcher. systemThroughput seeds the
// dmClock tier; minCost and maxTokens seed the token-bucket tier.
func New[T any, K comparable](systemThroughput, minCost, maxTokens float64) *Dispatcher[T, K] {
	return &Dispatcher[T, K]{
		strict:      strict.New[T, K](),
		dmclockQ:    dmclock.New[T, K](systemThroughput),
		tokenBucket: tokenbucket.New[T, K](minCost, maxTokens),
	}
}

// DmClock exposes the fair-share tier directly, for callers that need to
// pass it to something expecting a *dmclock.Queue. The returned queue is
// NOT guarded by Dispatcher's mutex — calling its methods directly races
// with any concurrent Dispatcher call. Prefer PurgeIdleDmClock and Snapshot,
// which take the lock; this accessor exists for single-threaded test setup.
func (d *Dispatcher[T, K]) DmClock() *dmclock.Queue[T, K] { return d.dmclockQ }

// EnqueueStrict admits item into the strict-priority tier.
func (d *Dispatcher[T, K]) EnqueueStrict(client K, priority uint, item T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.strict.Enqueue(client, priority, item)
}

// EnqueueStrictFront admits item at the front of its priority/client FIFO
// in the strict tier, e.g. for a requeue after a failed dispatch attempt.
func (d *Dispatcher[T, K]) EnqueueStrictFront(client K, priority uint, item T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.strict.EnqueueFront(client, priority, item)
}

// EnqueueDmClock admits item into the fair-share tier under the given SLO
// and cost.
func (d *Dispatcher[T, K]) EnqueueDmClock(client K, slo dmclock.SLO, cost float64, item T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dmclockQ.Enqueue(client, slo, cost, item)
}

// EnqueueTokenBucket admits item into the weighted token-bucket tier under
// the given priority weight and cost.
func (d *Dispatcher[T, K]) EnqueueTokenBucket(client K, priority, cost float64, item T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokenBucket.Enqueue(client, priority, cost, item)
}

// EnqueueTokenBucketFront admits item at the front of its priority/client
// FIFO in the token-bucket tier, e.g. for a requeue after a failed dispatch
// attempt.
func (d *Dispatcher[T, K]) EnqueueTokenBucketFront(client K, priority, cost float64, item T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokenBucket.EnqueueFront(client, priority, cost, item)
}

// Len returns the total number of items queued across all three tiers.
func (d *Dispatcher[T, K]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.strict.Len() + d.dmclockQ.Len() + d.tokenBucket.Len()
}

// Empty reports whether all three tiers are empty.
func (d *Dispatcher[T, K]) Empty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.strict.Empty() && d.dmclockQ.Empty() && d.tokenBucket.Empty()
}

// Dequeue dispatches the next item in fixed tier order: strict-priority
// traffic always preempts the fair-share and token-bucket tiers, and
// fair-share traffic always preempts the token-bucket tier, regardless of
// how long either has been waiting (spec.md §6). Panics if every tier is
// empty.
func (d *Dispatcher[T, K]) Dequeue() (T, Tier) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.strict.Empty() {
		return d.strict.Dequeue(), TierStrict
	}
	if !d.dmclockQ.Empty() {
		return d.dmclockQ.Pop(), TierDmClock
	}
	if !d.tokenBucket.Empty() {
		return d.tokenBucket.Dequeue(), TierTokenBucket
	}
	panic("dispatch: dequeue on empty dispatcher")
}

// PurgeIdleDmClock reclaims idle clients' reserved and proportional
// throughput in the fair-share tier. Not run automatically; callers are
// expected to schedule it (spec.md §4.2).
func (d *Dispatcher[T, K]) PurgeIdleDmClock() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dmclockQ.PurgeIdle()
}

// DequeueDmClock dispatches the next item from the fair-share tier directly,
// bypassing the strict-priority and token-bucket tiers' ordering (spec.md
// §6's dequeue_dmclock). Panics if the fair-share tier is empty.
func (d *Dispatcher[T, K]) DequeueDmClock() T {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dmclockQ.Pop()
}

// Snapshot returns a diagnostic dump of the fair-share tier's per-client tag
// state, taking the same lock as every mutating call so the view it returns
// is consistent with them.
func (d *Dispatcher[T, K]) Snapshot() []dmclock.ClientSnapshot[K] {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dmclockQ.Snapshot()
}

// RemoveByClass drops every queued item belonging to client across all
// three tiers and returns them grouped by the tier they were removed from.
func (d *Dispatcher[T, K]) RemoveByClass(client K) map[Tier][]T {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[Tier][]T)
	if items := d.strict.RemoveByClass(client); len(items) > 0 {
		out[TierStrict] = items
	}
	if items := d.dmclockQ.RemoveByClass(client); len(items) > 0 {
		out[TierDmClock] = items
	}
	if items := d.tokenBucket.RemoveByClass(client); len(items) > 0 {
		out[TierTokenBucket] = items
	}
	return out
}

// RemoveByFilter drops every queued item matching pred across all three
// tiers and returns them grouped by the tier they were removed from.
func (d *Dispatcher[T, K]) RemoveByFilter(pred func(client K, item T) bool) map[Tier][]T {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[Tier][]T)
	if items := d.strict.RemoveByFilter(pred); len(items) > 0 {
		out[TierStrict] = items
	}
	if items := d.dmclockQ.RemoveByFilter(pred); len(items) > 0 {
		out[TierDmClock] = items
	}
	if items := d.tokenBucket.RemoveByFilter(pred); len(items) > 0 {
		out[TierTokenBucket] = items
	}
	return out
}
