// Package dmclock implements the fair-share deadline scheduler at the heart
// of the composite dispatcher: a variant of the dmClock two-dimensional
// deadline algorithm. It tags each client's requests with reservation and
// proportional deadlines, ages those deadlines across active/idle
// transitions, and dispatches whichever eligible deadline is smallest.
//
// The queue performs no I/O and holds no internal lock: callers are
// expected to serialize access (a single event loop, or a mutex held around
// every call), matching the rest of the dispatch package.
package dmclock

import "github.com/aresqos/qosd/pkg/dispatch/vclock"

type request[T any] struct {
	cost float64
	item T
}

type minDeadlineCache[K comparable] struct {
	client   K
	deadline float64
	valid    bool
}

// Queue is the dmClock fair-share scheduler, generic over an opaque item
// type T and an equality-comparable client id K.
type Queue[T any, K comparable] struct {
	clock *vclock.Clock
	book  *throughputBook

	tags  map[K]*Tag[K]
	fifos map[K][]request[T]
	order []K // insertion order, for deterministic scans
	size  int

	reserveIdx minDeadlineCache[K]
	propIdx    minDeadlineCache[K]
}

// New creates an empty dmClock queue with the given total system
// throughput (requests per unit of virtual time).
func New[T any, K comparable](systemThroughput float64) *Queue[T, K] {
	if systemThroughput <= 0 {
		panic("dmclock: systemThroughput must be positive")
	}
	return &Queue[T, K]{
		clock: vclock.New(),
		book:  newThroughputBook(systemThroughput),
		tags:  make(map[K]*Tag[K]),
		fifos: make(map[K][]request[T]),
	}
}

// Clock exposes the shared virtual clock, e.g. for diagnostics.
func (q *Queue[T, K]) Clock() *vclock.Clock { return q.clock }

// AvailableThroughput returns the currently unreserved capacity.
func (q *Queue[T, K]) AvailableThroughput() float64 { return q.book.available }

// SystemThroughput returns the configured total capacity.
func (q *Queue[T, K]) SystemThroughput() float64 { return q.book.system }

// PropThroughput returns the sum of active proportional weights.
func (q *Queue[T, K]) PropThroughput() float64 { return q.book.prop }

// Len returns the number of queued items across all clients.
func (q *Queue[T, K]) Len() int { return q.size }

// Empty reports whether the queue holds no items.
func (q *Queue[T, K]) Empty() bool { return q.size == 0 }

// Enqueue adds item for client cl under the given SLO and cost. If cl is
// unknown, a Tag is created. If cl was idle (no queued items), its
// deadlines are aged before the item is appended.
func (q *Queue[T, K]) Enqueue(cl K, slo SLO, cost float64, item T) {
	if err := slo.Validate(); err != nil {
		panic(err)
	}

	tag, exists := q.tags[cl]
	if !exists {
		tag = q.createTag(cl, slo)
		q.tags[cl] = tag
		q.order = append(q.order, cl)
	} else if len(q.fifos[cl]) == 0 {
		q.reactivate(tag)
	}
	tag.Active = true

	q.fifos[cl] = append(q.fifos[cl], request[T]{cost: cost, item: item})
	q.size++
	q.refreshIndices()
}

func (q *Queue[T, K]) createTag(cl K, slo SLO) *Tag[K] {
	tag := newTag(cl, slo)
	now := float64(q.clock.Now())

	if slo.Reserve > 0 {
		tag.RDeadline = now
		tag.RSpacing = q.book.system / slo.Reserve
		q.book.reserve(slo.Reserve)
	}
	if slo.Limit > 0 {
		tag.LDeadline = now
		tag.LSpacing = q.book.system / slo.Limit
	}
	if slo.Prop > 0 {
		q.book.addProp(slo.Prop)
		if eff := q.book.effectiveProp(slo.Prop); eff > 0 {
			tag.PSpacing = q.book.system / eff
		}
		if d, ok := q.minPropDeadline(); ok {
			tag.PDeadline = d
		} else {
			tag.PDeadline = now
		}
		// recomputePropSpacings only reaches tags already in q.order, which
		// does not yet include cl (the caller appends it after createTag
		// returns) — tag.PSpacing must be seeded directly above.
		q.recomputePropSpacings()
	}
	tag.Active = true
	return tag
}

// reactivate ages a previously idle client's deadlines on the next enqueue,
// so it cannot claim back-credit for the ticks it spent idle.
func (q *Queue[T, K]) reactivate(tag *Tag[K]) {
	now := float64(q.clock.Now())
	if tag.SLO.Reserve > 0 {
		tag.RDeadline = maxFloat(tag.RDeadline+tag.RSpacing, now)
	}
	if tag.SLO.Limit > 0 {
		tag.LDeadline = maxFloat(tag.LDeadline+tag.LSpacing, now)
	}
	if tag.SLO.Prop > 0 {
		if d, ok := q.minPropDeadline(); ok {
			tag.PDeadline = d
		} else {
			tag.PDeadline = now
		}
	}
	tag.Active = true
}

// minPropDeadline finds the smallest active proportional deadline, used to
// seat a joining or reactivating client alongside its peers instead of
// letting it jump the queue with a stale deadline of zero.
func (q *Queue[T, K]) minPropDeadline() (float64, bool) {
	best := 0.0
	found := false
	for _, k := range q.order {
		t := q.tags[k]
		if t.Active && t.PDeadline > 0 {
			if !found || t.PDeadline < best {
				best = t.PDeadline
				found = true
			}
		}
	}
	return best, found
}

// recomputePropSpacings recalculates every client's proportional spacing
// after the proportional-weight denominator changes (a client joined, left,
// or released its reservation).
func (q *Queue[T, K]) recomputePropSpacings() {
	for _, k := range q.order {
		t := q.tags[k]
		if t.SLO.Prop <= 0 {
			continue
		}
		eff := q.book.effectiveProp(t.SLO.Prop)
		if eff > 0 {
			t.PSpacing = q.book.system / eff
		} else {
			t.PSpacing = 0
		}
	}
}

// refreshIndices recomputes the cached smallest-eligible-deadline pointer
// for each channel. Must be called after any mutation to tags or the clock.
// Ties break toward the later-scanned client (original_source:
// PrioritizedQueueDMClock.h:344-358's update_min_deadlines() overwrites on
// an exact tie rather than keeping the first-seen one).
func (q *Queue[T, K]) refreshIndices() {
	now := float64(q.clock.Now())

	var rKey, pKey K
	var rBest, pBest float64
	rFound, pFound := false, false

	for _, k := range q.order {
		t := q.tags[k]
		if !t.Active {
			continue
		}
		if t.RDeadline > 0 && (t.RDeadline >= t.LDeadline || t.LDeadline <= now) {
			if !rFound || t.RDeadline <= rBest {
				rBest, rKey, rFound = t.RDeadline, k, true
			}
		}
		if t.PDeadline > 0 && t.PSpacing > 0 && t.LDeadline <= now {
			if !pFound || t.PDeadline <= pBest {
				pBest, pKey, pFound = t.PDeadline, k, true
			}
		}
	}

	q.reserveIdx = minDeadlineCache[K]{client: rKey, deadline: rBest, valid: rFound}
	q.propIdx = minDeadlineCache[K]{client: pKey, deadline: pBest, valid: pFound}
}

// front picks the client to dispatch from, per the two-phase selection in
// spec.md §4.2: reserve first if its deadline has come due, else
// proportional, else nothing is eligible yet.
func (q *Queue[T, K]) front() (Channel, K, bool) {
	now := float64(q.clock.Now())
	if q.reserveIdx.valid && q.reserveIdx.deadline <= now {
		return ChannelReserve, q.reserveIdx.client, true
	}
	if q.propIdx.valid {
		return ChannelProportional, q.propIdx.client, true
	}
	var zero K
	return ChannelNone, zero, false
}

// Pop dequeues the next eligible item, issuing idle cycles (virtual clock
// advances with no dispatch) until some client becomes eligible. Panics if
// the queue is empty — dequeuing an empty dmClock queue is a programmer
// error per spec.md §7.
func (q *Queue[T, K]) Pop() T {
	if q.size == 0 {
		panic("dmclock: pop on empty queue")
	}

	ch, key, ok := q.front()
	for !ok {
		q.clock.Tick()
		q.refreshIndices()
		ch, key, ok = q.front()
	}

	reqs := q.fifos[key]
	req := reqs[0]
	q.fifos[key] = reqs[1:]
	q.size--

	tag := q.tags[key]
	if len(q.fifos[key]) == 0 {
		tag.Active = false
	}

	q.clock.Tick()
	q.advance(tag, ch, req.cost)
	q.refreshIndices()

	return req.item
}

// advance ages the dispatched tag's deadlines forward by their spacings.
// Per spec.md §4.2 the reservation deadline only advances when this
// dispatch used the reserve channel; proportional and limit deadlines
// always advance for the selected tag, regardless of which channel fired.
func (q *Queue[T, K]) advance(tag *Tag[K], ch Channel, cost float64) {
	tag.Selected = ch
	tag.Stat++
	tag.TotalCost += cost

	if (ch == ChannelReserve || ch == ChannelNone) && tag.RDeadline > 0 {
		tag.RDeadline += tag.RSpacing
	}
	if tag.PDeadline > 0 {
		tag.PDeadline += tag.PSpacing
	}
	if tag.LDeadline > 0 {
		tag.LDeadline += tag.LSpacing
	}
}

// PurgeIdle reclaims every inactive client's reserved and proportional
// throughput and drops its (empty) tag and FIFO. Not automatic — the owner
// schedules this explicitly (spec.md §4.2).
func (q *Queue[T, K]) PurgeIdle() {
	kept := q.order[:0:0]
	purgedAny := false

	for _, k := range q.order {
		t := q.tags[k]
		if t.Active {
			kept = append(kept, k)
			continue
		}
		purgedAny = true
		if t.SLO.Reserve > 0 {
			q.book.release(t.SLO.Reserve)
		}
		if t.SLO.Prop > 0 {
			q.book.removeProp(t.SLO.Prop)
		}
		delete(q.tags, k)
		delete(q.fifos, k)
	}
	q.order = kept

	// Releasing a purged client's reservation changes throughput_available,
	// which feeds every remaining proportional client's effectiveProp — so
	// the recompute is unconditional on any purge, not just a purged prop
	// client.
	if purgedAny {
		q.recomputePropSpacings()
	}
	q.refreshIndices()
}

// RemoveByClass drops every queued item belonging to cl and returns them.
// The client's tag becomes inactive but is not purged.
func (q *Queue[T, K]) RemoveByClass(cl K) []T {
	reqs, ok := q.fifos[cl]
	if !ok || len(reqs) == 0 {
		return nil
	}

	removed := make([]T, len(reqs))
	for i, r := range reqs {
		removed[i] = r.item
	}
	q.size -= len(reqs)
	q.fifos[cl] = nil
	if t, ok := q.tags[cl]; ok {
		t.Active = false
	}
	q.refreshIndices()
	return removed
}

// RemoveByFilter drops every queued item across all clients matching pred
// and returns them, preserving the relative order of survivors.
func (q *Queue[T, K]) RemoveByFilter(pred func(client K, item T) bool) []T {
	var removed []T
	for _, k := range q.order {
		reqs := q.fifos[k]
		if len(reqs) == 0 {
			continue
		}
		kept := reqs[:0:0]
		for _, r := range reqs {
			if pred(k, r.item) {
				removed = append(removed, r.item)
			} else {
				kept = append(kept, r)
			}
		}
		q.fifos[k] = kept
		if len(kept) == 0 {
			if t, ok := q.tags[k]; ok {
				t.Active = false
			}
		}
	}
	q.size -= len(removed)
	q.refreshIndices()
	return removed
}

// ClientSnapshot is a point-in-time diagnostic view of one client's tag.
type ClientSnapshot[K comparable] struct {
	Client    K
	SLO       SLO
	RDeadline float64
	PDeadline float64
	LDeadline float64
	Active    bool
	Selected  Channel
	Stat      uint64
	TotalCost float64
}

// Snapshot returns a diagnostic dump of every known client's tag state, in
// the order clients first enqueued.
func (q *Queue[T, K]) Snapshot() []ClientSnapshot[K] {
	out := make([]ClientSnapshot[K], 0, len(q.order))
	for _, k := range q.order {
		t := q.tags[k]
		out = append(out, ClientSnapshot[K]{
			Client:    t.Client,
			SLO:       t.SLO,
			RDeadline: t.RDeadline,
			PDeadline: t.PDeadline,
			LDeadline: t.LDeadline,
			Active:    t.Active,
			Selected:  t.Selected,
			Stat:      t.Stat,
			TotalCost: t.TotalCost,
		})
	}
	return out
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
