// Package tokenbucket implements the lowest-priority tier of the composite
// dispatcher: a weighted token bucket over priority sub-queues. Each
// sub-queue accumulates tokens in proportion to its priority weight and
// dispatches once it holds more tokens than its front item's cost; when no
// sub-queue does, the highest-weight one dispatches anyway.
package tokenbucket

// request pairs a queued item with its clamped cost.
type request[T any] struct {
	cost float64
	item T
}

// subQueue is one priority level: a weighted share of the bucket's token
// income, a running token balance, and per-client FIFOs drained round-robin.
type subQueue[T any, K comparable] struct {
	priority float64
	tokens   float64

	order  []K
	fifos  map[K][]request[T]
	cursor int
	size   int
}

func newSubQueue[T any, K comparable](priority float64) *subQueue[T, K] {
	return &subQueue[T, K]{priority: priority, fifos: make(map[K][]request[T])}
}

func (s *subQueue[T, K]) push(client K, req request[T], front bool) {
	if _, ok := s.fifos[client]; !ok {
		s.fifos[client] = nil
		s.order = append(s.order, client)
	}
	if front {
		s.fifos[client] = append([]request[T]{req}, s.fifos[client]...)
	} else {
		s.fifos[client] = append(s.fifos[client], req)
	}
	s.size++
}

// frontCost returns the cost of the item popRoundRobin would dispatch next,
// without mutating the sub-queue.
func (s *subQueue[T, K]) frontCost() (float64, bool) {
	n := len(s.order)
	for i := 0; i < n; i++ {
		idx := (s.cursor + i) % n
		items := s.fifos[s.order[idx]]
		if len(items) > 0 {
			return items[0].cost, true
		}
	}
	return 0, false
}

func (s *subQueue[T, K]) popRoundRobin() (request[T], bool) {
	var zero request[T]
	n := len(s.order)
	for i := 0; i < n; i++ {
		idx := (s.cursor + i) % n
		client := s.order[idx]
		items := s.fifos[client]
		if len(items) == 0 {
			continue
		}
		req := items[0]
		s.fifos[client] = items[1:]
		s.cursor = (idx + 1) % n
		s.size--
		return req, true
	}
	return zero, false
}

// Queue is the weighted token-bucket tier, generic over item type T and
// client id K.
type Queue[T any, K comparable] struct {
	minCost      float64
	maxTokens    float64
	totalWeight  float64
	subs         map[float64]*subQueue[T, K]
	prios        []float64 // ascending, the dispatch-preference order
	size         int
}

// New creates an empty token-bucket queue. minCost and maxTokens bound every
// item's clamped cost and every sub-queue's token balance respectively.
func New[T any, K comparable](minCost, maxTokens float64) *Queue[T, K] {
	if minCost <= 0 {
		panic("tokenbucket: minCost must be positive")
	}
	if maxTokens < minCost {
		panic("tokenbucket: maxTokens must be >= minCost")
	}
	return &Queue[T, K]{
		minCost:   minCost,
		maxTokens: maxTokens,
		subs:      make(map[float64]*subQueue[T, K]),
	}
}

func (q *Queue[T, K]) clampCost(cost float64) float64 {
	if cost < q.minCost {
		return q.minCost
	}
	if cost > q.maxTokens {
		return q.maxTokens
	}
	return cost
}

func (q *Queue[T, K]) subFor(priority float64) *subQueue[T, K] {
	s, ok := q.subs[priority]
	if !ok {
		s = newSubQueue[T, K](priority)
		q.subs[priority] = s
		q.insertPriority(priority)
		q.totalWeight += priority
	}
	return s
}

func (q *Queue[T, K]) insertPriority(priority float64) {
	i := 0
	for ; i < len(q.prios); i++ {
		if q.prios[i] > priority {
			break
		}
	}
	q.prios = append(q.prios, 0)
	copy(q.prios[i+1:], q.prios[i:])
	q.prios[i] = priority
}

// Enqueue adds item for client under the given priority weight (higher
// weight means a larger share of token income). cost is clamped to
// [minCost, maxTokens].
func (q *Queue[T, K]) Enqueue(client K, priority, cost float64, item T) {
	if priority <= 0 {
		panic("tokenbucket: priority must be positive")
	}
	q.subFor(priority).push(client, request[T]{cost: q.clampCost(cost), item: item}, false)
	q.size++
}

// EnqueueFront prepends item to client's FIFO within its priority
// sub-queue, e.g. for a requeue after a failed dispatch attempt.
func (q *Queue[T, K]) EnqueueFront(client K, priority, cost float64, item T) {
	if priority <= 0 {
		panic("tokenbucket: priority must be positive")
	}
	q.subFor(priority).push(client, request[T]{cost: q.clampCost(cost), item: item}, true)
	q.size++
}

// Len returns the total number of queued items.
func (q *Queue[T, K]) Len() int { return q.size }

// Empty reports whether the queue holds no items.
func (q *Queue[T, K]) Empty() bool { return q.size == 0 }

// Dequeue picks the first sub-queue (ascending priority weight) whose front
// item's cost is strictly less than its current token balance and
// dispatches it, deducting that cost from its tokens. If none qualifies,
// the highest-weight non-empty sub-queue dispatches unconditionally without
// a deduction (spec.md §4.3) so the tier never stalls. Either way, the
// dispatched cost is then distributed as token income across every
// currently-present sub-queue in proportion to its weight. Panics if empty.
func (q *Queue[T, K]) Dequeue() T {
	if q.size == 0 {
		panic("tokenbucket: dequeue on empty queue")
	}

	picked, qualified := q.pickQualifying()
	if !qualified {
		picked = q.pickFallback()
	}

	req, _ := picked.popRoundRobin()
	q.size--

	if qualified {
		picked.tokens -= req.cost
		if picked.tokens < 0 {
			picked.tokens = 0
		}
	}

	// cleanup must run before distribute: if this dispatch emptied picked,
	// its weight has to leave the pool before the pool's remaining members
	// divide up the dispatched cost (original_source: pop_front() removes
	// the emptied subqueue before distribute_tokens() runs).
	q.cleanup(picked)
	q.distribute(req.cost)

	return req.item
}

// pickQualifying scans sub-queues in ascending priority order for the first
// whose front item it can afford.
func (q *Queue[T, K]) pickQualifying() (*subQueue[T, K], bool) {
	for _, p := range q.prios {
		s := q.subs[p]
		cost, has := s.frontCost()
		if !has {
			continue
		}
		if cost < s.tokens {
			return s, true
		}
	}
	return nil, false
}

// pickFallback selects the highest-weight non-empty sub-queue when none
// qualifies on tokens, guaranteeing forward progress. Its front item is
// popped unconditionally, without deducting its cost from tokens (spec.md
// §4.3 step 2 — only the qualifying path in step 1 deducts).
func (q *Queue[T, K]) pickFallback() *subQueue[T, K] {
	for i := len(q.prios) - 1; i >= 0; i-- {
		s := q.subs[q.prios[i]]
		if _, has := s.frontCost(); has {
			return s
		}
	}
	panic("tokenbucket: inconsistent size accounting")
}

// distribute reapportions the dispatched cost as token income to every
// currently-present sub-queue in proportion to its priority weight over the
// full weight total, capped at maxTokens (spec.md §4.3).
func (q *Queue[T, K]) distribute(cost float64) {
	if q.totalWeight <= 0 {
		return
	}
	for _, p := range q.prios {
		s := q.subs[p]
		income := (s.priority*cost)/q.totalWeight + 1
		s.tokens += income
		if s.tokens > q.maxTokens {
			s.tokens = q.maxTokens
		}
	}
}

// cleanup drops an emptied sub-queue and its weight, if the one dispatched
// from is now wholly empty.
func (q *Queue[T, K]) cleanup(s *subQueue[T, K]) {
	if s.size > 0 {
		return
	}
	delete(q.subs, s.priority)
	q.totalWeight -= s.priority
	for i, p := range q.prios {
		if p == s.priority {
			q.prios = append(q.prios[:i], q.prios[i+1:]...)
			break
		}
	}
}

// RemoveByClass drops every queued item belonging to client across all
// sub-queues and returns them.
func (q *Queue[T, K]) RemoveByClass(client K) []T {
	var removed []T
	for _, p := range q.prios {
		s := q.subs[p]
		items, ok := s.fifos[client]
		if !ok || len(items) == 0 {
			continue
		}
		for _, r := range items {
			removed = append(removed, r.item)
		}
		s.size -= len(items)
		s.fifos[client] = nil
	}
	q.size -= len(removed)
	for _, p := range append([]float64{}, q.prios...) {
		q.cleanup(q.subs[p])
	}
	return removed
}

// RemoveByFilter drops every queued item matching pred across all clients
// and sub-queues, preserving the relative order of survivors.
func (q *Queue[T, K]) RemoveByFilter(pred func(client K, item T) bool) []T {
	var removed []T
	for _, p := range append([]float64{}, q.prios...) {
		s := q.subs[p]
		for _, client := range s.order {
			items := s.fifos[client]
			if len(items) == 0 {
				continue
			}
			kept := items[:0:0]
			for _, r := range items {
				if pred(client, r.item) {
					removed = append(removed, r.item)
					s.size--
				} else {
					kept = append(kept, r)
				}
			}
			s.fifos[client] = kept
		}
		q.cleanup(s)
	}
	q.size -= len(removed)
	return removed
}
