package dmclock

// Tag is the per-client scheduling state the queue owns. A zero deadline in
// any channel means that channel is disabled for this client.
type Tag[K comparable] struct {
	Client K
	SLO    SLO

	RDeadline, RSpacing float64
	PDeadline, PSpacing float64
	LDeadline, LSpacing float64

	// Active is true iff the client currently has at least one queued item.
	Active bool

	// Selected records which channel the most recent dispatch used.
	Selected Channel

	// Stat is a running count of dispatches, for diagnostics.
	Stat uint64

	// TotalCost accumulates the cost of every dispatched item for this
	// client. dmClock's deadline math never consumes cost (spec.md §12);
	// this is diagnostic accounting only.
	TotalCost float64
}

func newTag[K comparable](client K, slo SLO) *Tag[K] {
	return &Tag[K]{Client: client, SLO: slo}
}
