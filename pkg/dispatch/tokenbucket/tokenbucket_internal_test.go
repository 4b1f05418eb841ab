package tokenbucket

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestDistributeExcludesSubqueueEmptiedByThisDispatch is a white-box
// regression test for cleanup-before-distribute ordering: when a dispatch
// empties its subqueue, that subqueue's weight must leave totalWeight
// before distribute divides up the dispatched cost, not after.
func TestDistributeExcludesSubqueueEmptiedByThisDispatch(t *testing.T) {
	q := New[string, string](1, 1000)
	q.Enqueue("a", 4, 5, "only-a") // weight 4, single item, cost 5
	q.Enqueue("b", 6, 1, "keep-b") // weight 6, stays queued throughout

	// Force weight 4 to qualify on its own front cost (5) by hand, bypassing
	// the token income that would normally take several rounds to build up.
	q.subs[4].tokens = 10

	got := q.Dequeue()
	assert.Equal(t, "only-a", got)

	// weight 4 is now empty and must have been dropped from both subs and
	// totalWeight before its cost was distributed, leaving weight 6 as the
	// sole recipient: income = (6*5)/6 + 1 = 6, not (6*5)/10 + 1 = 4.
	_, stillPresent := q.subs[4]
	assert.False(t, stillPresent, "emptied subqueue must be cleaned up")
	assert.Equal(t, float64(6), q.totalWeight)
	assert.Equal(t, float64(6), q.subs[6].tokens)
}
