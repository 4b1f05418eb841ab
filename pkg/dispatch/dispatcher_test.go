package dispatch_test

import (
	"testing"

	"github.com/aresqos/qosd/pkg/dispatch"
	"github.com/aresqos/qosd/pkg/dispatch/dmclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDequeueOnEmptyPanics(t *testing.T) {
	d := dispatch.New[string, string](100, 1, 100)
	assert.Panics(t, func() { d.Dequeue() })
}

func TestStrictDrainsBeforeDmClockAndTokenBucket(t *testing.T) {
	// S5: strict-priority traffic always preempts the other two tiers.
	d := dispatch.New[string, string](100, 1, 100)

	d.EnqueueDmClock("a", dmclock.SLO{Reserve: 100}, 1, "dmclock-item")
	d.EnqueueTokenBucket("b", 1, 1, "tokenbucket-item")
	d.EnqueueStrict("c", 0, "strict-1")
	d.EnqueueStrict("c", 0, "strict-2")

	item1, tier1 := d.Dequeue()
	assert.Equal(t, "strict-1", item1)
	assert.Equal(t, dispatch.TierStrict, tier1)

	item2, tier2 := d.Dequeue()
	assert.Equal(t, "strict-2", item2)
	assert.Equal(t, dispatch.TierStrict, tier2)

	// Strict is now empty; dmClock must be consulted next.
	item3, tier3 := d.Dequeue()
	assert.Equal(t, "dmclock-item", item3)
	assert.Equal(t, dispatch.TierDmClock, tier3)

	item4, tier4 := d.Dequeue()
	assert.Equal(t, "tokenbucket-item", item4)
	assert.Equal(t, dispatch.TierTokenBucket, tier4)
}

func TestLenSumsAllThreeTiers(t *testing.T) {
	d := dispatch.New[string, string](100, 1, 100)
	d.EnqueueStrict("a", 0, "x")
	d.EnqueueDmClock("b", dmclock.SLO{Reserve: 10}, 1, "y")
	d.EnqueueTokenBucket("c", 1, 1, "z")

	assert.Equal(t, 3, d.Len())
	assert.False(t, d.Empty())
}

func TestEmptyRequiresAllThreeTiersEmpty(t *testing.T) {
	d := dispatch.New[string, string](100, 1, 100)
	assert.True(t, d.Empty())

	d.EnqueueTokenBucket("a", 1, 1, "x")
	assert.False(t, d.Empty())
	d.Dequeue()
	assert.True(t, d.Empty())
}

func TestRemoveByClassFansOutAcrossTiers(t *testing.T) {
	d := dispatch.New[string, string](100, 1, 100)
	d.EnqueueStrict("a", 0, "strict-a")
	d.EnqueueDmClock("a", dmclock.SLO{Reserve: 10}, 1, "dmclock-a")
	d.EnqueueTokenBucket("a", 1, 1, "tokenbucket-a")
	d.EnqueueStrict("b", 0, "strict-b")

	removed := d.RemoveByClass("a")
	require.Contains(t, removed, dispatch.TierStrict)
	require.Contains(t, removed, dispatch.TierDmClock)
	require.Contains(t, removed, dispatch.TierTokenBucket)
	assert.Equal(t, []string{"strict-a"}, removed[dispatch.TierStrict])

	assert.Equal(t, 1, d.Len())
	item, _ := d.Dequeue()
	assert.Equal(t, "strict-b", item)
}

func TestDequeueDmClockBypassesTierOrdering(t *testing.T) {
	d := dispatch.New[string, string](100, 1, 100)
	d.EnqueueStrict("s", 0, "strict-item")
	d.EnqueueDmClock("a", dmclock.SLO{Reserve: 100}, 1, "dmclock-item")

	// DequeueDmClock reaches the fair-share tier directly, skipping the
	// strict-priority item that would otherwise be served first.
	got := d.DequeueDmClock()
	assert.Equal(t, "dmclock-item", got)

	item, tier := d.Dequeue()
	assert.Equal(t, "strict-item", item)
	assert.Equal(t, dispatch.TierStrict, tier)
}

func TestEnqueueTokenBucketFrontPrepends(t *testing.T) {
	d := dispatch.New[string, string](100, 1, 100)
	d.EnqueueTokenBucket("a", 5, 1, "back")
	d.EnqueueTokenBucketFront("a", 5, 1, "front")

	item1, tier1 := d.Dequeue()
	assert.Equal(t, "front", item1)
	assert.Equal(t, dispatch.TierTokenBucket, tier1)

	item2, _ := d.Dequeue()
	assert.Equal(t, "back", item2)
}

func TestPurgeIdleDmClockReclaimsThroughput(t *testing.T) {
	d := dispatch.New[string, string](100, 1, 100)
	d.EnqueueDmClock("a", dmclock.SLO{Reserve: 100}, 1, "x")
	assert.Equal(t, float64(0), d.DmClock().AvailableThroughput())

	d.RemoveByClass("a")
	d.PurgeIdleDmClock()

	assert.Equal(t, float64(100), d.DmClock().AvailableThroughput())
}
