package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a-khushal/TickerTUI/internal/models"
)

func level(price, qty float64) models.PriceLevel {
	return models.PriceLevel{Price: price, Quantity: qty}
}

func snapshot(version int64) *models.DepthSnapshot {
	return &models.DepthSnapshot{
		LastUpdateID: version,
		Bids:         []models.PriceLevel{level(100, 1), level(99, 2)},
		Asks:         []models.PriceLevel{level(101, 1), level(102, 2)},
	}
}

func diff(first, last int64, bids, asks []models.PriceLevel) models.OrderBookDiff {
	return models.OrderBookDiff{FirstVersion: first, LastVersion: last, Bids: bids, Asks: asks}
}

func syncedReconciler(t *testing.T, version int64) *Reconciler {
	t.Helper()
	r := New("BTCUSDT", 16, 3)
	r.StartSync()
	require.Equal(t, ActionNone, r.ApplySnapshot(snapshot(version)))
	require.Equal(t, StateLive, r.State())
	return r
}

func TestSequentialDiffApplication(t *testing.T) {
	r := syncedReconciler(t, 100)

	assert.Equal(t, ActionNone, r.Ingest(diff(101, 101, []models.PriceLevel{level(99.5, 3)}, nil)))
	assert.Equal(t, ActionNone, r.Ingest(diff(102, 102, nil, []models.PriceLevel{level(101, 0)})))
	assert.Equal(t, ActionNone, r.Ingest(diff(103, 103, []models.PriceLevel{level(99, 0)}, nil)))

	view := r.View(0)
	assert.Equal(t, int64(103), view.Version)
	assert.False(t, view.Stale)
	// Bids: 100, 99.5 (99 removed); asks: 102 (101 removed).
	require.Len(t, view.Bids, 2)
	assert.Equal(t, 100.0, view.Bids[0].Price)
	assert.Equal(t, 99.5, view.Bids[1].Price)
	require.Len(t, view.Asks, 1)
	assert.Equal(t, 102.0, view.Asks[0].Price)
}

func TestDuplicateDiffNeverMutates(t *testing.T) {
	r := syncedReconciler(t, 100)

	before := r.View(0)
	assert.Equal(t, ActionNone, r.Ingest(diff(99, 100, []models.PriceLevel{level(50, 1)}, nil)))
	assert.Equal(t, before, r.View(0))
	assert.Equal(t, int64(1), r.Stats().Duplicates)
}

func TestGapTriggersResyncExactlyOnce(t *testing.T) {
	r := syncedReconciler(t, 100)

	before := r.View(0)
	action := r.Ingest(diff(102, 102, []models.PriceLevel{level(50, 1)}, nil))
	assert.Equal(t, ActionResync, action)
	assert.Equal(t, StateStale, r.State())

	// Book unchanged apart from the stale flag.
	after := r.View(0)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.Bids, after.Bids)
	assert.True(t, after.Stale)

	// Further diffs buffer while stale; no second resync request.
	assert.Equal(t, ActionNone, r.Ingest(diff(103, 103, nil, nil)))
	assert.Equal(t, ActionNone, r.Ingest(diff(104, 104, nil, nil)))
}

func TestCrossedBookForcesResync(t *testing.T) {
	r := syncedReconciler(t, 100)

	// A bid at/above the best ask crosses the book.
	action := r.Ingest(diff(101, 101, []models.PriceLevel{level(101.5, 1)}, nil))
	assert.Equal(t, ActionResync, action)
	assert.Equal(t, StateStale, r.State())
	assert.True(t, r.View(0).Stale)
	assert.Equal(t, int64(1), r.Stats().Crossed)
}

func TestBufferedDiffsDrainedAfterSnapshot(t *testing.T) {
	r := New("BTCUSDT", 16, 3)
	r.StartSync()

	// Diffs arrive while the snapshot is in flight.
	r.Ingest(diff(99, 100, nil, nil))                                          // will be discarded: behind snapshot
	r.Ingest(diff(101, 101, []models.PriceLevel{level(99.5, 3)}, nil))         // applied
	r.Ingest(diff(102, 102, nil, []models.PriceLevel{level(103, 1)}))          // applied

	require.Equal(t, ActionNone, r.ApplySnapshot(snapshot(100)))
	assert.Equal(t, StateLive, r.State())
	assert.Equal(t, int64(102), r.Version())

	view := r.View(0)
	require.Len(t, view.Bids, 3)
	assert.Equal(t, 99.5, view.Bids[1].Price)
}

func TestStaleSnapshotReRequested(t *testing.T) {
	r := New("BTCUSDT", 16, 3)
	r.StartSync()

	// Buffered stream starts well past the snapshot: the snapshot is unusable.
	r.Ingest(diff(105, 105, nil, nil))

	assert.Equal(t, ActionResync, r.ApplySnapshot(snapshot(100)))
	assert.Equal(t, StateAwaitingSnapshot, r.State())
	// The discarded snapshot must not have seeded the book.
	assert.False(t, r.View(0).Initialized)
}

func TestResyncRetryCapSurfacesPersistentError(t *testing.T) {
	r := New("BTCUSDT", 16, 3)
	r.StartSync()
	r.Ingest(diff(105, 105, nil, nil))

	assert.Equal(t, ActionResync, r.ApplySnapshot(snapshot(100)))
	assert.Equal(t, ActionResync, r.ApplySnapshot(snapshot(100)))
	assert.Equal(t, ActionPersistentError, r.ApplySnapshot(snapshot(100)))
}

func TestSnapshotFailedRetryBudget(t *testing.T) {
	r := New("BTCUSDT", 16, 2)
	r.StartSync()

	assert.Equal(t, ActionResync, r.SnapshotFailed())
	assert.Equal(t, ActionPersistentError, r.SnapshotFailed())
}

func TestBufferOverflowDropsOldest(t *testing.T) {
	r := New("BTCUSDT", 2, 3)
	r.StartSync()

	r.Ingest(diff(101, 101, nil, nil))
	r.Ingest(diff(102, 102, nil, nil))
	r.Ingest(diff(103, 103, nil, nil)) // evicts 101

	assert.Equal(t, int64(1), r.Stats().BufferDrops)

	// The hole left by the dropped diff rejects the snapshot.
	assert.Equal(t, ActionResync, r.ApplySnapshot(snapshot(100)))
}

// Scenario from the synchronization protocol: snapshot at 100, diffs 101, 102,
// 104 arrive in order; the book applies 101 and 102, goes stale on 104 and
// recovers at a fresh snapshot version 104.
func TestGapRecoveryScenario(t *testing.T) {
	r := syncedReconciler(t, 100)

	assert.Equal(t, ActionNone, r.Ingest(diff(101, 101, []models.PriceLevel{level(99.9, 1)}, nil)))
	assert.Equal(t, ActionNone, r.Ingest(diff(102, 102, nil, nil)))
	assert.Equal(t, int64(102), r.Version())

	assert.Equal(t, ActionResync, r.Ingest(diff(104, 104, nil, nil)))
	assert.Equal(t, StateStale, r.State())

	r.StartSync()
	assert.Equal(t, ActionNone, r.ApplySnapshot(snapshot(104)))
	assert.Equal(t, StateLive, r.State())
	assert.Equal(t, int64(104), r.Version())
	assert.False(t, r.View(0).Stale)
}

func TestApplySideKeepsOrderAndUniqueness(t *testing.T) {
	side := applySide(nil, []models.PriceLevel{level(3, 1), level(1, 1), level(2, 1)}, false)
	require.Len(t, side, 3)
	assert.Equal(t, []models.PriceLevel{level(1, 1), level(2, 1), level(3, 1)}, side)

	// Update in place, no duplicate price entries.
	side = applySide(side, []models.PriceLevel{level(2, 9)}, false)
	require.Len(t, side, 3)
	assert.Equal(t, 9.0, side[1].Quantity)

	// Removing an unknown level is a no-op.
	side = applySide(side, []models.PriceLevel{level(7, 0)}, false)
	assert.Len(t, side, 3)

	desc := applySide(nil, []models.PriceLevel{level(1, 1), level(3, 1), level(2, 1)}, true)
	assert.Equal(t, []models.PriceLevel{level(3, 1), level(2, 1), level(1, 1)}, desc)
}
