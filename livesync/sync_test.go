package livesync

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func testTime(offsetSeconds int) time.Time {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	return base.Add(time.Duration(offsetSeconds) * time.Second)
}

func testAd(id int64, createdAt time.Time) *Ad {
	return &Ad{
		Id:        id,
		OwnerId:   1,
		Title:     "test ad",
		Year:      2020,
		Price:     10000,
		CreatedAt: createdAt,
	}
}

func newLoadedAdSync() *Synchronizer[*Ad] {
	sync := NewSynchronizer(AdSyncAdapter())
	sync.LoadSnapshot(nil)
	return sync
}

func TestApplyCreateIdempotent(t *testing.T) {
	sync := newLoadedAdSync()

	first := testAd(1, testTime(0))
	first.Title = "original"
	sync.ApplyCreate(first)

	duplicate := testAd(1, testTime(5))
	duplicate.Title = "overwrite attempt"
	sync.ApplyCreate(duplicate)

	assert.Equal(t, 1, sync.Len())
	ad, ok := sync.Get(1)
	assert.Equal(t, true, ok)
	assert.Equal(t, "original", ad.Title)
}

func TestCounterMonotonic(t *testing.T) {
	sync := newLoadedAdSync()
	ad := testAd(1, testTime(0))
	ad.ViewCount = 5
	sync.ApplyCreate(ad)

	events := []ChangeEvent{}
	dispose := sync.AddChangeCallback(func(event ChangeEvent) {
		events = append(events, event)
	})
	defer dispose()

	for _, value := range []int64{7, 9, 6, 9, 8} {
		sync.ApplyCounterUpdate(1, value)
	}

	current, _ := sync.Get(1)
	assert.Equal(t, int64(9), current.ViewCount)
	// only the strictly increasing values fired notifications
	assert.Equal(t, 2, len(events))
	for _, event := range events {
		assert.Equal(t, ChangeCounter, event.Kind)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	sync := newLoadedAdSync()
	sync.ApplyCreate(testAd(1, testTime(0)))
	sync.ApplyCreate(testAd(2, testTime(1)))

	sync.ApplyDelete(1)
	assert.Equal(t, 1, sync.Len())

	sync.ApplyDelete(1)
	assert.Equal(t, 1, sync.Len())
	_, ok := sync.Get(2)
	assert.Equal(t, true, ok)
}

func TestSnapshotThenReplay(t *testing.T) {
	sync := NewSynchronizer(AdSyncAdapter())

	// events arrive while the bulk fetch is still in flight
	sync.ApplyCreate(testAd(3, testTime(10)))
	sync.ApplyCounterUpdate(3, 4)
	assert.Equal(t, 0, sync.Len())

	sync.LoadSnapshot([]*Ad{
		testAd(1, testTime(0)),
		testAd(2, testTime(5)),
	})

	assert.Equal(t, 3, sync.Len())
	replayed, ok := sync.Get(3)
	assert.Equal(t, true, ok)
	assert.Equal(t, int64(4), replayed.ViewCount)
}

func TestSnapshotReplacesWholesale(t *testing.T) {
	sync := newLoadedAdSync()
	sync.ApplyCreate(testAd(1, testTime(0)))
	sync.ApplyCreate(testAd(2, testTime(1)))

	sync.LoadSnapshot([]*Ad{testAd(5, testTime(2))})

	assert.Equal(t, 1, sync.Len())
	_, ok := sync.Get(1)
	assert.Equal(t, false, ok)
}

func TestHighlightStability(t *testing.T) {
	sync := newLoadedAdSync()
	// newest first: A(4), B(3), C(2), D(1)
	a := testAd(10, testTime(4))
	b := testAd(11, testTime(3))
	c := testAd(12, testTime(2))
	d := testAd(13, testTime(1))
	sync.LoadSnapshot([]*Ad{a, b, c, d})

	ids := func() []int64 {
		out := []int64{}
		for _, ad := range sync.Items() {
			out = append(out, ad.Id)
		}
		return out
	}

	assert.Equal(t, []int64{10, 11, 12, 13}, ids())

	sync.Highlight(11)
	assert.Equal(t, []int64{11, 10, 12, 13}, ids())

	sync.ClearHighlight()
	assert.Equal(t, []int64{10, 11, 12, 13}, ids())
}

func TestOptimisticReconcile(t *testing.T) {
	sync := newLoadedAdSync()

	tempKey := NewTempKey()
	optimistic := &Ad{Title: "X", CreatedAt: testTime(0)}
	sync.ApplyOptimistic(tempKey, optimistic)
	assert.Equal(t, 1, sync.Len())

	confirmed := testAd(42, testTime(0))
	confirmed.Title = "X"
	sync.ReconcileOptimistic(tempKey, confirmed)

	assert.Equal(t, 1, sync.Len())
	ad, ok := sync.Get(42)
	assert.Equal(t, true, ok)
	assert.Equal(t, "X", ad.Title)
}

func TestOptimisticReconcileRacesPushCreate(t *testing.T) {
	sync := newLoadedAdSync()

	tempKey := NewTempKey()
	sync.ApplyOptimistic(tempKey, &Ad{Title: "X", CreatedAt: testTime(0)})

	// the push echo for the same server id lands before the REST response
	echo := testAd(42, testTime(0))
	echo.Title = "X"
	echo.ViewCount = 1
	sync.ApplyCreate(echo)

	confirmed := testAd(42, testTime(0))
	confirmed.Title = "X"
	sync.ReconcileOptimistic(tempKey, confirmed)

	assert.Equal(t, 1, sync.Len())
	ad, _ := sync.Get(42)
	// merge keeps the counter the echo carried
	assert.Equal(t, int64(1), ad.ViewCount)
}

func TestCounterEventNoDuplicateRow(t *testing.T) {
	sync := NewSynchronizer(AdSyncAdapter())
	snapshot := testAd(1, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	snapshot.ViewCount = 5
	sync.LoadSnapshot([]*Ad{snapshot})

	sync.ApplyCounterUpdate(1, 6)

	items := sync.Items()
	assert.Equal(t, 1, len(items))
	assert.Equal(t, int64(6), items[0].ViewCount)
}

func TestUpdateUnknownIdDropped(t *testing.T) {
	sync := newLoadedAdSync()

	update := testAd(99, testTime(0))
	sync.ApplyUpdate(update)

	assert.Equal(t, 0, sync.Len())
}

func TestUpdateMergesFields(t *testing.T) {
	sync := newLoadedAdSync()
	ad := testAd(1, testTime(0))
	ad.Color = "red"
	ad.ViewCount = 3
	sync.ApplyCreate(ad)

	sync.ApplyUpdate(&Ad{Id: 1, Price: 12500})

	merged, _ := sync.Get(1)
	assert.Equal(t, int64(12500), merged.Price)
	assert.Equal(t, "red", merged.Color)
	assert.Equal(t, int64(3), merged.ViewCount)
	assert.Equal(t, testTime(0), merged.CreatedAt)
}

func TestUpsertCreatesOrMerges(t *testing.T) {
	sync := newLoadedAdSync()

	created := testAd(1, testTime(0))
	created.Color = "red"
	sync.ApplyUpsert(created)
	assert.Equal(t, 1, sync.Len())

	sync.ApplyUpsert(&Ad{Id: 1, Price: 12500})
	merged, _ := sync.Get(1)
	assert.Equal(t, int64(12500), merged.Price)
	assert.Equal(t, "red", merged.Color)
}

func TestUpsertBeforeSnapshotMergesOverStaleRow(t *testing.T) {
	sync := NewSynchronizer(BiographySyncAdapter())

	// a save lands while the bulk fetch is still in flight
	saved := testBiography(5, "g1", false, testTime(100))
	saved.Text = "new text"
	sync.ApplyUpsert(saved)

	// the fetch returns an older version of the same entry
	stale := testBiography(5, "g1", false, testTime(50))
	stale.Text = "old text"
	sync.LoadSnapshot([]*BiographyEntry{stale})

	entry, ok := sync.Get(5)
	assert.Equal(t, true, ok)
	assert.Equal(t, "new text", entry.Text)
	assert.Equal(t, testTime(100), entry.UpdatedAt)
}

func TestEchoSuppression(t *testing.T) {
	sync := newLoadedAdSync()
	sync.ApplyCreate(testAd(1, testTime(0)))

	notified := 0
	dispose := sync.AddChangeCallback(func(event ChangeEvent) {
		notified += 1
	})
	defer dispose()

	sync.MarkLocalWrite(1)
	sync.ApplyUpdate(&Ad{Id: 1, Price: 999})

	// the echo applied silently
	assert.Equal(t, 0, notified)
	ad, _ := sync.Get(1)
	assert.Equal(t, int64(999), ad.Price)

	// the mark is consumed: the next remote update notifies
	sync.ApplyUpdate(&Ad{Id: 1, Price: 1000})
	assert.Equal(t, 1, notified)
}

func TestMalformedItemDropped(t *testing.T) {
	sync := newLoadedAdSync()

	sync.ApplyCreate(&Ad{Title: "no id"})
	sync.ApplyUpdate(&Ad{Title: "no id"})
	sync.ApplyDelete(0)

	assert.Equal(t, 0, sync.Len())
}

func TestRollbackOptimistic(t *testing.T) {
	sync := newLoadedAdSync()

	tempKey := NewTempKey()
	sync.ApplyOptimistic(tempKey, &Ad{Title: "doomed", CreatedAt: testTime(0)})
	assert.Equal(t, 1, sync.Len())

	sync.RollbackOptimistic(tempKey)
	assert.Equal(t, 0, sync.Len())

	// repeated rollback is a no-op
	sync.RollbackOptimistic(tempKey)
	assert.Equal(t, 0, sync.Len())
}

func TestBumpCounterSuppressesEcho(t *testing.T) {
	sync := newLoadedAdSync()
	ad := testAd(1, testTime(0))
	ad.ViewCount = 5
	sync.ApplyCreate(ad)

	remoteNotified := 0
	dispose := sync.AddChangeCallback(func(event ChangeEvent) {
		if event.Origin == OriginRemote {
			remoteNotified += 1
		}
	})
	defer dispose()

	sync.BumpCounter(1, 6)
	current, _ := sync.Get(1)
	assert.Equal(t, int64(6), current.ViewCount)

	// the push echo carries a higher server count: applied, but silently
	sync.ApplyCounterUpdate(1, 7)
	current, _ = sync.Get(1)
	assert.Equal(t, int64(7), current.ViewCount)
	assert.Equal(t, 0, remoteNotified)
}

func TestStaleCounterEchoConsumesMark(t *testing.T) {
	sync := newLoadedAdSync()
	ad := testAd(1, testTime(0))
	ad.ViewCount = 5
	sync.ApplyCreate(ad)

	remoteNotified := 0
	dispose := sync.AddChangeCallback(func(event ChangeEvent) {
		if event.Origin == OriginRemote {
			remoteNotified += 1
		}
	})
	defer dispose()

	sync.BumpCounter(1, 6)

	// the echo carries the same count and is dropped as stale,
	// which must still consume the suppression mark
	sync.ApplyCounterUpdate(1, 6)
	assert.Equal(t, 0, remoteNotified)

	// a later remote counter event notifies normally
	sync.ApplyCounterUpdate(1, 9)
	assert.Equal(t, 1, remoteNotified)
	current, _ := sync.Get(1)
	assert.Equal(t, int64(9), current.ViewCount)
}

func TestItemsReturnsFreshSlice(t *testing.T) {
	sync := newLoadedAdSync()
	sync.ApplyCreate(testAd(1, testTime(0)))

	items := sync.Items()
	items[0] = nil

	again := sync.Items()
	assert.Equal(t, int64(1), again[0].Id)
}
