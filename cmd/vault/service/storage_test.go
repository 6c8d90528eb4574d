package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lyzr/datavault/cmd/vault/models"
	"github.com/lyzr/datavault/common/logger"
	"github.com/lyzr/datavault/common/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const owner = "did:key:z6MkOwner"

type storageFixture struct {
	svc   *StorageService
	blobs *memBlobStore
	pins  *memPinStore
	index *memIndex
	queue *queue.MemoryQueue
}

func newStorageFixture(t *testing.T, maxStorage int64) *storageFixture {
	t.Helper()

	log := logger.Discard()
	blobs := newMemBlobStore()
	pins := newMemPinStore()
	index := newMemIndex()
	q := queue.NewMemoryQueue(log)
	t.Cleanup(func() { q.Close() })

	svc := NewStorageService(&StorageServiceOpts{
		Blobs:      blobs,
		Pins:       NewPinService(blobs, pins, nil, log),
		Index:      index,
		MaxStorage: maxStorage,
		Queue:      q,
		Logger:     log,
	})

	return &storageFixture{svc: svc, blobs: blobs, pins: pins, index: index, queue: q}
}

func contents(items []models.ContentItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = string(item.Content)
	}
	return out
}

func TestCreate_QuotaScenario(t *testing.T) {
	f := newStorageFixture(t, 100)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, owner, "k", []byte(strings.Repeat("a", 50)))
	require.NoError(t, err)

	available, err := f.svc.GetAvailableStorage(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(50), available)

	_, err = f.svc.Create(ctx, owner, "k", []byte(strings.Repeat("b", 60)))
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, "MAX_STORAGE_REACHED", err.Error())

	used, err := f.svc.GetUsedStorage(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(50), used)
}

func TestCreate_ContentLargerThanQuota(t *testing.T) {
	f := newStorageFixture(t, 10)

	_, err := f.svc.Create(context.Background(), owner, "k", make([]byte, 11))
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Zero(t, f.blobs.puts, "no backend write for content that cannot fit")
}

func TestCreate_FillsQuotaExactly(t *testing.T) {
	f := newStorageFixture(t, 10)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, owner, "k", make([]byte, 10))
	require.NoError(t, err)

	available, err := f.svc.GetAvailableStorage(ctx, owner)
	require.NoError(t, err)
	assert.Zero(t, available)

	_, err = f.svc.Create(ctx, owner, "k", []byte{1})
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestCreate_NegativeAvailableRejectsWrites(t *testing.T) {
	f := newStorageFixture(t, 100)
	ctx := context.Background()
	f.index.insert(owner, "legacy", "bafylegacy", 150)

	_, err := f.svc.Create(ctx, owner, "k", []byte("x"))
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	available, err := f.svc.GetAvailableStorage(ctx, owner)
	require.NoError(t, err)
	assert.Zero(t, available, "external figure is floored at zero")
}

func TestCreate_OwnerIsCaseInsensitive(t *testing.T) {
	f := newStorageFixture(t, 100)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, "did:key:z6MkOwner", "k", []byte("hello"))
	require.NoError(t, err)

	items, err := f.svc.Get(ctx, "DID:KEY:Z6MKOWNER", "k")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, contents(items))

	used, err := f.svc.GetUsedStorage(ctx, "did:key:z6mkowner")
	require.NoError(t, err)
	assert.Equal(t, int64(5), used)
}

func TestGet_PreservesCreationOrder(t *testing.T) {
	f := newStorageFixture(t, 100)
	ctx := context.Background()

	var ids []string
	for _, c := range []string{"one", "two", "three"} {
		id, err := f.svc.Create(ctx, owner, "k", []byte(c))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	items, err := f.svc.Get(ctx, owner, "k")
	require.NoError(t, err)
	require.Len(t, items, 3)
	for i, item := range items {
		assert.Equal(t, ids[i], item.ID)
	}
	assert.Equal(t, []string{"one", "two", "three"}, contents(items))
}

func TestGet_EmptyKey(t *testing.T) {
	f := newStorageFixture(t, 100)

	items, err := f.svc.Get(context.Background(), owner, "missing")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestGetKeysAndBackup_Scenario(t *testing.T) {
	f := newStorageFixture(t, 100)
	ctx := context.Background()

	x, err := f.svc.Create(ctx, owner, "k1", []byte("x"))
	require.NoError(t, err)
	y, err := f.svc.Create(ctx, owner, "k1", []byte("y"))
	require.NoError(t, err)

	keys, err := f.svc.GetKeys(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, keys)

	backup, err := f.svc.GetBackup(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, []models.BackupEntry{{Key: "k1", ID: x}, {Key: "k1", ID: y}}, backup)
}

func TestGetKeys_FirstSeenOrder(t *testing.T) {
	f := newStorageFixture(t, 100)
	ctx := context.Background()

	for _, key := range []string{"b", "a", "b", "c", "a"} {
		_, err := f.svc.Create(ctx, owner, key, []byte(key))
		require.NoError(t, err)
	}

	keys, err := f.svc.GetKeys(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, keys)
}

func TestDelete_Missing(t *testing.T) {
	f := newStorageFixture(t, 100)
	ctx := context.Background()

	ok, err := f.svc.Delete(ctx, owner, "nonexistent", "")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.svc.Create(ctx, owner, "k", []byte("v"))
	require.NoError(t, err)

	ok, err = f.svc.Delete(ctx, owner, "k", "nonexistent-cid")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, f.blobs.pinRms)
}

func TestDelete_ByKeyRemovesAll(t *testing.T) {
	f := newStorageFixture(t, 100)
	ctx := context.Background()

	var ids []string
	for _, c := range []string{"a", "b", "c"} {
		id, err := f.svc.Create(ctx, owner, "k", []byte(c))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	ok, err := f.svc.Delete(ctx, owner, "k", "")
	require.NoError(t, err)
	assert.True(t, ok)

	items, err := f.svc.Get(ctx, owner, "k")
	require.NoError(t, err)
	assert.Empty(t, items)

	used, err := f.svc.GetUsedStorage(ctx, owner)
	require.NoError(t, err)
	assert.Zero(t, used)

	for _, id := range ids {
		assert.False(t, f.blobs.isPinned(id))
	}
}

func TestDelete_ByIDRemovesExactlyOne(t *testing.T) {
	f := newStorageFixture(t, 100)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, owner, "k", []byte("first"))
	require.NoError(t, err)
	second, err := f.svc.Create(ctx, owner, "k", []byte("second"))
	require.NoError(t, err)

	ok, err := f.svc.Delete(ctx, owner, "k", first)
	require.NoError(t, err)
	assert.True(t, ok)

	items, err := f.svc.Get(ctx, owner, "k")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, second, items[0].ID)
}

func TestDelete_DuplicateContentUnderOneKey(t *testing.T) {
	f := newStorageFixture(t, 100)
	ctx := context.Background()

	id, err := f.svc.Create(ctx, owner, "k", []byte("same"))
	require.NoError(t, err)
	again, err := f.svc.Create(ctx, owner, "k", []byte("same"))
	require.NoError(t, err)
	require.Equal(t, id, again)

	ok, err := f.svc.Delete(ctx, owner, "k", id)
	require.NoError(t, err)
	assert.True(t, ok)

	items, err := f.svc.Get(ctx, owner, "k")
	require.NoError(t, err)
	assert.Len(t, items, 1, "only one duplicate row is removed")
	assert.True(t, f.blobs.isPinned(id), "remaining row still holds the pin")
}

func TestDelete_SharedContentStaysPinned(t *testing.T) {
	f := newStorageFixture(t, 100)
	ctx := context.Background()

	id, err := f.svc.Create(ctx, owner, "k1", []byte("shared"))
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, "did:key:z6MkOther", "k2", []byte("shared"))
	require.NoError(t, err)

	ok, err := f.svc.Delete(ctx, owner, "k1", "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, f.blobs.isPinned(id))

	ok, err = f.svc.Delete(ctx, "did:key:z6MkOther", "k2", id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, f.blobs.isPinned(id))
}

func TestDelete_UnpinFailurePropagates(t *testing.T) {
	f := newStorageFixture(t, 100)
	ctx := context.Background()

	id, err := f.svc.Create(ctx, owner, "k", []byte("v"))
	require.NoError(t, err)

	f.blobs.failPinRm = true
	_, err = f.svc.Delete(ctx, owner, "k", id)
	assert.ErrorIs(t, err, errInjected)

	count, err := f.pins.Count(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "local count kept when the backend refuses")
}

func TestDelete_MissingPinIsInvariantViolation(t *testing.T) {
	f := newStorageFixture(t, 100)
	f.index.insert(owner, "k", "bafyunpinned", 3)

	_, err := f.svc.Delete(context.Background(), owner, "k", "bafyunpinned")
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestUpdate_PartialReplacePreservesOrder(t *testing.T) {
	f := newStorageFixture(t, 100)
	ctx := context.Background()

	a, err := f.svc.Create(ctx, owner, "k", []byte("A"))
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, owner, "k", []byte("B"))
	require.NoError(t, err)

	c, err := f.svc.Update(ctx, owner, "k", []byte("C"), a)
	require.NoError(t, err)

	items, err := f.svc.Get(ctx, owner, "k")
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, contents(items))
	assert.Equal(t, c, items[1].ID)
}

func TestUpdate_ReplacesWholeKey(t *testing.T) {
	f := newStorageFixture(t, 100)
	ctx := context.Background()

	for _, v := range []string{"one", "two"} {
		_, err := f.svc.Create(ctx, owner, "k", []byte(v))
		require.NoError(t, err)
	}

	_, err := f.svc.Update(ctx, owner, "k", []byte("three"), "")
	require.NoError(t, err)

	items, err := f.svc.Get(ctx, owner, "k")
	require.NoError(t, err)
	assert.Equal(t, []string{"three"}, contents(items))
}

func TestUpdate_UsesFreedSpace(t *testing.T) {
	f := newStorageFixture(t, 100)
	ctx := context.Background()

	old, err := f.svc.Create(ctx, owner, "k", make([]byte, 80))
	require.NoError(t, err)

	// 90 > 20 available, but 90 <= 20 + 80 freed by the swap
	_, err = f.svc.Update(ctx, owner, "k", make([]byte, 90), old)
	require.NoError(t, err)

	used, err := f.svc.GetUsedStorage(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(90), used)
}

func TestUpdate_QuotaRejectionLeavesStateUntouched(t *testing.T) {
	f := newStorageFixture(t, 100)
	ctx := context.Background()

	a, err := f.svc.Create(ctx, owner, "a", make([]byte, 40))
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, owner, "b", make([]byte, 50))
	require.NoError(t, err)

	// 10 available + 40 removable < 60
	_, err = f.svc.Update(ctx, owner, "a", make([]byte, 60), a)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	_, err = f.svc.Update(ctx, owner, "a", make([]byte, 101), "")
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	items, err := f.svc.Get(ctx, owner, "a")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, a, items[0].ID)

	used, err := f.svc.GetUsedStorage(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(90), used)
	assert.True(t, f.blobs.isPinned(a))
}

func TestUpdate_DuplicateContentCountsOneRemovableRow(t *testing.T) {
	f := newStorageFixture(t, 100)
	ctx := context.Background()
	payload := []byte(strings.Repeat("a", 45))

	first, err := f.svc.Create(ctx, owner, "k", payload)
	require.NoError(t, err)
	second, err := f.svc.Create(ctx, owner, "k", payload)
	require.NoError(t, err)
	require.Equal(t, first, second)

	// the id delete frees one 45 byte row: 10 available + 45 < 70
	_, err = f.svc.Update(ctx, owner, "k", []byte(strings.Repeat("x", 70)), first)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	used, err := f.svc.GetUsedStorage(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(90), used)

	items, err := f.svc.Get(ctx, owner, "k")
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.True(t, f.blobs.isPinned(first))

	// 10 available + 45 >= 55
	_, err = f.svc.Update(ctx, owner, "k", []byte(strings.Repeat("y", 55)), first)
	require.NoError(t, err)

	used, err = f.svc.GetUsedStorage(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(100), used)
}

func TestCreate_SaveFailureReleasesPin(t *testing.T) {
	f := newStorageFixture(t, 100)
	ctx := context.Background()
	f.index.failSave = true

	_, err := f.svc.Create(ctx, owner, "k", []byte("v"))
	assert.ErrorIs(t, err, errInjected)

	backup, err := f.svc.GetBackup(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, backup)

	for cid := range f.blobs.blobs {
		count, err := f.pins.Count(ctx, cid)
		require.NoError(t, err)
		assert.Zero(t, count, "no pin record without a metadata entry")
		assert.False(t, f.blobs.isPinned(cid))
	}
}

func TestCreate_UnreleasablePinIsPublished(t *testing.T) {
	f := newStorageFixture(t, 100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan models.OrphanedPin, 1)
	require.NoError(t, f.queue.Subscribe(ctx, OrphanedPinsTopic, func(ctx context.Context, key string, value []byte) error {
		var orphan models.OrphanedPin
		if err := json.Unmarshal(value, &orphan); err != nil {
			return err
		}
		received <- orphan
		return nil
	}))

	f.index.failSave = true
	f.blobs.failPinRm = true

	_, err := f.svc.Create(ctx, owner, "k", []byte("v"))
	assert.ErrorIs(t, err, errInjected)

	select {
	case orphan := <-received:
		assert.Equal(t, owner, orphan.DID)
		assert.Equal(t, "k", orphan.Key)
		assert.NotEmpty(t, orphan.CID)
	case <-time.After(2 * time.Second):
		t.Fatal("orphaned pin not published")
	}
}

func TestCreate_CancelledDuringSaveStillReleasesPin(t *testing.T) {
	f := newStorageFixture(t, 100)
	ctx, cancel := context.WithCancel(context.Background())
	f.index.onSave = cancel
	f.index.failSave = true

	_, err := f.svc.Create(ctx, owner, "k", []byte("v"))
	assert.ErrorIs(t, err, errInjected)

	require.Len(t, f.blobs.blobs, 1)
	for cid := range f.blobs.blobs {
		count, err := f.pins.Count(context.Background(), cid)
		require.NoError(t, err)
		assert.Zero(t, count)
		assert.False(t, f.blobs.isPinned(cid))
	}
}

func TestCreate_CancelledDuringSaveStillPublishesOrphan(t *testing.T) {
	f := newStorageFixture(t, 100)
	subCtx, stop := context.WithCancel(context.Background())
	defer stop()

	received := make(chan models.OrphanedPin, 1)
	require.NoError(t, f.queue.Subscribe(subCtx, OrphanedPinsTopic, func(ctx context.Context, key string, value []byte) error {
		var orphan models.OrphanedPin
		if err := json.Unmarshal(value, &orphan); err != nil {
			return err
		}
		received <- orphan
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	f.index.onSave = cancel
	f.index.failSave = true
	f.blobs.failPinRm = true

	_, err := f.svc.Create(ctx, owner, "k", []byte("v"))
	assert.ErrorIs(t, err, errInjected)

	select {
	case orphan := <-received:
		assert.Equal(t, "k", orphan.Key)
		assert.True(t, f.blobs.isPinned(orphan.CID))
	case <-time.After(2 * time.Second):
		t.Fatal("orphaned pin not published")
	}
}

func TestCreate_BackendFailureLeavesNoEntry(t *testing.T) {
	f := newStorageFixture(t, 100)
	ctx := context.Background()
	f.blobs.failPut = true

	_, err := f.svc.Create(ctx, owner, "k", []byte("v"))
	assert.ErrorIs(t, err, errInjected)

	used, err := f.svc.GetUsedStorage(ctx, owner)
	require.NoError(t, err)
	assert.Zero(t, used)
	assert.Zero(t, f.blobs.pinAdds)
}

func TestQuota_ConcurrentCreatesNeverExceedLimit(t *testing.T) {
	f := newStorageFixture(t, 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = f.svc.Create(ctx, owner, "k", []byte(strings.Repeat(string(rune('a'+i)), 10)))
		}(i)
	}
	wg.Wait()

	used, err := f.svc.GetUsedStorage(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(100), used)

	items, err := f.svc.Get(ctx, owner, "k")
	require.NoError(t, err)
	assert.Len(t, items, 10)
	assert.Zero(t, f.svc.locks.size())
}

func TestQuota_UsedMatchesLiveEntries(t *testing.T) {
	f := newStorageFixture(t, 1000)
	ctx := context.Background()

	a, err := f.svc.Create(ctx, owner, "x", make([]byte, 100))
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, owner, "y", make([]byte, 200))
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, owner, "x", make([]byte, 50), a)
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, owner, "z", make([]byte, 300))
	require.NoError(t, err)
	_, err = f.svc.Delete(ctx, owner, "y", "")
	require.NoError(t, err)

	used, err := f.svc.GetUsedStorage(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(350), used)

	available, err := f.svc.GetAvailableStorage(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(650), available)
}
