package service

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/lyzr/datavault/cmd/vault/models"
	"github.com/lyzr/datavault/common/clients"
	"github.com/lyzr/datavault/common/did"
)

var errInjected = errors.New("injected failure")

// memBlobStore is a content-addressed in-memory BlobStore that also acts as PinBackend
type memBlobStore struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	pinned  map[string]bool
	puts    int
	pinAdds int
	pinRms  int

	failPut   bool
	failPinRm bool
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: map[string][]byte{}, pinned: map[string]bool{}}
}

func (m *memBlobStore) Put(ctx context.Context, content []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return "", errInjected
	}
	m.puts++
	sum := sha256.Sum256(content)
	cid := fmt.Sprintf("bafy%x", sum[:12])
	m.blobs[cid] = append([]byte(nil), content...)
	return cid, nil
}

func (m *memBlobStore) Get(ctx context.Context, cid string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.blobs[cid]
	if !ok {
		return nil, clients.ErrNotFound
	}
	return content, nil
}

func (m *memBlobStore) PinAdd(ctx context.Context, cid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinAdds++
	m.pinned[cid] = true
	return nil
}

func (m *memBlobStore) PinRm(ctx context.Context, cid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPinRm {
		return errInjected
	}
	m.pinRms++
	delete(m.pinned, cid)
	return nil
}

func (m *memBlobStore) isPinned(cid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pinned[cid]
}

// memPinStore mirrors PinRepository: the callback runs under the lock, a
// failing callback leaves the count untouched and a done ctx fails like
// beginning a transaction would
type memPinStore struct {
	mu     sync.Mutex
	counts map[string]int
}

func newMemPinStore() *memPinStore {
	return &memPinStore{counts: map[string]int{}}
}

func (m *memPinStore) Acquire(ctx context.Context, cid string, pin func(context.Context) error) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := pin(ctx); err != nil {
		return 0, err
	}
	m.counts[cid]++
	return m.counts[cid], nil
}

func (m *memPinStore) Release(ctx context.Context, cid string, unpin func(context.Context) error) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	count, ok := m.counts[cid]
	if !ok {
		return false, nil
	}
	if count < 1 {
		return false, ErrInvariantViolation
	}
	if count > 1 {
		m.counts[cid]--
		return true, nil
	}
	if err := unpin(ctx); err != nil {
		return false, err
	}
	delete(m.counts, cid)
	return true, nil
}

func (m *memPinStore) Count(ctx context.Context, cid string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[cid], nil
}

type memRow struct {
	did, key, cid string
	size          int64
}

// memIndex is an in-memory MetadataIndex; slice order is creation order
type memIndex struct {
	mu       sync.Mutex
	rows     []memRow
	failSave bool

	// onSave runs before every Save
	onSave func()
}

func newMemIndex() *memIndex {
	return &memIndex{}
}

func (m *memIndex) Save(ctx context.Context, owner, key, cid string, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.onSave != nil {
		m.onSave()
	}
	if m.failSave {
		return errInjected
	}
	m.rows = append(m.rows, memRow{did: did.Normalize(owner), key: key, cid: cid, size: size})
	return nil
}

func (m *memIndex) Find(ctx context.Context, owner, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner = did.Normalize(owner)
	cids := []string{}
	for _, r := range m.rows {
		if r.did == owner && r.key == key {
			cids = append(cids, r.cid)
		}
	}
	return cids, nil
}

func (m *memIndex) FindOldest(ctx context.Context, owner, key, cid string) (*models.Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner = did.Normalize(owner)
	for i, r := range m.rows {
		if r.did == owner && r.key == key && r.cid == cid {
			return &models.Metadata{ID: int64(i + 1), DID: r.did, Key: r.key, CID: r.cid, ContentSize: r.size}, nil
		}
	}
	return nil, nil
}

func (m *memIndex) Delete(ctx context.Context, owner, key, cid string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner = did.Normalize(owner)
	for i, r := range m.rows {
		if r.did == owner && r.key == key && r.cid == cid {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *memIndex) GetKeys(ctx context.Context, owner string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner = did.Normalize(owner)
	seen := map[string]bool{}
	keys := []string{}
	for _, r := range m.rows {
		if r.did == owner && !seen[r.key] {
			seen[r.key] = true
			keys = append(keys, r.key)
		}
	}
	return keys, nil
}

func (m *memIndex) GetUsedStorage(ctx context.Context, owner string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner = did.Normalize(owner)
	var used int64
	for _, r := range m.rows {
		if r.did == owner {
			used += r.size
		}
	}
	return used, nil
}

func (m *memIndex) GetUsedStorageByOwnerKeyAndContentID(ctx context.Context, owner, key, cid string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner = did.Normalize(owner)
	var used int64
	for _, r := range m.rows {
		if r.did == owner && r.key == key && (cid == "" || r.cid == cid) {
			used += r.size
		}
	}
	return used, nil
}

func (m *memIndex) GetBackup(ctx context.Context, owner string) ([]models.BackupEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner = did.Normalize(owner)
	entries := []models.BackupEntry{}
	for _, r := range m.rows {
		if r.did == owner {
			entries = append(entries, models.BackupEntry{Key: r.key, ID: r.cid})
		}
	}
	return entries, nil
}

// insert adds a row directly, bypassing quota, to simulate a lowered limit
func (m *memIndex) insert(owner, key, cid string, size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, memRow{did: did.Normalize(owner), key: key, cid: cid, size: size})
}
