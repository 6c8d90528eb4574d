package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lyzr/datavault/cmd/vault/models"
	"github.com/lyzr/datavault/common/logger"
	"github.com/lyzr/datavault/common/metrics"
	"github.com/lyzr/datavault/common/queue"
)

var (
	// ErrQuotaExceeded is returned when content would push an owner past the storage limit
	ErrQuotaExceeded = errors.New("MAX_STORAGE_REACHED")

	// ErrInvariantViolation is re-exported for callers of the service package
	ErrInvariantViolation = models.ErrInvariantViolation
)

// OrphanedPinsTopic carries pins that could not be released after a failed index write
const OrphanedPinsTopic = "vault.orphaned_pins"

// orphanCleanupTimeout bounds the pin release after a failed index write.
// The release outlives the request so a cancelled caller cannot leak the pin.
const orphanCleanupTimeout = 30 * time.Second

// BlobStore stores content by its content id
type BlobStore interface {
	Put(ctx context.Context, content []byte) (string, error)
	Get(ctx context.Context, cid string) ([]byte, error)
}

// PinManager reference-counts pins on the blob store
type PinManager interface {
	Pin(ctx context.Context, cid string) error
	Unpin(ctx context.Context, cid string) (bool, error)
}

// MetadataIndex maps (owner, key) to content ids and their sizes.
// An empty cid in GetUsedStorageByOwnerKeyAndContentID means "whole key".
type MetadataIndex interface {
	Save(ctx context.Context, owner, key, cid string, size int64) error
	Find(ctx context.Context, owner, key string) ([]string, error)
	FindOldest(ctx context.Context, owner, key, cid string) (*models.Metadata, error)
	Delete(ctx context.Context, owner, key, cid string) (bool, error)
	GetKeys(ctx context.Context, owner string) ([]string, error)
	GetUsedStorage(ctx context.Context, owner string) (int64, error)
	GetUsedStorageByOwnerKeyAndContentID(ctx context.Context, owner, key, cid string) (int64, error)
	GetBackup(ctx context.Context, owner string) ([]models.BackupEntry, error)
}

// StorageService stores owner content on the blob store, keeps it pinned
// while referenced and enforces the per-owner quota
type StorageService struct {
	blobs      BlobStore
	pins       PinManager
	index      MetadataIndex
	queue      queue.Queue
	metrics    metrics.StorageMetrics
	log        *logger.Logger
	maxStorage int64
	locks      *ownerLocks
}

// StorageServiceOpts contains options for creating a StorageService
type StorageServiceOpts struct {
	Blobs      BlobStore
	Pins       PinManager
	Index      MetadataIndex
	MaxStorage int64

	// Queue receives orphaned pins; nil disables publishing
	Queue queue.Queue

	// Metrics defaults to a no-op implementation
	Metrics metrics.StorageMetrics
	Logger  *logger.Logger
}

// NewStorageService creates a new storage service with options pattern
func NewStorageService(opts *StorageServiceOpts) *StorageService {
	m := opts.Metrics
	if m == nil {
		m = metrics.NewNoopStorageMetrics()
	}

	return &StorageService{
		blobs:      opts.Blobs,
		pins:       opts.Pins,
		index:      opts.Index,
		queue:      opts.Queue,
		metrics:    m,
		log:        opts.Logger,
		maxStorage: opts.MaxStorage,
		locks:      newOwnerLocks(),
	}
}

// MaxStorage returns the per-owner quota in bytes
func (s *StorageService) MaxStorage() int64 {
	return s.maxStorage
}

// Create stores content under (owner, key) and returns its content id
func (s *StorageService) Create(ctx context.Context, owner, key string, content []byte) (cid string, err error) {
	defer s.observe("create", time.Now(), &err)

	unlock := s.locks.lock(owner)
	defer unlock()

	return s.create(ctx, owner, key, content)
}

func (s *StorageService) create(ctx context.Context, owner, key string, content []byte) (string, error) {
	size := int64(len(content))
	if size > s.maxStorage {
		return "", ErrQuotaExceeded
	}

	available, err := s.available(ctx, owner)
	if err != nil {
		return "", err
	}
	if size > available {
		return "", ErrQuotaExceeded
	}

	cid, err := s.blobs.Put(ctx, content)
	if err != nil {
		return "", fmt.Errorf("failed to store content: %w", err)
	}

	if err := s.pins.Pin(ctx, cid); err != nil {
		return "", err
	}

	if err := s.index.Save(ctx, owner, key, cid, size); err != nil {
		s.releaseOrphan(ctx, owner, key, cid, err)
		return "", err
	}

	s.metrics.RecordBytes("create", len(content))
	s.log.WithDID(owner).Info("content created", "key", key, "cid", cid, "size", size)
	return cid, nil
}

// releaseOrphan undoes the pin taken for an entry whose index write failed.
// If that fails too, the pin is handed to the reconciler.
func (s *StorageService) releaseOrphan(ctx context.Context, owner, key, cid string, cause error) {
	log := s.log.WithDID(owner).WithCID(cid)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), orphanCleanupTimeout)
	defer cancel()

	_, err := s.pins.Unpin(ctx, cid)
	if err == nil {
		log.Warn("released pin after failed index write", "key", key, "cause", cause)
		return
	}
	log.Error("failed to release pin after failed index write", "key", key, "error", err)

	if s.queue == nil {
		return
	}

	payload, err := json.Marshal(models.OrphanedPin{CID: cid, DID: owner, Key: key, Reason: cause.Error()})
	if err != nil {
		log.Error("failed to encode orphaned pin", "error", err)
		return
	}
	if err := s.queue.Publish(ctx, OrphanedPinsTopic, cid, payload); err != nil {
		log.Error("failed to publish orphaned pin", "error", err)
	}
}

// Get returns every item under (owner, key) in creation order
func (s *StorageService) Get(ctx context.Context, owner, key string) (items []models.ContentItem, err error) {
	defer s.observe("get", time.Now(), &err)

	cids, err := s.index.Find(ctx, owner, key)
	if err != nil {
		return nil, err
	}

	items = make([]models.ContentItem, 0, len(cids))
	total := 0
	for _, cid := range cids {
		content, err := s.blobs.Get(ctx, cid)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch content %s: %w", cid, err)
		}
		total += len(content)
		items = append(items, models.ContentItem{ID: cid, Content: content})
	}

	s.metrics.RecordBytes("get", total)
	return items, nil
}

// Delete removes the entry (owner, key, cid), or every entry under (owner, key)
// when cid is empty. Returns false if nothing matched, or if any entry of a
// whole-key delete was already gone.
func (s *StorageService) Delete(ctx context.Context, owner, key, cid string) (ok bool, err error) {
	defer s.observe("delete", time.Now(), &err)

	unlock := s.locks.lock(owner)
	defer unlock()

	return s.delete(ctx, owner, key, cid)
}

func (s *StorageService) delete(ctx context.Context, owner, key, cid string) (bool, error) {
	if cid != "" {
		return s.deleteOne(ctx, owner, key, cid)
	}

	cids, err := s.index.Find(ctx, owner, key)
	if err != nil {
		return false, err
	}
	if len(cids) == 0 {
		return false, nil
	}

	all := true
	for _, id := range cids {
		removed, err := s.deleteOne(ctx, owner, key, id)
		if err != nil {
			return false, err
		}
		if !removed {
			all = false
		}
	}
	return all, nil
}

func (s *StorageService) deleteOne(ctx context.Context, owner, key, cid string) (bool, error) {
	removed, err := s.index.Delete(ctx, owner, key, cid)
	if err != nil {
		return false, err
	}
	if !removed {
		return false, nil
	}

	released, err := s.pins.Unpin(ctx, cid)
	if err != nil {
		return false, err
	}
	if !released {
		s.log.WithDID(owner).Error("deleted entry had no pin", "key", key, "cid", cid)
		return false, fmt.Errorf("%w: entry %s/%s had no pin record", ErrInvariantViolation, key, cid)
	}

	s.log.WithDID(owner).Info("content deleted", "key", key, "cid", cid)
	return true, nil
}

// Update swaps the content under (owner, key), scoped to cid when given, for
// content. Quota is checked against the net change before anything is deleted.
func (s *StorageService) Update(ctx context.Context, owner, key string, content []byte, cid string) (newCID string, err error) {
	defer s.observe("update", time.Now(), &err)

	unlock := s.locks.lock(owner)
	defer unlock()

	addSize := int64(len(content))
	if addSize > s.maxStorage {
		return "", ErrQuotaExceeded
	}

	available, err := s.available(ctx, owner)
	if err != nil {
		return "", err
	}

	if addSize > available {
		removable, err := s.removable(ctx, owner, key, cid)
		if err != nil {
			return "", err
		}
		if addSize > available+removable {
			return "", ErrQuotaExceeded
		}
	}

	if _, err := s.delete(ctx, owner, key, cid); err != nil {
		return "", err
	}

	return s.create(ctx, owner, key, content)
}

// removable returns the bytes delete(owner, key, cid) would free
func (s *StorageService) removable(ctx context.Context, owner, key, cid string) (int64, error) {
	if cid == "" {
		return s.index.GetUsedStorageByOwnerKeyAndContentID(ctx, owner, key, "")
	}

	entry, err := s.index.FindOldest(ctx, owner, key, cid)
	if err != nil || entry == nil {
		return 0, err
	}
	return entry.ContentSize, nil
}

// GetKeys returns the owner's distinct keys in first-seen order
func (s *StorageService) GetKeys(ctx context.Context, owner string) ([]string, error) {
	return s.index.GetKeys(ctx, owner)
}

// GetUsedStorage returns the bytes stored by owner
func (s *StorageService) GetUsedStorage(ctx context.Context, owner string) (int64, error) {
	return s.index.GetUsedStorage(ctx, owner)
}

// GetAvailableStorage returns the bytes owner may still store, never below zero
func (s *StorageService) GetAvailableStorage(ctx context.Context, owner string) (int64, error) {
	available, err := s.available(ctx, owner)
	if err != nil {
		return 0, err
	}
	return max(available, 0), nil
}

// GetBackup lists every stored entry of owner in creation order
func (s *StorageService) GetBackup(ctx context.Context, owner string) ([]models.BackupEntry, error) {
	return s.index.GetBackup(ctx, owner)
}

// available may be negative if the quota was lowered after content was stored
func (s *StorageService) available(ctx context.Context, owner string) (int64, error) {
	used, err := s.index.GetUsedStorage(ctx, owner)
	if err != nil {
		return 0, err
	}
	return s.maxStorage - used, nil
}

func (s *StorageService) observe(operation string, start time.Time, errp *error) {
	status := metrics.StatusSuccess
	switch {
	case errors.Is(*errp, ErrQuotaExceeded):
		status = metrics.StatusQuotaExceeded
	case *errp != nil:
		status = metrics.StatusError
	}
	s.metrics.RecordOperation(operation, time.Since(start), status)
}
