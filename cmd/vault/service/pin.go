package service

import (
	"context"
	"fmt"

	"github.com/lyzr/datavault/common/logger"
	"github.com/lyzr/datavault/common/metrics"
)

// PinBackend is the content backend's pin API
type PinBackend interface {
	PinAdd(ctx context.Context, cid string) error
	PinRm(ctx context.Context, cid string) error
}

// PinStore holds the local reference counts. Acquire and Release run the
// backend call while the count is locked and commit only if it succeeds.
type PinStore interface {
	Acquire(ctx context.Context, cid string, pin func(context.Context) error) (int, error)
	Release(ctx context.Context, cid string, unpin func(context.Context) error) (bool, error)
}

// PinService reference-counts pins so shared content is only released
// from the backend when its last reference goes
type PinService struct {
	backend PinBackend
	store   PinStore
	metrics metrics.StorageMetrics
	log     *logger.Logger
}

// NewPinService creates a new pin service
func NewPinService(backend PinBackend, store PinStore, m metrics.StorageMetrics, log *logger.Logger) *PinService {
	if m == nil {
		m = metrics.NewNoopStorageMetrics()
	}
	return &PinService{
		backend: backend,
		store:   store,
		metrics: m,
		log:     log,
	}
}

// Pin pins cid on the backend and adds one local reference
func (s *PinService) Pin(ctx context.Context, cid string) error {
	count, err := s.store.Acquire(ctx, cid, func(ctx context.Context) error {
		err := s.backend.PinAdd(ctx, cid)
		s.metrics.RecordPin("pin", err)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to pin %s: %w", cid, err)
	}

	s.log.Debug("pinned content", "cid", cid, "references", count)
	return nil
}

// Unpin drops one local reference to cid, releasing the backend pin with the
// last one. Returns false without touching the backend when cid has no references.
func (s *PinService) Unpin(ctx context.Context, cid string) (bool, error) {
	released, err := s.store.Release(ctx, cid, func(ctx context.Context) error {
		err := s.backend.PinRm(ctx, cid)
		s.metrics.RecordPin("unpin", err)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to unpin %s: %w", cid, err)
	}

	if !released {
		s.log.Warn("unpin of unknown content", "cid", cid)
	}
	return released, nil
}
