package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lyzr/datavault/cmd/vault/models"
	"github.com/lyzr/datavault/common/logger"
	"github.com/lyzr/datavault/common/queue"
)

// Reconciler releases pins that were taken for entries the index never recorded
type Reconciler struct {
	queue queue.Queue
	pins  PinManager
	log   *logger.Logger
}

// NewReconciler creates a new reconciler
func NewReconciler(q queue.Queue, pins PinManager, log *logger.Logger) *Reconciler {
	return &Reconciler{
		queue: q,
		pins:  pins,
		log:   log,
	}
}

// Start subscribes to orphaned pin events until ctx is done
func (r *Reconciler) Start(ctx context.Context) error {
	if err := r.queue.Subscribe(ctx, OrphanedPinsTopic, r.handle); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", OrphanedPinsTopic, err)
	}
	return nil
}

func (r *Reconciler) handle(ctx context.Context, key string, value []byte) error {
	var orphan models.OrphanedPin
	if err := json.Unmarshal(value, &orphan); err != nil {
		return fmt.Errorf("failed to decode orphaned pin %s: %w", key, err)
	}

	log := r.log.WithCID(orphan.CID).WithDID(orphan.DID)

	released, err := r.pins.Unpin(ctx, orphan.CID)
	if err != nil {
		return fmt.Errorf("failed to release orphaned pin %s: %w", orphan.CID, err)
	}

	if released {
		log.Info("orphaned pin released", "key", orphan.Key)
	} else {
		log.Warn("orphaned pin already gone", "key", orphan.Key)
	}
	return nil
}
