package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/datavault/cmd/vault/middleware"
	"github.com/lyzr/datavault/common/logger"
)

// StorageInfo reports an owner's quota usage in bytes
type StorageInfo struct {
	Used      int64 `json:"used"`
	Available int64 `json:"available"`
}

// StorageHandler handles owner-wide listings and quota queries
type StorageHandler struct {
	store ContentStore
	log   *logger.Logger
}

// NewStorageHandler creates a new storage handler
func NewStorageHandler(store ContentStore, log *logger.Logger) *StorageHandler {
	return &StorageHandler{
		store: store,
		log:   log,
	}
}

// Keys lists the owner's keys in first-seen order
// GET /keys
func (h *StorageHandler) Keys(c echo.Context) error {
	keys, err := h.store.GetKeys(c.Request().Context(), middleware.GetDID(c))
	if err != nil {
		return storageError(c, h.log, "keys", err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"keys": keys,
	})
}

// Storage reports used and available bytes
// GET /storage
func (h *StorageHandler) Storage(c echo.Context) error {
	ctx, owner := c.Request().Context(), middleware.GetDID(c)

	used, err := h.store.GetUsedStorage(ctx, owner)
	if err != nil {
		return storageError(c, h.log, "storage", err)
	}

	available, err := h.store.GetAvailableStorage(ctx, owner)
	if err != nil {
		return storageError(c, h.log, "storage", err)
	}

	return c.JSON(http.StatusOK, StorageInfo{Used: used, Available: available})
}

// Backup lists every stored (key, id) row of the owner in creation order
// GET /backup
func (h *StorageHandler) Backup(c echo.Context) error {
	entries, err := h.store.GetBackup(c.Request().Context(), middleware.GetDID(c))
	if err != nil {
		return storageError(c, h.log, "backup", err)
	}

	return c.JSON(http.StatusOK, entries)
}
