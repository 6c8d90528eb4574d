package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/datavault/cmd/vault/middleware"
	"github.com/lyzr/datavault/cmd/vault/models"
	"github.com/lyzr/datavault/common/logger"
)

// ContentStore is the storage engine as seen by the HTTP layer
type ContentStore interface {
	Create(ctx context.Context, owner, key string, content []byte) (string, error)
	Get(ctx context.Context, owner, key string) ([]models.ContentItem, error)
	Delete(ctx context.Context, owner, key, cid string) (bool, error)
	Update(ctx context.Context, owner, key string, content []byte, cid string) (string, error)
	GetKeys(ctx context.Context, owner string) ([]string, error)
	GetUsedStorage(ctx context.Context, owner string) (int64, error)
	GetAvailableStorage(ctx context.Context, owner string) (int64, error)
	GetBackup(ctx context.Context, owner string) ([]models.BackupEntry, error)
}

// ContentRequest is the body of create and swap requests
type ContentRequest struct {
	Content string `json:"content"`
}

// ContentResponse carries one stored item
type ContentResponse struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// IDResponse carries the content id of a created or swapped item
type IDResponse struct {
	ID string `json:"id"`
}

// ContentHandler handles the owner's content under a key
type ContentHandler struct {
	store ContentStore
	log   *logger.Logger
}

// NewContentHandler creates a new content handler
func NewContentHandler(store ContentStore, log *logger.Logger) *ContentHandler {
	return &ContentHandler{
		store: store,
		log:   log,
	}
}

// Create stores new content under a key
// POST /content/:key
func (h *ContentHandler) Create(c echo.Context) error {
	var req ContentRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}

	id, err := h.store.Create(c.Request().Context(), middleware.GetDID(c), c.Param("key"), []byte(req.Content))
	if err != nil {
		return storageError(c, h.log, "create", err)
	}

	return c.JSON(http.StatusCreated, IDResponse{ID: id})
}

// Get returns every item stored under a key, oldest first
// GET /content/:key
func (h *ContentHandler) Get(c echo.Context) error {
	items, err := h.store.Get(c.Request().Context(), middleware.GetDID(c), c.Param("key"))
	if err != nil {
		return storageError(c, h.log, "get", err)
	}

	resp := make([]ContentResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, ContentResponse{ID: item.ID, Content: string(item.Content)})
	}
	return c.JSON(http.StatusOK, resp)
}

// Update swaps all content under a key, or only the item :id when given
// PUT /content/:key
// PUT /content/:key/:id
func (h *ContentHandler) Update(c echo.Context) error {
	var req ContentRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}

	id, err := h.store.Update(c.Request().Context(), middleware.GetDID(c), c.Param("key"), []byte(req.Content), c.Param("id"))
	if err != nil {
		return storageError(c, h.log, "update", err)
	}

	return c.JSON(http.StatusOK, IDResponse{ID: id})
}

// Delete removes all content under a key, or only the item :id when given
// DELETE /content/:key
// DELETE /content/:key/:id
func (h *ContentHandler) Delete(c echo.Context) error {
	owner, key, id := middleware.GetDID(c), c.Param("key"), c.Param("id")

	deleted, err := h.store.Delete(c.Request().Context(), owner, key, id)
	if err != nil {
		return storageError(c, h.log, "delete", err)
	}

	if !deleted {
		h.log.WithDID(owner).Debug("delete matched nothing", "key", key, "id", id)
	}
	return c.NoContent(http.StatusOK)
}
