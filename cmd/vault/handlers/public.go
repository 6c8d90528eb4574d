package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/datavault/common/logger"
)

// PublicHandler serves content by DID and key without authentication
type PublicHandler struct {
	store ContentStore
	log   *logger.Logger
}

// NewPublicHandler creates a new public handler
func NewPublicHandler(store ContentStore, log *logger.Logger) *PublicHandler {
	return &PublicHandler{
		store: store,
		log:   log,
	}
}

// Get returns the content strings stored under a DID's key, without ids
// GET /:did/:key
func (h *PublicHandler) Get(c echo.Context) error {
	items, err := h.store.Get(c.Request().Context(), c.Param("did"), c.Param("key"))
	if err != nil {
		return storageError(c, h.log, "public_get", err)
	}

	content := make([]string, 0, len(items))
	for _, item := range items {
		content = append(content, string(item.Content))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"content": content,
	})
}
