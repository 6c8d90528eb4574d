package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/datavault/cmd/vault/service"
	"github.com/lyzr/datavault/common/logger"
)

// storageError maps storage failures onto the wire: quota errors are the only
// ones a client can act on and carry their code as plain text; everything
// else is logged and returned as an empty 500.
func storageError(c echo.Context, log *logger.Logger, op string, err error) error {
	if errors.Is(err, service.ErrQuotaExceeded) {
		return c.String(http.StatusBadRequest, service.ErrQuotaExceeded.Error())
	}

	log.WithContext(c.Request().Context()).Error("storage operation failed",
		"operation", op,
		"path", c.Path(),
		"error", err,
	)
	return c.NoContent(http.StatusInternalServerError)
}

func badRequest(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, map[string]interface{}{
		"error": err.Error(),
	})
}
