package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/datavault/cmd/vault/middleware"
	"github.com/lyzr/datavault/cmd/vault/models"
	"github.com/lyzr/datavault/cmd/vault/service"
	"github.com/lyzr/datavault/common/did"
	"github.com/lyzr/datavault/common/logger"
)

// Authenticator is the session service as seen by the HTTP layer
type Authenticator interface {
	CreateChallenge(ctx context.Context, owner string) (string, error)
	Login(ctx context.Context, owner string, signature []byte) (*models.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
}

// ChallengeRequest asks for a login challenge
type ChallengeRequest struct {
	DID string `json:"did" validate:"required,did"`
}

// LoginRequest answers a challenge with a base64 ed25519 signature over it
type LoginRequest struct {
	DID       string `json:"did" validate:"required,did"`
	Signature string `json:"signature" validate:"required,base64"`
}

// RefreshRequest exchanges a refresh token for a new pair
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest optionally names the refresh token to revoke alongside the access token
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// AuthHandler handles DID challenge-response login
type AuthHandler struct {
	auth Authenticator
	log  *logger.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(auth Authenticator, log *logger.Logger) *AuthHandler {
	return &AuthHandler{
		auth: auth,
		log:  log,
	}
}

// Challenge issues a challenge for a DID
// POST /auth/challenge
func (h *AuthHandler) Challenge(c echo.Context) error {
	var req ChallengeRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err)
	}

	challenge, err := h.auth.CreateChallenge(c.Request().Context(), req.DID)
	if err != nil {
		return h.authError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"challenge": challenge,
	})
}

// Login verifies a signed challenge and returns a token pair
// POST /auth/login
func (h *AuthHandler) Login(c echo.Context) error {
	var req LoginRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err)
	}

	signature, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		return badRequest(c, err)
	}

	pair, err := h.auth.Login(c.Request().Context(), req.DID, signature)
	if err != nil {
		return h.authError(c, err)
	}

	return c.JSON(http.StatusOK, pair)
}

// Refresh rotates a refresh token
// POST /auth/refresh
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req RefreshRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err)
	}

	pair, err := h.auth.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return h.authError(c, err)
	}

	return c.JSON(http.StatusOK, pair)
}

// Logout revokes the bearer access token and the given refresh token
// POST /auth/logout
func (h *AuthHandler) Logout(c echo.Context) error {
	var req LogoutRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err)
	}

	if err := h.auth.Logout(c.Request().Context(), middleware.BearerToken(c), req.RefreshToken); err != nil {
		return h.authError(c, err)
	}

	return c.NoContent(http.StatusOK)
}

func (h *AuthHandler) bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return err
	}
	return c.Validate(req)
}

func (h *AuthHandler) authError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, did.ErrInvalidDID), errors.Is(err, did.ErrUnsupportedMethod):
		return badRequest(c, err)
	case errors.Is(err, service.ErrChallengeNotFound),
		errors.Is(err, service.ErrInvalidToken),
		errors.Is(err, did.ErrInvalidSignature):
		return c.JSON(http.StatusUnauthorized, map[string]interface{}{
			"error": err.Error(),
		})
	}

	h.log.WithContext(c.Request().Context()).Error("auth operation failed", "path", c.Path(), "error", err)
	return c.NoContent(http.StatusInternalServerError)
}
