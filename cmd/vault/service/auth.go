package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/datavault/cmd/vault/models"
	"github.com/lyzr/datavault/common/cache"
	"github.com/lyzr/datavault/common/did"
	"github.com/lyzr/datavault/common/logger"
)

var (
	// ErrChallengeNotFound is returned when no live challenge exists for a DID
	ErrChallengeNotFound = errors.New("challenge not found or expired")

	// ErrInvalidToken is returned for unknown, expired or revoked tokens
	ErrInvalidToken = errors.New("invalid token")
)

const (
	challengePrefix = "challenge:"
	accessPrefix    = "access:"
	refreshPrefix   = "refresh:"
	challengeBytes  = 32
)

// AuthService runs the DID challenge-response login and keeps sessions in a cache
type AuthService struct {
	cache      cache.Cache
	log        *logger.Logger
	challenge  time.Duration
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// AuthServiceOpts contains options for creating an AuthService
type AuthServiceOpts struct {
	Cache           cache.Cache
	Logger          *logger.Logger
	ChallengeTTL    time.Duration
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// NewAuthService creates a new auth service
func NewAuthService(opts *AuthServiceOpts) *AuthService {
	return &AuthService{
		cache:      opts.Cache,
		log:        opts.Logger,
		challenge:  opts.ChallengeTTL,
		accessTTL:  opts.AccessTokenTTL,
		refreshTTL: opts.RefreshTokenTTL,
		now:        time.Now,
	}
}

// CreateChallenge issues a single-use nonce the DID's key must sign.
// A new challenge replaces any outstanding one.
func (s *AuthService) CreateChallenge(ctx context.Context, owner string) (string, error) {
	if _, err := did.ParseKey(owner); err != nil {
		return "", err
	}

	buf := make([]byte, challengeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	challenge := hex.EncodeToString(buf)

	if err := s.cache.Set(ctx, challengePrefix+did.Normalize(owner), []byte(challenge), s.challenge); err != nil {
		return "", fmt.Errorf("failed to store challenge: %w", err)
	}

	s.log.WithDID(owner).Debug("challenge issued")
	return challenge, nil
}

// Login consumes the DID's challenge and, if signature verifies over it, opens a session
func (s *AuthService) Login(ctx context.Context, owner string, signature []byte) (*models.TokenPair, error) {
	owner = strings.TrimSpace(owner)

	challenge, ok, err := s.cache.Take(ctx, challengePrefix+did.Normalize(owner))
	if err != nil {
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	if !ok {
		return nil, ErrChallengeNotFound
	}

	if err := did.Verify(owner, challenge, signature); err != nil {
		s.log.WithDID(owner).Warn("login rejected", "error", err)
		return nil, err
	}

	pair, err := s.issue(ctx, owner)
	if err != nil {
		return nil, err
	}

	s.log.WithDID(owner).Info("session opened")
	return pair, nil
}

// Refresh rotates a refresh token: the old one stops working and a new pair is issued
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	if refreshToken == "" {
		return nil, ErrInvalidToken
	}

	owner, ok, err := s.cache.Take(ctx, refreshPrefix+refreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to load refresh token: %w", err)
	}
	if !ok {
		return nil, ErrInvalidToken
	}

	return s.issue(ctx, string(owner))
}

// Logout revokes the given tokens. Unknown tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if accessToken != "" {
		if err := s.cache.Delete(ctx, accessPrefix+accessToken); err != nil {
			return fmt.Errorf("failed to revoke access token: %w", err)
		}
	}
	if refreshToken != "" {
		if err := s.cache.Delete(ctx, refreshPrefix+refreshToken); err != nil {
			return fmt.Errorf("failed to revoke refresh token: %w", err)
		}
	}
	return nil
}

// ResolveAccessToken returns the DID that owns a live access token
func (s *AuthService) ResolveAccessToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}

	owner, ok, err := s.cache.Get(ctx, accessPrefix+token)
	if err != nil {
		return "", fmt.Errorf("failed to load access token: %w", err)
	}
	if !ok {
		return "", ErrInvalidToken
	}
	return string(owner), nil
}

func (s *AuthService) issue(ctx context.Context, owner string) (*models.TokenPair, error) {
	pair := &models.TokenPair{
		AccessToken:  uuid.NewString(),
		RefreshToken: uuid.NewString(),
		ExpiresAt:    s.now().Add(s.accessTTL),
	}

	if err := s.cache.Set(ctx, accessPrefix+pair.AccessToken, []byte(owner), s.accessTTL); err != nil {
		return nil, fmt.Errorf("failed to store access token: %w", err)
	}
	if err := s.cache.Set(ctx, refreshPrefix+pair.RefreshToken, []byte(owner), s.refreshTTL); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}
	return pair, nil
}
