package clients

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lyzr/datavault/common/did"
)

var (
	// ErrQuotaExceeded is returned when the vault rejects content with MAX_STORAGE_REACHED
	ErrQuotaExceeded = errors.New("MAX_STORAGE_REACHED")

	// ErrUnauthorized is returned when the session cannot be authenticated or refreshed
	ErrUnauthorized = errors.New("unauthorized")
)

// TokenPair is the vault session issued on login
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// ContentItem is one stored item under a key
type ContentItem struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// BackupEntry is one (key, id) row of a backup listing
type BackupEntry struct {
	Key string `json:"key"`
	ID  string `json:"id"`
}

// StorageInfo reports quota usage in bytes
type StorageInfo struct {
	Used      int64 `json:"used"`
	Available int64 `json:"available"`
}

// VaultClient is an authenticated session against one vault for one DID.
// All state lives on the client; nothing is configured process-wide.
type VaultClient struct {
	baseURL    string
	httpClient *HTTPClient
	logger     Logger
	did        string
	key        ed25519.PrivateKey

	mu     sync.Mutex
	tokens *TokenPair
}

// NewVaultClient creates a client that signs in as the did:key derived from key
func NewVaultClient(baseURL string, key ed25519.PrivateKey, client *http.Client, logger Logger) *VaultClient {
	return &VaultClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: NewHTTPClient(client, logger),
		logger:     logger,
		did:        did.FromPublicKey(key.Public().(ed25519.PublicKey)),
		key:        key,
	}
}

// DID returns the identity this client authenticates as
func (c *VaultClient) DID() string {
	return c.did
}

// Authenticate runs the challenge-response login and stores the session
func (c *VaultClient) Authenticate(ctx context.Context) error {
	var challenge struct {
		Challenge string `json:"challenge"`
	}
	if err := c.call(ctx, http.MethodPost, "/auth/challenge", "", map[string]string{"did": c.did}, &challenge); err != nil {
		return fmt.Errorf("failed to get challenge: %w", err)
	}

	signature := ed25519.Sign(c.key, []byte(challenge.Challenge))
	body := map[string]string{
		"did":       c.did,
		"signature": base64.StdEncoding.EncodeToString(signature),
	}

	var tokens TokenPair
	if err := c.call(ctx, http.MethodPost, "/auth/login", "", body, &tokens); err != nil {
		return fmt.Errorf("failed to login: %w", err)
	}

	c.setTokens(&tokens)
	c.logger.Debug("vault session opened", "did", c.did)
	return nil
}

// Refresh rotates the session's refresh token
func (c *VaultClient) Refresh(ctx context.Context) error {
	current := c.currentTokens()
	if current == nil {
		return ErrUnauthorized
	}

	var tokens TokenPair
	body := map[string]string{"refresh_token": current.RefreshToken}
	if err := c.call(ctx, http.MethodPost, "/auth/refresh", "", body, &tokens); err != nil {
		return fmt.Errorf("failed to refresh session: %w", err)
	}

	c.setTokens(&tokens)
	return nil
}

// Logout revokes the session
func (c *VaultClient) Logout(ctx context.Context) error {
	current := c.currentTokens()
	if current == nil {
		return nil
	}

	body := map[string]string{"refresh_token": current.RefreshToken}
	if err := c.call(ctx, http.MethodPost, "/auth/logout", current.AccessToken, body, nil); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}

	c.setTokens(nil)
	return nil
}

// Create stores content under key and returns its id
func (c *VaultClient) Create(ctx context.Context, key string, content []byte) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	err := c.authed(ctx, http.MethodPost, "/content/"+url.PathEscape(key), map[string]string{"content": string(content)}, &resp)
	return resp.ID, err
}

// Get returns every item under key, oldest first
func (c *VaultClient) Get(ctx context.Context, key string) ([]ContentItem, error) {
	var items []ContentItem
	err := c.authed(ctx, http.MethodGet, "/content/"+url.PathEscape(key), nil, &items)
	return items, err
}

// GetPublic reads another owner's content by DID and key without a session
func (c *VaultClient) GetPublic(ctx context.Context, owner, key string) ([]string, error) {
	var resp struct {
		Content []string `json:"content"`
	}
	path := "/" + url.PathEscape(owner) + "/" + url.PathEscape(key)
	err := c.call(ctx, http.MethodGet, path, "", nil, &resp)
	return resp.Content, err
}

// Update swaps the content under key, or only item id when id is non-empty
func (c *VaultClient) Update(ctx context.Context, key string, content []byte, id string) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	err := c.authed(ctx, http.MethodPut, contentPath(key, id), map[string]string{"content": string(content)}, &resp)
	return resp.ID, err
}

// Delete removes the content under key, or only item id when id is non-empty
func (c *VaultClient) Delete(ctx context.Context, key, id string) error {
	return c.authed(ctx, http.MethodDelete, contentPath(key, id), nil, nil)
}

// Keys lists the owner's keys
func (c *VaultClient) Keys(ctx context.Context) ([]string, error) {
	var resp struct {
		Keys []string `json:"keys"`
	}
	err := c.authed(ctx, http.MethodGet, "/keys", nil, &resp)
	return resp.Keys, err
}

// Storage reports used and available bytes
func (c *VaultClient) Storage(ctx context.Context) (*StorageInfo, error) {
	var info StorageInfo
	if err := c.authed(ctx, http.MethodGet, "/storage", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Backup lists every stored (key, id) row
func (c *VaultClient) Backup(ctx context.Context) ([]BackupEntry, error) {
	var entries []BackupEntry
	err := c.authed(ctx, http.MethodGet, "/backup", nil, &entries)
	return entries, err
}

func contentPath(key, id string) string {
	path := "/content/" + url.PathEscape(key)
	if id != "" {
		path += "/" + url.PathEscape(id)
	}
	return path
}

// authed calls an owner route, refreshing the session once on 401
func (c *VaultClient) authed(ctx context.Context, method, path string, body, out interface{}) error {
	tokens := c.currentTokens()
	if tokens == nil {
		return ErrUnauthorized
	}

	err := c.call(ctx, method, path, tokens.AccessToken, body, out)
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}

	if err := c.Refresh(ctx); err != nil {
		return err
	}
	return c.call(ctx, method, path, c.currentTokens().AccessToken, body, out)
}

func (c *VaultClient) call(ctx context.Context, method, path, accessToken string, body, out interface{}) error {
	var reader io.Reader
	headers := map[string]string{}

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
		headers["Content-Type"] = "application/json"
	}
	if accessToken != "" {
		headers["Authorization"] = "Bearer " + accessToken
	}
	if _, ok := GetRequestID(ctx); !ok {
		ctx = WithRequestID(ctx, uuid.NewString())
	}

	resp, err := c.httpClient.DoRequest(ctx, method, c.baseURL+path, reader, headers)
	if err != nil {
		return fmt.Errorf("vault request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read vault response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusBadRequest && strings.TrimSpace(string(raw)) == ErrQuotaExceeded.Error():
		return ErrQuotaExceeded
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("vault returned %d for %s %s", resp.StatusCode, method, path)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode vault response: %w", err)
	}
	return nil
}

func (c *VaultClient) currentTokens() *TokenPair {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}

func (c *VaultClient) setTokens(tokens *TokenPair) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = tokens
}
