package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// IPFSClient talks to an IPFS (Kubo) node over its HTTP RPC API.
// It is the vault's blob store and pin backend.
type IPFSClient struct {
	baseURL    string
	httpClient *HTTPClient
	logger     Logger
}

// ipfsError is the JSON body Kubo returns on failed RPC calls
type ipfsError struct {
	Message string `json:"Message"`
	Code    int    `json:"Code"`
	Type    string `json:"Type"`
}

type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// NewIPFSClient creates a client for the node at apiURL (e.g. http://localhost:5001)
func NewIPFSClient(apiURL string, timeout time.Duration, logger Logger) *IPFSClient {
	return &IPFSClient{
		baseURL:    strings.TrimRight(apiURL, "/"),
		httpClient: NewHTTPClient(&http.Client{Timeout: timeout}, logger),
		logger:     logger,
	}
}

// Put stores content and returns its CID. Content is not pinned.
func (c *IPFSClient) Put(ctx context.Context, content []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "content")
	if err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}

	params := url.Values{}
	params.Set("pin", "false")
	params.Set("cid-version", "1")

	resp, err := c.call(ctx, "add", params, &body, writer.FormDataContentType())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var added addResponse
	if err := json.NewDecoder(resp.Body).Decode(&added); err != nil {
		return "", fmt.Errorf("%w: failed to decode add response: %v", ErrBackendUnavailable, err)
	}
	if added.Hash == "" {
		return "", fmt.Errorf("%w: add response has no hash", ErrBackendUnavailable)
	}

	c.logger.Debug("ipfs content added", "cid", added.Hash, "size", len(content))
	return added.Hash, nil
}

// Get returns the content stored under cid, or ErrNotFound
func (c *IPFSClient) Get(ctx context.Context, cid string) ([]byte, error) {
	resp, err := c.call(ctx, "cat", url.Values{"arg": {cid}}, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read content: %v", ErrBackendUnavailable, err)
	}
	return content, nil
}

// PinAdd pins cid on the node. Pinning an already pinned CID succeeds.
func (c *IPFSClient) PinAdd(ctx context.Context, cid string) error {
	resp, err := c.call(ctx, "pin/add", url.Values{"arg": {cid}}, nil, "")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// PinRm releases the pin on cid. A CID the node reports as not pinned is not an error.
func (c *IPFSClient) PinRm(ctx context.Context, cid string) error {
	resp, err := c.call(ctx, "pin/rm", url.Values{"arg": {cid}}, nil, "")
	if err != nil {
		if isNotPinned(err) {
			c.logger.Warn("ipfs pin already released", "cid", cid)
			return nil
		}
		return err
	}
	resp.Body.Close()
	return nil
}

// call POSTs to /api/v0/<command>. Non-2xx responses are closed and mapped to errors.
func (c *IPFSClient) call(ctx context.Context, command string, params url.Values, body io.Reader, contentType string) (*http.Response, error) {
	endpoint := fmt.Sprintf("%s/api/v0/%s", c.baseURL, command)
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var headers map[string]string
	if contentType != "" {
		headers = map[string]string{"Content-Type": contentType}
	}

	resp, err := c.httpClient.DoRequest(ctx, http.MethodPost, endpoint, body, headers)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, command, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr ipfsError
	message := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
		message = apiErr.Message
	}

	if resp.StatusCode == http.StatusNotFound || isNotFoundMessage(message) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, message)
	}
	return nil, fmt.Errorf("%w: %s returned %d: %s", ErrBackendUnavailable, command, resp.StatusCode, message)
}

func isNotFoundMessage(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "not found") ||
		strings.Contains(m, "invalid path") ||
		strings.Contains(m, "invalid cid")
}

func isNotPinned(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "not pinned")
}
