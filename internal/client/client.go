// Package client provides a Go SDK for talking to the distributed KV store.
//
// Big idea:
//
// Instead of writing raw HTTP requests everywhere,
// we wrap them inside a clean Go API.
//
// So instead of:
//
//	http.NewRequest(...)
//
// Users can simply call:
//
//	client.Put(ctx, "key", []byte("value"), 0, "")
//	client.Get(ctx, "key", "")
//
// This is called a "client library" or "SDK".
//
// It hides:
//   - HTTP details
//   - Header framing (the Expires header)
//   - Error handling
//
// And exposes a clean Go interface.
package client

import (
	"bytes"
	"context"
	"distributed-kvstore/internal/cluster"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client represents a connection to ONE KV node.
//
// Important:
//
// This client talks to a single node.
// That node is responsible for:
//   - Coordinating replication
//   - Talking to other nodes
//
// So the client does NOT implement distributed logic.
// It just talks to one node and lets that node act as coordinator.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new Client.
//
// baseURL example:
//
//	"http://localhost:8080"
//
// timeout protects us from hanging forever.
// In distributed systems:
//
//	NEVER call network without timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetResponse is what a successful GET returns.
type GetResponse struct {
	Key   string
	Value []byte
}

// entityURL builds /v0/entity?id=<key>[&replicas=<replicas>].
func (c *Client) entityURL(key, replicas string) string {
	q := url.Values{}
	q.Set("id", key)
	if replicas != "" {
		q.Set("replicas", replicas)
	}
	return fmt.Sprintf("%s/v0/entity?%s", c.baseURL, q.Encode())
}

// Put stores key=value in the cluster.
//
// expiresAt is a millisecond epoch deadline, or 0 for never-expires.
// replicas is an optional "ack/from" override; empty uses the server default.
func (c *Client) Put(ctx context.Context, key string, value []byte, expiresAt int64, replicas string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.entityURL(key, replicas), bytes.NewReader(value))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if expiresAt != 0 {
		req.Header.Set(cluster.ExpiresHeader, strconv.FormatInt(expiresAt, 10))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("PUT request failed: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// Get retrieves the value for key.
//
// Special case:
//
//	If server returns 404
//	We convert it into ErrNotFound
func (c *Client) Get(ctx context.Context, key, replicas string) (*GetResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.entityURL(key, replicas), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &GetResponse{Key: key, Value: data}, nil
}

// Delete removes key from the cluster.
//
// Internally the coordinator:
//   - Writes a tombstone
//   - Sends it to from replicas and waits for ack of them to confirm
//
// Client doesn't care. It just sends DELETE and waits for 202.
func (c *Client) Delete(ctx context.Context, key, replicas string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.entityURL(key, replicas), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("DELETE request failed: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// JoinCluster registers a node into the cluster.
//
// This triggers:
//   - Membership update
//   - Hash ring update
//   - Key redistribution for future writes
func (c *Client) JoinCluster(ctx context.Context, nodeID, address string) error {
	body := fmt.Sprintf(`{"id":%q,"address":%q}`, nodeID, address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/cluster/join", c.baseURL), bytes.NewReader([]byte(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// LeaveCluster removes a node from the cluster.
func (c *Client) LeaveCluster(ctx context.Context, nodeID string) error {
	body := fmt.Sprintf(`{"id":%q}`, nodeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/cluster/leave", c.baseURL), bytes.NewReader([]byte(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// GetRaw performs a raw GET against path (relative to baseURL) and returns
// the response body as a string. Used for endpoints like /cluster/nodes
// that don't warrant their own typed response struct.
func (c *Client) GetRaw(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("GET %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}
	body, err := io.ReadAll(resp.Body)
	return string(body), err
}

// ─── Errors ───────────────────────────────────────────────────────────────────

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = fmt.Errorf("key not found")

// APIError carries the HTTP status and the error message from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// checkStatus converts HTTP error responses into Go errors.
//
// If status is 2xx → success.
// Otherwise:
//
//  1. Read response body
//  2. Try parsing {"error": "..."} JSON
//  3. Return APIError
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	msg := string(body)
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		msg = envelope.Error
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
