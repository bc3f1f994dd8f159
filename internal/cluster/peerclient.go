package cluster

import (
	"bytes"
	"context"
	"distributed-kvstore/internal/store"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// PeerResult is what a proxied single-replica call yields. A parseable
// protocol response is success even when it reports absence or a
// tombstone. Err is populated by a transport failure or timeout, and by a
// status the operation does not expect (anything but 200/404 for GET, 201
// for PUT, 202 for DELETE).
type PeerResult struct {
	Present   bool
	Tombstone bool
	Value     store.Value
	RawStatus int
	Err       error
}

// PeerClient is a long-lived HTTP client for one remote replica, owned by
// the Topology for its whole lifetime.
type PeerClient struct {
	address string
	client  *http.Client
}

// NewPeerClient builds a client bound to address, every request capped at timeout.
func NewPeerClient(address string, timeout time.Duration) *PeerClient {
	return &PeerClient{
		address: address,
		client:  &http.Client{Timeout: timeout},
	}
}

// Get performs a proxied GET against /v0/entity?id=<key> with Proxy_Header set.
func (pc *PeerClient) Get(ctx context.Context, key []byte) PeerResult {
	url := fmt.Sprintf("http://%s/v0/entity?id=%s", pc.address, urlEncode(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return PeerResult{Err: err}
	}
	req.Header.Set(ProxyHeader, "true")

	resp, err := pc.client.Do(req)
	if err != nil {
		return PeerResult{Err: fmt.Errorf("peer %s: %w", pc.address, err)}
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	result := PeerResult{RawStatus: resp.StatusCode}
	if ts := resp.Header.Get(TimestampHeader); ts != "" {
		result.Present = true
		if parsed, err := strconv.ParseInt(ts, 10, 64); err == nil {
			result.Value.Timestamp = parsed
		}
	}
	if exp := resp.Header.Get(ExpiresHeader); exp != "" {
		if parsed, err := strconv.ParseInt(exp, 10, 64); err == nil {
			result.Value.ExpiresAt = parsed
		}
	}

	switch resp.StatusCode {
	case http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return PeerResult{Err: fmt.Errorf("peer %s: read body: %w", pc.address, err)}
		}
		result.Value.Data = data
	case http.StatusNotFound:
		if result.Present {
			result.Tombstone = true
			result.Value.Tombstone = true
		}
	default:
		return PeerResult{Err: fmt.Errorf("peer %s: unexpected status %d", pc.address, resp.StatusCode), RawStatus: resp.StatusCode}
	}
	return result
}

// Put performs a proxied PUT with the originator-assigned timestamp and
// expiry carried in headers so every replica installs the identical Value.
func (pc *PeerClient) Put(ctx context.Context, key, data []byte, timestamp, expiresAt int64) PeerResult {
	url := fmt.Sprintf("http://%s/v0/entity?id=%s", pc.address, urlEncode(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return PeerResult{Err: err}
	}
	req.Header.Set(ProxyHeader, "true")
	req.Header.Set(TimestampHeader, strconv.FormatInt(timestamp, 10))
	req.Header.Set(ExpiresHeader, strconv.FormatInt(expiresAt, 10))
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := pc.client.Do(req)
	if err != nil {
		return PeerResult{Err: fmt.Errorf("peer %s: %w", pc.address, err)}
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusCreated {
		return PeerResult{Err: fmt.Errorf("peer %s: unexpected status %d", pc.address, resp.StatusCode), RawStatus: resp.StatusCode}
	}
	return PeerResult{RawStatus: resp.StatusCode}
}

// Delete performs a proxied DELETE carrying the tombstone's timestamp.
func (pc *PeerClient) Delete(ctx context.Context, key []byte, timestamp int64) PeerResult {
	url := fmt.Sprintf("http://%s/v0/entity?id=%s", pc.address, urlEncode(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return PeerResult{Err: err}
	}
	req.Header.Set(ProxyHeader, "true")
	req.Header.Set(TimestampHeader, strconv.FormatInt(timestamp, 10))

	resp, err := pc.client.Do(req)
	if err != nil {
		return PeerResult{Err: fmt.Errorf("peer %s: %w", pc.address, err)}
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusAccepted {
		return PeerResult{Err: fmt.Errorf("peer %s: unexpected status %d", pc.address, resp.StatusCode), RawStatus: resp.StatusCode}
	}
	return PeerResult{RawStatus: resp.StatusCode}
}

func urlEncode(key []byte) string {
	return url.QueryEscape(string(key))
}
