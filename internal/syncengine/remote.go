package syncengine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/halcyonbio/biosync-core/internal/infrastructure/config"
	"github.com/halcyonbio/biosync-core/internal/syncqueue"
)

// maxResponseBytes caps how much of a remote reply is retained, mainly for
// conflict bodies stored on the item.
const maxResponseBytes = 64 * 1024

// PushResult is the remote's verdict on one item.
type PushResult struct {
	StatusCode int
	Body       string
}

// Accepted reports whether the remote confirmed the item.
func (r PushResult) Accepted() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Conflict reports whether the remote holds a newer version of the record.
func (r PushResult) Conflict() bool {
	return r.StatusCode == http.StatusConflict
}

// Client pushes queue items to the remote ingestion API. A non-nil error
// means the item never got a verdict (network failure, timeout); a verdict,
// including rejection, comes back as a PushResult.
type Client interface {
	Push(ctx context.Context, item *syncqueue.Item) (PushResult, error)
}

// endpoints maps item kinds to ingestion paths under the API base URL.
var endpoints = map[syncqueue.Kind]string{
	syncqueue.KindMeasurement:  "/measurements",
	syncqueue.KindCalibration:  "/calibrations",
	syncqueue.KindUserAction:   "/user-actions",
	syncqueue.KindDeviceConfig: "/device-config",
	syncqueue.KindFeedback:     "/feedback",
	syncqueue.KindHealthRecord: "/health-records",
}

// HTTPClient is the production Client over the remote HTTP API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient builds a client from the remote configuration.
func NewHTTPClient(cfg config.RemoteConfig) *HTTPClient {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
	}
}

// Push POSTs one item to its kind's endpoint.
//
// The item ID travels in the X-Item-ID header so the server can suppress
// duplicates from retried sends; X-Force-Overwrite marks items resolved as
// keep-local after a conflict.
func (c *HTTPClient) Push(ctx context.Context, item *syncqueue.Item) (PushResult, error) {
	path, ok := endpoints[item.Kind]
	if !ok {
		return PushResult{}, fmt.Errorf("no endpoint for item kind %q", item.Kind)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, bytes.NewReader(item.Payload))
	if err != nil {
		return PushResult{}, fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Item-ID", item.ID)
	req.Header.Set("X-Attempt", strconv.Itoa(item.AttemptCount))
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if item.DeviceID != "" {
		req.Header.Set("X-Device-ID", item.DeviceID)
	}
	if item.ForceOverwrite {
		req.Header.Set("X-Force-Overwrite", "true")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return PushResult{}, fmt.Errorf("pushing item %s: %w", item.ID, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read side only

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return PushResult{}, fmt.Errorf("reading response for item %s: %w", item.ID, err)
	}

	return PushResult{StatusCode: resp.StatusCode, Body: string(body)}, nil
}
