// Package remote implements outbox.Remote against the records HTTP API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hyperengineering/outbox"
)

// HTTPClient implements outbox.Remote, outbox.Fetcher and outbox.Pinger
// using net/http. It is safe for concurrent use.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	sourceID   string
	session    func() string
	httpClient *http.Client
	logger     *slog.Logger
}

var (
	_ outbox.Remote  = (*HTTPClient)(nil)
	_ outbox.Fetcher = (*HTTPClient)(nil)
	_ outbox.Pinger  = (*HTTPClient)(nil)
)

// NewHTTPClient creates a client for the remote at baseURL.
// sourceID is optional; if non-empty, it's sent as X-Outbox-Source-ID.
func NewHTTPClient(baseURL, apiKey, sourceID string) *HTTPClient {
	return &HTTPClient{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		apiKey:   apiKey,
		sourceID: sourceID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
	}
}

// WithHTTPClient sets a custom http.Client (for testing or custom timeouts).
func (c *HTTPClient) WithHTTPClient(client *http.Client) *HTTPClient {
	c.httpClient = client
	return c
}

// WithLogger sets the logger used for request tracing.
func (c *HTTPClient) WithLogger(l *slog.Logger) *HTTPClient {
	c.logger = l.With("component", "remote")
	return c
}

// WithSessionToken makes the client authenticate with the token fn returns.
// The API key is used whenever fn returns "".
func (c *HTTPClient) WithSessionToken(fn func() string) *HTTPClient {
	c.session = fn
	return c
}

func (c *HTTPClient) bearer() string {
	if c.session != nil {
		if tok := c.session(); tok != "" {
			return tok
		}
	}
	return c.apiKey
}

func (c *HTTPClient) setHeaders(ctx context.Context, req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.bearer())
	req.Header.Set("User-Agent", "outbox-client/1.0")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if strings.TrimSpace(c.sourceID) != "" {
		req.Header.Set("X-Outbox-Source-ID", c.sourceID)
	}
	if key := outbox.IdempotencyKey(ctx); key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
}

func recordsPath(collection string) string {
	return "/api/v1/collections/" + url.PathEscape(collection) + "/records"
}

func recordPath(collection, id string) string {
	return recordsPath(collection) + "/" + url.PathEscape(id)
}

func newRemoteError(op, collection string, statusCode int, body []byte) *outbox.RemoteError {
	var parsed ErrorResponse
	_ = json.Unmarshal(body, &parsed)

	msg := ""
	if len(body) > 0 && statusCode >= 400 {
		if len(body) > 200 {
			msg = string(body[:200]) + "..."
		} else {
			msg = string(body)
		}
	}

	err := fmt.Errorf("HTTP %d: %s", statusCode, msg)
	if isConflict(statusCode, parsed.Code) {
		err = fmt.Errorf("%w: HTTP %d: %s", outbox.ErrConflict, statusCode, msg)
	}
	return &outbox.RemoteError{
		Operation:  op,
		Collection: collection,
		StatusCode: statusCode,
		Code:       parsed.Code,
		Err:        err,
	}
}

func isConflict(statusCode int, code string) bool {
	switch statusCode {
	case http.StatusConflict, http.StatusPreconditionFailed:
		return true
	}
	return code == CodeUniqueViolation || code == CodeVersionConflict
}

// do sends one request and decodes a successful response into out, if non-nil.
func (c *HTTPClient) do(ctx context.Context, op, collection, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &outbox.RemoteError{Operation: op, Collection: collection, Err: err}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &outbox.RemoteError{Operation: op, Collection: collection, Err: err}
	}
	c.setHeaders(ctx, req)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &outbox.RemoteError{Operation: op, Collection: collection, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("remote call",
		"op", op,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", req.Header.Get("X-Request-ID"),
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return newRemoteError(op, collection, resp.StatusCode, respBody)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &outbox.RemoteError{Operation: op, Collection: collection, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// HealthCheck returns the remote's health report.
func (c *HTTPClient) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var health HealthResponse
	if err := c.do(ctx, "health_check", "", http.MethodGet, "/api/v1/health", nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// Ping reports whether the remote answers its health endpoint.
func (c *HTTPClient) Ping(ctx context.Context) error {
	_, err := c.HealthCheck(ctx)
	return err
}

// Insert creates a record and returns it with its server-assigned id.
func (c *HTTPClient) Insert(ctx context.Context, collection string, payload outbox.Payload) (*outbox.RemoteRecord, error) {
	var rec outbox.RemoteRecord
	if err := c.do(ctx, "insert", collection, http.MethodPost, recordsPath(collection), payload, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Update applies a partial update to a record.
func (c *HTTPClient) Update(ctx context.Context, collection, id string, partial outbox.Payload) (*outbox.RemoteRecord, error) {
	var rec outbox.RemoteRecord
	if err := c.do(ctx, "update", collection, http.MethodPatch, recordPath(collection, id), partial, &rec); err != nil {
		return nil, err
	}
	if rec.ID == "" {
		rec.ID = id
	}
	return &rec, nil
}

// Delete removes a record. A 404 counts as success, the record is gone.
func (c *HTTPClient) Delete(ctx context.Context, collection, id string) error {
	err := c.do(ctx, "delete", collection, http.MethodDelete, recordPath(collection, id), nil, nil)
	var rerr *outbox.RemoteError
	if errors.As(err, &rerr) && rerr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// List returns every record of a collection.
func (c *HTTPClient) List(ctx context.Context, collection string) ([]outbox.RemoteRecord, error) {
	var resp ListResponse
	if err := c.do(ctx, "list", collection, http.MethodGet, recordsPath(collection), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}
