package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	onyxerrors "github.com/lbmoreira/onyx-sync/internal/errors"
	"github.com/lbmoreira/onyx-sync/internal/record"
	"github.com/tidwall/gjson"
)

// TransientError wraps an error that is likely temporary and safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError, meaning the caller should retry after a backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client used
	// when no custom client is provided.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads. Pull responses are
	// bounded by one table's changed set; 8MB leaves generous headroom.
	maxAPIResponseBytes = 8 * 1024 * 1024
)

// Client talks to the ONYX Link document API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host. This prevents the bearer token
// from leaking to third-party domains.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates an API client for the given base URL. If httpClient
// is nil, a client with a 30-second timeout and same-host redirect
// policy is created.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
	}
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.token = token
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// statusError carries the HTTP status of a failed API call so callers
// can translate specific statuses into sentinel errors.
type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

// httpStatus returns the HTTP status attached to err, or 0.
func httpStatus(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.status
	}

	return 0
}

func isTransientStatus(status int) bool {
	return status >= http.StatusInternalServerError ||
		status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout
}

// do sends a JSON request and decodes the response into result.
// Network errors and 5xx/429 responses come back wrapped in
// TransientError.
func (c *Client) do(ctx context.Context, method, endpoint string, body, result any) error {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request body: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors (timeouts, connection refused, DNS failures)
		// are transient by nature.
		return &TransientError{Err: fmt.Errorf("sending request to %s: %w", endpoint, err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return fmt.Errorf("reading response from %s: %w", endpoint, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", onyxerrors.ErrNotFound, endpoint)
	}

	if resp.StatusCode != http.StatusOK {
		var inner error

		if apiErr := gjson.GetBytes(respBody, "error").Str; apiErr != "" {
			inner = fmt.Errorf("%w: %s (%d): %s", onyxerrors.ErrAPIRequest, endpoint, resp.StatusCode, apiErr)
		} else {
			inner = fmt.Errorf("%w: %s returned status %d: %s",
				onyxerrors.ErrAPIRequest, endpoint, resp.StatusCode, sanitizeResponseBody(respBody))
		}

		err := error(&statusError{status: resp.StatusCode, err: inner})
		if isTransientStatus(resp.StatusCode) {
			return &TransientError{Err: err}
		}

		return err
	}

	if result == nil {
		return nil
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("%w: decoding %s response: %v", onyxerrors.ErrAPIResponse, endpoint, err)
	}

	return nil
}

// document is the wire form of one remote record: the key and the
// payload fields, kept separate so the key never has to live inside
// the payload.
type document struct {
	ID     string        `json:"id"`
	Fields record.Record `json:"fields"`
}

// asRecord folds the document key into the payload's id field so the
// engine correlates remote and local records by the same canonical id.
func (d document) asRecord() record.Record {
	rec := d.Fields
	if rec == nil {
		rec = record.Record{}
	}

	rec[record.IDField] = d.ID

	return rec
}

type queryRequest struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

type queryResponse struct {
	Documents []document `json:"documents"`
}

// ownerPath builds the owner-scoped collection path segment.
func ownerPath(owner string, parts ...string) string {
	p := "/v1/users/" + url.PathEscape(owner)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}

	return p
}

// ListWhere implements Store.
func (c *Client) ListWhere(ctx context.Context, owner, table, field, op string, value any) ([]record.Record, error) {
	var resp queryResponse

	err := c.do(ctx, http.MethodPost, ownerPath(owner, table)+":query", queryRequest{
		Field: field,
		Op:    op,
		Value: value,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}

	recs := make([]record.Record, 0, len(resp.Documents))
	for _, d := range resp.Documents {
		recs = append(recs, d.asRecord())
	}

	return recs, nil
}

// Get implements Store. A missing document returns nil, nil.
func (c *Client) Get(ctx context.Context, owner, table, id string) (record.Record, error) {
	var doc document

	err := c.do(ctx, http.MethodGet, ownerPath(owner, table, id), nil, &doc)
	if err != nil {
		if errors.Is(err, onyxerrors.ErrNotFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("getting %s/%s: %w", table, id, err)
	}

	return doc.asRecord(), nil
}

type setRequest struct {
	Fields record.Record `json:"fields"`
	Merge  bool          `json:"merge,omitempty"`
}

// Set implements Store.
func (c *Client) Set(ctx context.Context, owner, table, id string, rec record.Record, merge bool) error {
	err := c.do(ctx, http.MethodPut, ownerPath(owner, table, id), setRequest{
		Fields: rec,
		Merge:  merge,
	}, nil)
	if err != nil {
		return fmt.Errorf("setting %s/%s: %w", table, id, err)
	}

	return nil
}

type batchWriteEntry struct {
	Table  string        `json:"table"`
	ID     string        `json:"id"`
	Fields record.Record `json:"fields"`
	Merge  bool          `json:"merge,omitempty"`
}

type batchWriteRequest struct {
	Writes []batchWriteEntry `json:"writes"`
}

// BatchWrite implements Store. The server applies the batch atomically.
func (c *Client) BatchWrite(ctx context.Context, owner string, writes []Write) error {
	req := batchWriteRequest{Writes: make([]batchWriteEntry, len(writes))}

	for i, w := range writes {
		req.Writes[i] = batchWriteEntry{
			Table:  w.Table,
			ID:     w.ID,
			Fields: w.Record,
			Merge:  w.Merge,
		}
	}

	if err := c.do(ctx, http.MethodPost, ownerPath(owner)+":batchWrite", req, nil); err != nil {
		return fmt.Errorf("batch write of %d documents: %w", len(writes), err)
	}

	return nil
}
