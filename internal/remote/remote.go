// Package remote provides the client side of the sync hub wire contract.
//
// The adapter is a pure conduit: it owns no artifact state. Each artifact
// maps to one remote record keyed by id, and writes are conditional
// updates gated on version equality. A refused conditional write is a
// Conflict — a normal business outcome consumed by the conflict detector —
// while network, timeout, and authorization failures are transport errors
// that route the operation to the offline queue.
package remote

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

	"github.com/stagecraft/drift/internal/artifact"
)

// ErrNotFound is returned by Fetch when the hub has no record for the id.
var ErrNotFound = errors.New("remote record not found")

// ConflictError reports a refused conditional write. It carries the hub's
// current record so the resolver can work without a second round-trip.
type ConflictError struct {
	ID      string
	Current *artifact.Artifact
}

func (e *ConflictError) Error() string {
	if e.Current == nil {
		return fmt.Sprintf("remote conflict on %s", e.ID)
	}
	return fmt.Sprintf("remote conflict on %s: hub at version %d", e.ID, e.Current.Version)
}

// IsConflict reports whether err is a refused remote conditional write.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// TransportError wraps a failure to reach the hub: connection errors,
// timeouts, server errors, and authorization failures. Operations failing
// this way are queued for later replay, never left half-applied.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	var t *TransportError
	return errors.As(err, &t)
}

// Adapter is the remote hub interface consumed by the sync engine.
// Tests inject fakes; production uses the HTTP Client below.
type Adapter interface {
	// Fetch returns the hub's view of one artifact, or ErrNotFound.
	Fetch(ctx context.Context, id string) (*artifact.Artifact, error)

	// Put performs a conditional write: it succeeds only when the hub's
	// current version equals expected (0 for a record the hub has never
	// seen). The pushed artifact's version must exceed expected. The
	// change id makes retries idempotent: the hub deduplicates replays.
	// Returns the accepted version, a *ConflictError, or a *TransportError.
	Put(ctx context.Context, id string, expected int64, a *artifact.Artifact, changeID string) (int64, error)

	// ListSince returns records changed after the given checkpoint,
	// together with the new checkpoint for the next incremental pull.
	ListSince(ctx context.Context, checkpoint int64) ([]*artifact.Artifact, int64, error)
}

// putRequest is the conditional-write body.
type putRequest struct {
	ExpectedVersion int64              `json:"expected_version"`
	ChangeID        string             `json:"change_id"`
	Record          *artifact.Artifact `json:"record"`
}

type putResponse struct {
	Version int64 `json:"version"`
}

type conflictResponse struct {
	Current *artifact.Artifact `json:"current"`
}

type listResponse struct {
	Records    []*artifact.Artifact `json:"records"`
	Checkpoint int64                `json:"checkpoint"`
}

// Client is the HTTP implementation of Adapter.
type Client struct {
	baseURL    string
	table      string
	token      string
	httpClient *http.Client
}

// NewClient creates a hub client. The timeout bounds every call; an
// expired timeout surfaces as a TransportError. The token is a bearer
// credential supplied via environment, never persisted.
func NewClient(baseURL, table, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		table:      table,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) recordURL(id string) string {
	return fmt.Sprintf("%s/v1/tables/%s/records/%s",
		c.baseURL, url.PathEscape(c.table), url.PathEscape(id))
}

func (c *Client) do(ctx context.Context, op, method, rawURL string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	// Server errors and rejected credentials are connectivity problems
	// from the sync engine's point of view, not business outcomes.
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusUnauthorized ||
		resp.StatusCode == http.StatusForbidden {
		msg := readErrBody(resp)
		return nil, &TransportError{Op: op, Err: fmt.Errorf("hub returned %d: %s", resp.StatusCode, msg)}
	}

	return resp, nil
}

// Fetch implements Adapter.Fetch.
func (c *Client) Fetch(ctx context.Context, id string) (*artifact.Artifact, error) {
	resp, err := c.do(ctx, "fetch", http.MethodGet, c.recordURL(id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var a artifact.Artifact
		if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
			return nil, fmt.Errorf("failed to decode record %s: %w", id, err)
		}
		return &a, nil
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("unexpected hub response %d fetching %s", resp.StatusCode, id)
	}
}

// Put implements Adapter.Put.
func (c *Client) Put(ctx context.Context, id string, expected int64, a *artifact.Artifact, changeID string) (int64, error) {
	req := putRequest{ExpectedVersion: expected, ChangeID: changeID, Record: a}
	resp, err := c.do(ctx, "put", http.MethodPut, c.recordURL(id), req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var pr putResponse
		if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
			return 0, fmt.Errorf("failed to decode put response for %s: %w", id, err)
		}
		return pr.Version, nil
	case http.StatusConflict:
		var cr conflictResponse
		if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
			return 0, fmt.Errorf("failed to decode conflict response for %s: %w", id, err)
		}
		return 0, &ConflictError{ID: id, Current: cr.Current}
	case http.StatusBadRequest:
		return 0, fmt.Errorf("hub rejected %s as malformed: %s", id, readErrBody(resp))
	default:
		return 0, fmt.Errorf("unexpected hub response %d putting %s", resp.StatusCode, id)
	}
}

// ListSince implements Adapter.ListSince.
func (c *Client) ListSince(ctx context.Context, checkpoint int64) ([]*artifact.Artifact, int64, error) {
	rawURL := fmt.Sprintf("%s/v1/tables/%s/records?since=%d",
		c.baseURL, url.PathEscape(c.table), checkpoint)
	resp, err := c.do(ctx, "list", http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("unexpected hub response %d listing records", resp.StatusCode)
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, 0, fmt.Errorf("failed to decode record list: %w", err)
	}
	return lr.Records, lr.Checkpoint, nil
}

func readErrBody(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "(unreadable body)"
	}
	return string(bytes.TrimSpace(body))
}
