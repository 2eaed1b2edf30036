// Package remote delivers pending actions to the REST service.
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
	"strings"
	"time"

	"github.com/atinyakov/declutter/internal/models"
)

// DefaultTimeout bounds every request when the caller passes no client.
const DefaultTimeout = 10 * time.Second

// maxBodySnippet caps how much of a rejection body is kept in the error.
const maxBodySnippet = 1024

var (
	// ErrSyncTransport matches failures where no response was received.
	ErrSyncTransport = errors.New("sync transport error")
	// ErrSyncRejected matches non-2xx responses.
	ErrSyncRejected = errors.New("sync rejected")
)

// TransportError wraps a network-level failure.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "sync transport error: " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrSyncTransport.
func (e *TransportError) Is(target error) bool { return target == ErrSyncTransport }

// RejectedError is a response outside the 2xx range.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("sync rejected: status %d", e.StatusCode)
	}
	return fmt.Sprintf("sync rejected: status %d: %s", e.StatusCode, e.Body)
}

// Is lets errors.Is match ErrSyncRejected.
func (e *RejectedError) Is(target error) bool { return target == ErrSyncRejected }

// Client maps actions onto the REST contract:
//
//	CREATE -> POST   /<collection>
//	UPDATE -> PATCH  /<collection>/<id>
//	DELETE -> DELETE /<collection>/<id>
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for baseURL. A nil httpClient gets DefaultTimeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// Apply sends one action. Any 2xx response is success.
func (c *Client) Apply(ctx context.Context, action models.PendingAction) error {
	method, target, err := c.route(action)
	if err != nil {
		return err
	}

	body, err := json.Marshal(action.Payload)
	if err != nil {
		return fmt.Errorf("encode payload of %s: %w", action.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request for %s: %w", action.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySnippet))
		return &RejectedError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) route(action models.PendingAction) (method, target string, err error) {
	collectionURL := c.baseURL + "/" + url.PathEscape(string(action.Collection))

	switch action.Type {
	case models.ActionCreate:
		return http.MethodPost, collectionURL, nil
	case models.ActionUpdate, models.ActionDelete:
		id, ok := models.RemoteID(action.Collection, action.Payload)
		if !ok {
			return "", "", fmt.Errorf("action %s: payload has no remote id", action.ID)
		}
		method = http.MethodPatch
		if action.Type == models.ActionDelete {
			method = http.MethodDelete
		}
		return method, collectionURL + "/" + url.PathEscape(id), nil
	default:
		return "", "", fmt.Errorf("action %s: unknown type %q", action.ID, action.Type)
	}
}
