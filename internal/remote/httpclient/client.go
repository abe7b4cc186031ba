// Package httpclient implements remote.Store against the labsync REST API.
package httpclient

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

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/hyperengineering/labsync/internal/remote"
)

// StatusError is returned for non-2xx responses that map to no remote sentinel.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s %s: %d", e.Method, e.Path, e.Code)
}

// Client talks to a labsync API server.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var (
	_ remote.Store   = (*Client)(nil)
	_ remote.Pinger  = (*Client)(nil)
	_ remote.Watcher = (*Client)(nil)
)

// New creates a Client. timeout bounds each request; callers usually also
// pass a context deadline.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type listResponse struct {
	Rows []remote.Row `json:"rows"`
}

type problem struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// Ping checks the server health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: %d", resp.StatusCode)
	}
	return nil
}

// Select implements remote.Store.
func (c *Client) Select(ctx context.Context, table string, filters ...remote.Filter) ([]remote.Row, error) {
	q := url.Values{}
	for _, f := range filters {
		q.Add(f.Column, fmt.Sprint(f.Value))
	}
	path := "/api/v1/tables/" + url.PathEscape(table)

	resp, err := c.do(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var out listResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s rows: %w", table, err)
	}
	return out.Rows, nil
}

// Insert implements remote.Store.
func (c *Client) Insert(ctx context.Context, table string, row remote.Row) error {
	return c.send(ctx, http.MethodPost, "/api/v1/tables/"+url.PathEscape(table), nil, row)
}

// Update implements remote.Store.
func (c *Client) Update(ctx context.Context, table, id string, patch remote.Row) error {
	path := "/api/v1/tables/" + url.PathEscape(table) + "/" + url.PathEscape(id)
	return c.send(ctx, http.MethodPatch, path, nil, patch)
}

// Delete implements remote.Store.
func (c *Client) Delete(ctx context.Context, table string, match remote.Filter) error {
	q := url.Values{}
	q.Set(match.Column, fmt.Sprint(match.Value))
	return c.send(ctx, http.MethodDelete, "/api/v1/tables/"+url.PathEscape(table), q, nil)
}

// Watch subscribes to the server's change feed over a websocket.
func (c *Client) Watch(ctx context.Context) (<-chan remote.Change, error) {
	wsURL := c.baseURL + "/api/v1/changes"
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("dial change feed: %w", err)
	}

	ch := make(chan remote.Change, 16)
	go func() {
		defer close(ch)
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			var change remote.Change
			if err := wsjson.Read(ctx, conn, &change); err != nil {
				if ctx.Err() == nil {
					slog.Warn("change feed closed",
						"error", err,
						"component", "httpclient",
					)
				}
				return
			}
			select {
			case ch <- change:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (c *Client) send(ctx context.Context, method, path string, q url.Values, body any) error {
	resp, err := c.do(ctx, method, path, q, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// do sends an authenticated request.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body any) (*http.Response, error) {
	if c.baseURL == "" {
		return nil, errors.New("remote URL not configured")
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(data)
	}

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// checkResponse converts error responses, mapping 409 to remote.ErrUniqueViolation
// and 404 to remote.ErrUnknownTable.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var p problem
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(data, &p)

	switch resp.StatusCode {
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", remote.ErrUniqueViolation, p.Detail)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", remote.ErrUnknownTable, p.Detail)
	}
	return &StatusError{
		Method: resp.Request.Method,
		Path:   resp.Request.URL.Path,
		Code:   resp.StatusCode,
		Detail: p.Detail,
	}
}
