package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUnexpectedStatus is returned for any response the caller did not expect.
var ErrUnexpectedStatus = errors.New("unexpected status")

// client wraps http.Client with the service base URL and admin key.
type client struct {
	http     *http.Client
	baseURL  string
	adminKey string
}

func newClient(baseURL, adminKey string, timeout time.Duration) *client {
	return &client{
		http:     &http.Client{Timeout: timeout},
		baseURL:  baseURL,
		adminKey: adminKey,
	}
}

// do sends body as JSON and decodes a 2xx response into out when set. It
// returns the status code.
func (c *client) do(ctx context.Context, method, path string, body, out any, headers ...string) (int, error) {
	var rd io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request body: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var e errorResponse
		_ = json.Unmarshal(data, &e)
		return resp.StatusCode, fmt.Errorf("%w %d on %s %s: %s %s", ErrUnexpectedStatus, resp.StatusCode, method, path, e.Code, e.Message)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

func (c *client) admin(ctx context.Context, method, path string, body any) error {
	_, err := c.do(ctx, method, path, body, nil, "X-Admin-Key", c.adminKey)
	return err
}
