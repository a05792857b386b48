package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPEngine drives a rendering sidecar over HTTP. Opening a session boots
// the sidecar's automation engine; renders reuse that session.
type HTTPEngine struct {
	baseURL string
	client  *http.Client
}

func NewHTTPEngine(baseURL string) *HTTPEngine {
	return &HTTPEngine{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

// Start opens the engine session. This is the expensive call the shared
// handle amortizes across the worker pool.
func (e *HTTPEngine) Start(ctx context.Context) error {
	_, err := e.post(ctx, "/session/open", nil)
	return err
}

func (e *HTTPEngine) Warmup(ctx context.Context) error {
	_, err := e.post(ctx, "/warmup", nil)
	return err
}

func (e *HTTPEngine) Render(ctx context.Context, p Payload) ([]byte, error) {
	return e.post(ctx, "/render", p)
}

func (e *HTTPEngine) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := e.post(ctx, "/session/close", nil)
	e.client.CloseIdleConnections()
	return err
}

func (e *HTTPEngine) post(ctx context.Context, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	out, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("engine http %d: %s", res.StatusCode, truncate(string(out), 500))
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
