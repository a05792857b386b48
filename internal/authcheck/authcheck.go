// Package authcheck validates upstream API credentials without exchanging
// any job data.
package authcheck

import (
	"context"
	"io"
	"net/http"
	"time"

	"loopcard/internal/pkg/errors"
)

// Client performs the credential-validation round trip against the upstream
// provider's identity endpoint.
type Client struct {
	endpoint string
	token    string
	client   *http.Client
}

func New(endpoint, token string) *Client {
	return &Client{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 20 * time.Second},
	}
}

// Verify confirms the configured credentials are valid and the provider is
// reachable.
func (c *Client) Verify(ctx context.Context) error {
	if c.endpoint == "" {
		return errors.New(errors.CodeValidation, "auth endpoint is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "auth.verify", "bad auth endpoint")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "auth.verify", "auth provider unreachable")
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))

	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		return nil
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return errors.Newf(errors.CodeUnauthorized, "auth.verify: credentials rejected (http %d)", res.StatusCode)
	default:
		return errors.Newf(errors.CodeUnavailable, "auth.verify: unexpected reply (http %d)", res.StatusCode)
	}
}
