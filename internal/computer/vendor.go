// internal/computer/vendor.go
package computer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

// APIError is a non-2xx response from a remote browser vendor.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vendor API returned status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether retrying the request could succeed.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// vendorClient is a small JSON-over-HTTP client shared by the remote backends.
type vendorClient struct {
	baseURL    string
	authHeader string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger

	attempts uint
	delay    time.Duration
}

func newVendorClient(baseURL, authHeader, apiKey string, logger *zap.Logger) *vendorClient {
	return &vendorClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authHeader: authHeader,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
		attempts:   3,
		delay:      500 * time.Millisecond,
	}
}

// do sends body as JSON and decodes the response into out when out is non-nil.
// Transport errors, 429 and 5xx responses are retried.
func (c *vendorClient) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode %s %s request: %w", method, path, err)
		}
	}

	return retry.Do(
		func() error { return c.once(ctx, method, path, payload, out) },
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if !retry.IsRecoverable(err) {
				return false
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.Transient()
			}
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("Retrying vendor API request.",
				zap.String("method", method), zap.String("path", path),
				zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
}

func (c *vendorClient) once(ctx context.Context, method, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set(c.authHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read %s %s response: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return retry.Unrecoverable(fmt.Errorf("failed to decode %s %s response: %w", method, path, err))
	}
	return nil
}
