// Package syncclient talks to the fleet sync server for the small set of
// calls that originate in the user agent rather than the root daemon.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/wardensec/agent/internal/logging"
)

var log = logging.L("syncclient")

// RetryConfig controls retry behavior for sync server calls.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFrac    float64
}

// DefaultRetryConfig returns the defaults for agent-to-server calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFrac:    0.3,
	}
}

// Client issues authenticated-by-identity calls to the sync server.
type Client struct {
	baseURL   string
	machineID string
	http      *http.Client
	retry     RetryConfig
}

// New creates a client for the sync server at baseURL.
func New(baseURL, machineID string) *Client {
	return &Client{
		baseURL:   baseURL,
		machineID: machineID,
		http:      &http.Client{Timeout: 30 * time.Second},
		retry:     DefaultRetryConfig(),
	}
}

// TokenChanged informs the sync server that this machine's push token
// changed so future rule updates can be pushed instead of polled.
func (c *Client) TokenChanged(ctx context.Context, token string) error {
	payload, err := json.Marshal(map[string]string{
		"machine_id": c.machineID,
		"token":      token,
	})
	if err != nil {
		return fmt.Errorf("marshal token payload: %w", err)
	}

	resp, err := c.post(ctx, c.baseURL+"/v1/push/token", payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("sync server rejected token update: %s", resp.Status)
	}

	log.Info("push token registered with sync server")
	return nil
}

// post sends payload with exponential backoff on transient failures. The
// body is a byte slice so it can be replayed on retries.
func (c *Client) post(ctx context.Context, url string, payload []byte) (*http.Response, error) {
	var lastErr error
	delay := c.retry.InitialDelay

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			sleep := applyJitter(delay, c.retry.JitterFrac)
			log.Debug("retrying sync call", "attempt", attempt, "delay", sleep, "url", url)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(sleep):
			}

			delay = time.Duration(float64(delay) * c.retry.BackoffFactor)
			if delay > c.retry.MaxDelay {
				delay = c.retry.MaxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if !isRetryableStatus(resp.StatusCode) {
			return resp, nil
		}

		resp.Body.Close()
		lastErr = fmt.Errorf("sync server returned %s", resp.Status)
	}

	log.Warn("sync call failed after retries", "url", url, "error", lastErr)
	return nil, lastErr
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

func applyJitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	jitter := float64(d) * frac * (2*rand.Float64() - 1)
	result := time.Duration(float64(d) + jitter)
	if result < 0 {
		return 0
	}
	return result
}
