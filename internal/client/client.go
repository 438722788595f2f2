// Package client implements the authenticated outbound HTTP layer Mission
// Control uses to talk to its collaborators, plus a typed client per
// service. Every call attaches the cached service token, is bounded by a
// per-call timeout, and retries transient failures a small number of times
// with jittered backoff.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/stage7/missionctl/internal/common/errs"
	"github.com/stage7/missionctl/internal/common/logger"
)

const (
	maxAttempts     = 3
	retryBackoffMin = 200 * time.Millisecond
	retryBackoffMax = 600 * time.Millisecond
)

// Client is the shared HTTP transport for all collaborator clients.
type Client struct {
	http   *http.Client
	tokens TokenSource
	logger *logger.Logger
}

// New creates a Client with the given per-call timeout and token source.
func New(timeout time.Duration, tokens TokenSource, log *logger.Logger) *Client {
	return &Client{
		http:   &http.Client{Timeout: timeout},
		tokens: tokens,
		logger: log,
	}
}

// Do performs an authenticated JSON request. A nil body sends no payload;
// a nil out discards the response body. Transient failures (network
// errors and 5xx responses) are retried with jittered backoff; the final
// failure surfaces as ErrCollaboratorUnavailable.
func (c *Client) Do(ctx context.Context, method, url string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := retryBackoffMin + time.Duration(rand.Int63n(int64(retryBackoffMax-retryBackoffMin)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		retryable, err := c.doOnce(ctx, method, url, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
		c.logger.Warn("collaborator call failed, retrying",
			zap.String("method", method),
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	return fmt.Errorf("%w: %s %s: %v", errs.ErrCollaboratorUnavailable, method, url, lastErr)
}

// doOnce performs a single attempt. The bool result reports whether the
// failure is transient and worth retrying.
func (c *Client) doOnce(ctx context.Context, method, url string, payload []byte, out any) (bool, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return false, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return true, fmt.Errorf("acquiring service token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		// Stale token; drop it so the retry re-authenticates.
		if c.tokens != nil {
			c.tokens.Invalidate()
		}
		return true, fmt.Errorf("unauthorized (token rejected)")
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("server error %d", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return false, errs.NotFoundf("%s %s", method, url)
	case resp.StatusCode >= 400:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("request failed with %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}

	if out == nil {
		return false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decoding response: %w", err)
	}
	return false, nil
}
