package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// TokenSource yields the service bearer token used on outbound calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	// Invalidate drops the cached token so the next call re-authenticates.
	Invalidate()
}

// serviceTokenTTL is how long an issued token is reused before the source
// re-authenticates. Kept short of the issuer's expiry so a token is never
// presented stale.
const serviceTokenTTL = 5 * time.Minute

// SecurityTokenSource obtains service tokens from the security service and
// caches them.
type SecurityTokenSource struct {
	url          string
	clientID     string
	clientSecret string
	http         *http.Client

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewSecurityTokenSource targets the security service's service-auth endpoint.
func NewSecurityTokenSource(baseURL, clientID, clientSecret string, httpClient *http.Client) *SecurityTokenSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &SecurityTokenSource{
		url:          baseURL + "/auth/service",
		clientID:     clientID,
		clientSecret: clientSecret,
		http:         httpClient,
	}
}

type serviceAuthResponse struct {
	Authenticated bool   `json:"authenticated"`
	Token         string `json:"token"`
}

// Token returns the cached token, refreshing it when absent or expired.
func (s *SecurityTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Before(s.expiry) {
		return s.token, nil
	}

	body, err := json.Marshal(map[string]string{
		"componentType": s.clientID,
		"clientSecret":  s.clientSecret,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("service auth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("service auth returned %d", resp.StatusCode)
	}

	var decoded serviceAuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decoding service auth response: %w", err)
	}
	if decoded.Token == "" {
		return "", fmt.Errorf("service auth returned no token")
	}

	s.token = decoded.Token
	s.expiry = time.Now().Add(serviceTokenTTL)
	return s.token, nil
}

// Invalidate drops the cached token.
func (s *SecurityTokenSource) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.expiry = time.Time{}
	s.mu.Unlock()
}

// StaticTokenSource returns a fixed token. Used in tests and local mode.
type StaticTokenSource string

func (s StaticTokenSource) Token(context.Context) (string, error) { return string(s), nil }
func (s StaticTokenSource) Invalidate()                           {}
