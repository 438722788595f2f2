// Package auth verifies bearer tokens on the inbound HTTP ingress.
//
// Verification is a tiered contract: a local RS256 verifier backed by a
// configured public key file is preferred, falling back to the security
// service's verify endpoint. Either yields claims or the request fails.
package auth

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when no verifier accepts the token.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the verified identity attributes of a caller.
type Claims struct {
	UserID        string   `json:"userId"`
	ComponentType string   `json:"componentType,omitempty"`
	Roles         []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates a bearer token and yields its claims.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// LocalVerifier validates RS256 tokens against a public key read from a
// PEM file at construction time.
type LocalVerifier struct {
	key *rsa.PublicKey
}

// NewLocalVerifier reads the PEM-encoded RSA public key at path.
func NewLocalVerifier(path string) (*LocalVerifier, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading public key file: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	return &LocalVerifier{key: key}, nil
}

// NewLocalVerifierFromKey wraps an already-parsed key. Used in tests.
func NewLocalVerifierFromKey(key *rsa.PublicKey) *LocalVerifier {
	return &LocalVerifier{key: key}
}

// Verify parses and validates the token signature and expiry.
func (v *LocalVerifier) Verify(_ context.Context, token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RemoteVerifier delegates validation to the security service.
type RemoteVerifier struct {
	url    string
	client *http.Client
}

// NewRemoteVerifier targets the security service's verify endpoint.
func NewRemoteVerifier(baseURL string, client *http.Client) *RemoteVerifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteVerifier{url: baseURL + "/verify", client: client}
}

type remoteVerifyResponse struct {
	Valid  bool    `json:"valid"`
	Claims *Claims `json:"claims,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// Verify posts the token to the security service and trusts its answer.
func (v *RemoteVerifier) Verify(ctx context.Context, token string) (*Claims, error) {
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote verify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: remote verify returned %d", ErrInvalidToken, resp.StatusCode)
	}

	var decoded remoteVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding verify response: %w", err)
	}
	if !decoded.Valid || decoded.Claims == nil {
		return nil, ErrInvalidToken
	}
	return decoded.Claims, nil
}

// CompositeVerifier tries its verifiers in order and returns the first
// success. It fails only when every verifier rejects the token.
type CompositeVerifier struct {
	verifiers []Verifier
}

// NewCompositeVerifier builds a verifier chain in decreasing preference order.
func NewCompositeVerifier(verifiers ...Verifier) *CompositeVerifier {
	return &CompositeVerifier{verifiers: verifiers}
}

// Verify tries each verifier in turn.
func (v *CompositeVerifier) Verify(ctx context.Context, token string) (*Claims, error) {
	var lastErr error = ErrInvalidToken
	for _, verifier := range v.verifiers {
		claims, err := verifier.Verify(ctx, token)
		if err == nil {
			return claims, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
