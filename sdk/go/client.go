// Package secureqr is the Go client for the SecureQR API. It wraps the HTTP
// endpoints, verifies signed envelopes offline, and provides Echo middleware
// that admits requests carrying a trusted envelope.
package secureqr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Config holds the configuration for the SecureQR client.
type Config struct {
	// BaseURL is the root URL of the SecureQR server.
	// Examples: "https://qr.example.com" or "https://qr.example.com/api/v1"
	// The "/api/v1" suffix is appended automatically if missing.
	BaseURL string

	// AdminToken is sent as a bearer token on admin endpoints.
	AdminToken string

	// RootPublicKey pins the trust anchor for offline verification. When
	// empty the key is fetched from /trust/root and cached for CacheTTL.
	RootPublicKey string

	// CacheTTL controls how long a fetched root key is reused.
	// Default: 10 minutes
	CacheTTL time.Duration

	// HTTPClient is an optional custom HTTP client.
	// If nil, a default client with 10s timeout is used.
	HTTPClient *http.Client
}

func (c *Config) defaults() {
	if c.CacheTTL == 0 {
		c.CacheTTL = 10 * time.Minute
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if !strings.HasSuffix(c.BaseURL, "/api/v1") {
		c.BaseURL = c.BaseURL + "/api/v1"
	}
}

// Client is the SecureQR SDK client.
type Client struct {
	cfg  Config
	root rootCache
}

// NewClient creates a new SecureQR client with the given configuration.
func NewClient(cfg Config) *Client {
	cfg.defaults()
	return &Client{cfg: cfg}
}

// TrustRoot fetches the server's resolved trust anchor.
func (c *Client) TrustRoot(ctx context.Context) (*RootInfo, error) {
	var info RootInfo
	if err := c.do(ctx, http.MethodGet, "/trust/root", nil, false, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Verifier returns an offline verifier for the pinned root key, or for the
// server's root key fetched and cached for CacheTTL.
func (c *Client) Verifier(ctx context.Context) (*Verifier, error) {
	if c.cfg.RootPublicKey != "" {
		return c.root.getOrSet(0, func() (string, error) {
			return c.cfg.RootPublicKey, nil
		})
	}
	return c.root.getOrSet(c.cfg.CacheTTL, func() (string, error) {
		info, err := c.TrustRoot(ctx)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrNoRootKey, err)
		}
		return info.PublicKey, nil
	})
}

// VerifyOffline checks wire locally against the trust anchor.
func (c *Client) VerifyOffline(ctx context.Context, wire []byte) (*Verification, error) {
	v, err := c.Verifier(ctx)
	if err != nil {
		return nil, err
	}
	return v.Verify(wire)
}

// BootstrapRoot creates the root issuer, or returns it when it exists.
func (c *Client) BootstrapRoot(ctx context.Context, displayName, issuerID string) (*Issuer, error) {
	var is Issuer
	req := map[string]string{"displayName": displayName, "issuerId": issuerID}
	if err := c.do(ctx, http.MethodPost, "/issuers/bootstrap", req, true, &is); err != nil {
		return nil, err
	}
	return &is, nil
}

// IssueLeaf issues a leaf credential under issuerID. alias may be empty.
func (c *Client) IssueLeaf(ctx context.Context, issuerID, alias string) (*Leaf, error) {
	var leaf Leaf
	path := "/issuers/" + url.PathEscape(issuerID) + "/leaves"
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"alias": alias}, true, &leaf); err != nil {
		return nil, err
	}
	return &leaf, nil
}

// GetLeaf returns the public view of the leaf under alias.
func (c *Client) GetLeaf(ctx context.Context, alias string) (*Leaf, error) {
	var leaf Leaf
	if err := c.do(ctx, http.MethodGet, "/leaves/"+url.PathEscape(alias), nil, false, &leaf); err != nil {
		return nil, err
	}
	return &leaf, nil
}

// SignEnvelope signs data with the leaf under alias and returns the envelope JSON.
func (c *Client) SignEnvelope(ctx context.Context, alias string, data []byte) ([]byte, error) {
	return c.raw(ctx, http.MethodPost, "/qr/signed/envelope", signBody(alias, data), true, "application/json")
}

// SignedQR signs data with the leaf under alias and returns a QR PNG.
func (c *Client) SignedQR(ctx context.Context, alias string, data []byte) ([]byte, error) {
	return c.raw(ctx, http.MethodPost, "/qr/signed", signBody(alias, data), true, "image/png")
}

// VerifyEnvelope asks the server to verify wire.
func (c *Client) VerifyEnvelope(ctx context.Context, wire []byte) (*VerifyResult, error) {
	body, err := c.send(ctx, http.MethodPost, "/envelopes/verify", bytes.NewReader(wire), "application/json", false)
	if err != nil {
		return nil, err
	}
	var res VerifyResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("secureqr: failed to parse verify response: %w", err)
	}
	return &res, nil
}

// Encrypt encrypts plaintext to a public key, or to the leaf under alias
// when recipientPublicKey is empty. It returns the hybrid envelope JSON.
func (c *Client) Encrypt(ctx context.Context, plaintext, recipientPublicKey, alias string) ([]byte, error) {
	req := map[string]string{"plaintext": plaintext}
	if recipientPublicKey != "" {
		req["recipientPublicKey"] = recipientPublicKey
	} else {
		req["alias"] = alias
	}
	return c.raw(ctx, http.MethodPost, "/crypto/encrypt", req, false, "application/json")
}

// DecryptWithAlias decrypts a hybrid envelope with the key of the leaf under
// alias. Requires an admin token.
func (c *Client) DecryptWithAlias(ctx context.Context, envelope []byte, alias string) (string, error) {
	req := map[string]interface{}{"envelope": json.RawMessage(envelope), "alias": alias}
	var out struct {
		Plaintext string `json:"plaintext"`
	}
	if err := c.do(ctx, http.MethodPost, "/crypto/decrypt", req, true, &out); err != nil {
		return "", err
	}
	return out.Plaintext, nil
}

func signBody(alias string, data []byte) map[string]string {
	return map[string]string{"alias": alias, "data": string(data)}
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}, admin bool, out interface{}) error {
	body, err := c.raw(ctx, method, path, payload, admin, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("secureqr: failed to parse response: %w", err)
	}
	return nil
}

func (c *Client) raw(ctx context.Context, method, path string, payload interface{}, admin bool, accept string) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("secureqr: failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}
	return c.send(ctx, method, path, bodyReader, accept, admin)
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader, accept string, admin bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("secureqr: failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)
	if admin && c.cfg.AdminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AdminToken)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("secureqr: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("secureqr: failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, parseAPIError(resp.StatusCode, data)
	}
	return data, nil
}

// rootCache holds the verifier for the current root key.
type rootCache struct {
	mu        sync.Mutex
	verifier  *Verifier
	expiresAt time.Time
}

// getOrSet returns the cached verifier while it is fresh, otherwise loads a
// key with fetch. ttl 0 caches forever.
func (rc *rootCache) getOrSet(ttl time.Duration, fetch func() (string, error)) (*Verifier, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.verifier != nil && (rc.expiresAt.IsZero() || time.Now().Before(rc.expiresAt)) {
		return rc.verifier, nil
	}
	key, err := fetch()
	if err != nil {
		return nil, err
	}
	v, err := NewVerifier(key)
	if err != nil {
		return nil, err
	}
	rc.verifier = v
	rc.expiresAt = time.Time{}
	if ttl > 0 {
		rc.expiresAt = time.Now().Add(ttl)
	}
	return v, nil
}

// invalidate drops the cached root so the next call refetches it.
func (rc *rootCache) invalidate() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.verifier = nil
}

// InvalidateRoot forgets a fetched root key, e.g. after the server was
// re-bootstrapped.
func (c *Client) InvalidateRoot() {
	c.root.invalidate()
}
