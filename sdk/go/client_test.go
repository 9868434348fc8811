package secureqr

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secureqr/secureqr/internal/app"
	"github.com/secureqr/secureqr/internal/config"
	"github.com/secureqr/secureqr/internal/handler"
	"github.com/secureqr/secureqr/internal/keys"
	"github.com/secureqr/secureqr/internal/logger"
	"github.com/secureqr/secureqr/internal/middleware"
	"github.com/secureqr/secureqr/internal/router"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()

	cfg := &config.Config{}
	cfg.Database.Backend = app.BackendMemory
	cfg.Security.Admin = config.AdminConfig{
		JWTSecret: "0123456789abcdef0123456789abcdef",
		Issuer:    "secureqr",
		TokenTTL:  time.Hour,
	}
	cfg.Trust = config.TrustConfig{RootIssuerID: "ROOT-ISSUER-1", RootDisplayName: "Root Issuer"}

	log := logger.Nop()
	a, err := app.Open(ctx, cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	token, _, err := a.Tokens.Issue("sdk-test", 0)
	require.NoError(t, err)

	h := handler.New(nil, nil, log, cfg, a.Tokens, a.Issuers, a.SignedQR, a.Crypto)
	srv := httptest.NewServer(router.New(h, middleware.New(nil, log, cfg, a.Metrics), a.Tokens, a.Metrics))
	t.Cleanup(srv.Close)

	return NewClient(Config{BaseURL: srv.URL, AdminToken: token})
}

func setupLeaf(t *testing.T, c *Client) *Leaf {
	t.Helper()
	ctx := context.Background()
	root, err := c.BootstrapRoot(ctx, "", "")
	require.NoError(t, err)
	leaf, err := c.IssueLeaf(ctx, root.ID, "alice")
	require.NoError(t, err)
	return leaf
}

func TestClientSignAndVerify(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.TrustRoot(ctx)
	apiErr, ok := IsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)

	leaf := setupLeaf(t, c)
	assert.Equal(t, "alice", leaf.Alias)

	got, err := c.GetLeaf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, leaf.PublicKey, got.PublicKey)

	_, err = c.IssueLeaf(ctx, leaf.IssuerID, "alice")
	apiErr, ok = IsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "ALIAS_TAKEN", apiErr.Code)

	wire, err := c.SignEnvelope(ctx, "alice", []byte("hello-world"))
	require.NoError(t, err)

	res, err := c.VerifyEnvelope(ctx, wire)
	require.NoError(t, err)
	assert.True(t, res.TrustedRoot)

	v, err := c.VerifyOffline(ctx, wire)
	require.NoError(t, err)
	assert.True(t, v.Trusted())
	assert.Equal(t, "hello-world", string(v.Payload))

	png, err := c.SignedQR(ctx, "alice", []byte("hello-world"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}

func TestClientEncryptToAlias(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	setupLeaf(t, c)

	env, err := c.Encrypt(ctx, "for alice", "", "alice")
	require.NoError(t, err)

	plaintext, err := c.DecryptWithAlias(ctx, env, "alice")
	require.NoError(t, err)
	assert.Equal(t, "for alice", plaintext)

	anon := NewClient(Config{BaseURL: c.cfg.BaseURL})
	_, err = anon.DecryptWithAlias(ctx, env, "alice")
	apiErr, ok := IsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestPinnedRootRejectsForeignChain(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	setupLeaf(t, c)

	wire, err := c.SignEnvelope(ctx, "alice", []byte("hello"))
	require.NoError(t, err)

	other, err := keys.Generate(keys.AlgorithmECP256)
	require.NoError(t, err)
	otherPub, err := other.EncodedPublic()
	require.NoError(t, err)

	pinned := NewClient(Config{BaseURL: c.cfg.BaseURL, RootPublicKey: otherPub})
	v, err := pinned.VerifyOffline(ctx, wire)
	require.NoError(t, err)
	assert.True(t, v.PayloadValid)
	assert.False(t, v.IssuerValid)
	assert.False(t, v.Trusted())

	_, err = NewVerifier("not a key")
	assert.Error(t, err)
}

func TestEchoSignedPayload(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	setupLeaf(t, c)

	wire, err := c.SignEnvelope(ctx, "alice", []byte(`{"ticket":42}`))
	require.NoError(t, err)

	e := echo.New()
	e.Use(c.EchoSignedPayload(MiddlewareConfig{SkipPaths: []string{"/health"}}))
	e.GET("/scan", func(ec echo.Context) error {
		return ec.String(http.StatusOK, string(GetVerification(ec).Payload))
	})
	e.GET("/health", func(ec echo.Context) error {
		return ec.NoContent(http.StatusNoContent)
	})

	serve := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/scan", nil)
		if header != "" {
			req.Header.Set(DefaultEnvelopeHeader, header)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	rec := serve(string(wire))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"ticket":42}`, rec.Body.String())

	rec = serve(base64.RawURLEncoding.EncodeToString(wire))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve("")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing_envelope")

	rec = serve(`{"v":2}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(string(bytes.Replace(wire, []byte("42"), []byte("43"), 1)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "untrusted_envelope")

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
