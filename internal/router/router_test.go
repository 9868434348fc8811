package router

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secureqr/secureqr/internal/auth"
	"github.com/secureqr/secureqr/internal/config"
	"github.com/secureqr/secureqr/internal/handler"
	"github.com/secureqr/secureqr/internal/keyprotect"
	"github.com/secureqr/secureqr/internal/logger"
	"github.com/secureqr/secureqr/internal/metrics"
	"github.com/secureqr/secureqr/internal/middleware"
	"github.com/secureqr/secureqr/internal/qr"
	"github.com/secureqr/secureqr/internal/repository"
	"github.com/secureqr/secureqr/internal/service"
)

type testServer struct {
	srv   *httptest.Server
	token string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{}
	cfg.Security.Admin = config.AdminConfig{
		JWTSecret: "0123456789abcdef0123456789abcdef",
		Issuer:    "secureqr",
		TokenTTL:  time.Hour,
	}
	cfg.Trust = config.TrustConfig{RootIssuerID: "ROOT-ISSUER-1", RootDisplayName: "Root Issuer"}

	log := logger.Nop()
	m := metrics.New()
	audit := repository.NewMemoryAuditStore()
	issuers := service.NewIssuerService(
		repository.NewMemoryIssuerStore(),
		repository.NewMemoryLeafStore(),
		audit,
		keyprotect.Plaintext{},
		cfg.Trust,
		m,
		log,
	)
	codec, err := qr.NewCodec(0, "")
	require.NoError(t, err)
	qrSvc := service.NewSignedQRService(issuers, repository.NewMemoryRecordStore(), audit, codec, m, log)
	cryptoSvc := service.NewCryptoService(issuers, m, log)

	tokens := auth.NewTokenService(cfg.Security.Admin)
	token, _, err := tokens.Issue("ops", 0)
	require.NoError(t, err)

	h := handler.New(nil, nil, log, cfg, tokens, issuers, qrSvc, cryptoSvc)
	mw := middleware.New(nil, log, cfg, m)
	srv := httptest.NewServer(New(h, mw, tokens, m))
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, token: token}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, admin bool) *http.Response {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		r = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	body := decode(t, resp)
	errObj, ok := body["error"].(map[string]interface{})
	require.True(t, ok, "expected error object, got %v", body)
	return errObj["code"].(string)
}

func TestIssueSignVerifyFlow(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/api/v1/trust/root", nil, false)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "TRUST_NOT_INITIALIZED", errorCode(t, resp))

	resp = s.do(t, http.MethodPost, "/api/v1/issuers/bootstrap", nil, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/v1/issuers/bootstrap", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	root := decode(t, resp)
	assert.Equal(t, "ROOT-ISSUER-1", root["id"])
	assert.NotContains(t, root, "privateKeyEnc")

	resp = s.do(t, http.MethodPost, "/api/v1/issuers/ROOT-ISSUER-1/leaves", map[string]string{"alias": "alice"}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/v1/issuers/ROOT-ISSUER-1/leaves", map[string]string{"alias": "alice"}, true)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "ALIAS_TAKEN", errorCode(t, resp))

	resp = s.do(t, http.MethodPost, "/api/v1/issuers/NOPE/leaves", map[string]string{"alias": "bob"}, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/v1/leaves/alice", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	leaf := decode(t, resp)
	assert.Equal(t, "alice", leaf["alias"])
	assert.Equal(t, "ROOT-ISSUER-1", leaf["issuerId"])

	resp = s.do(t, http.MethodGet, "/api/v1/trust/root", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decode(t, resp)
	assert.Equal(t, "store", info["source"])
	assert.Equal(t, root["publicKey"], info["publicKey"])

	// Envelope round trip.
	resp = s.do(t, http.MethodPost, "/api/v1/qr/signed/envelope", map[string]string{"data": "hello-world", "alias": "alice"}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Signed-Record-ID"))
	wire, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	resp = s.do(t, http.MethodPost, "/api/v1/envelopes/verify", wire, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode(t, resp)
	assert.Equal(t, true, res["payloadValid"])
	assert.Equal(t, true, res["issuerValid"])
	assert.Equal(t, true, res["trustedRoot"])
	assert.Equal(t, "hello-world", res["payload"])

	tampered := bytes.Replace(wire, []byte("hello-world"), []byte("hello-World"), 1)
	resp = s.do(t, http.MethodPost, "/api/v1/envelopes/verify", tampered, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = decode(t, resp)
	assert.Equal(t, false, res["payloadValid"])
	assert.Equal(t, true, res["issuerValid"])
	assert.Equal(t, false, res["trustedRoot"])

	resp = s.do(t, http.MethodPost, "/api/v1/envelopes/verify", []byte(`{"v":1}`), false)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "MALFORMED_ENVELOPE", errorCode(t, resp))

	// QR image round trip.
	resp = s.do(t, http.MethodPost, "/api/v1/qr/signed", map[string]string{"data": "ticket #42", "alias": "alice"}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	png, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var form bytes.Buffer
	mpw := multipart.NewWriter(&form)
	part, err := mpw.CreateFormFile("file", "code.png")
	require.NoError(t, err)
	_, err = part.Write(png)
	require.NoError(t, err)
	require.NoError(t, mpw.Close())

	upload, err := http.NewRequest(http.MethodPost, s.srv.URL+"/api/v1/qr/verify", &form)
	require.NoError(t, err)
	upload.Header.Set("Content-Type", mpw.FormDataContentType())
	resp, err = http.DefaultClient.Do(upload)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = decode(t, resp)
	assert.Equal(t, true, res["trustedRoot"])
	assert.Equal(t, "ticket #42", res["payload"])
	assert.True(t, strings.HasPrefix(res["decoded"].(string), `{"v":1`))

	resp = s.do(t, http.MethodGet, "/api/v1/leaves/alice/records", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), decode(t, resp)["count"])

	resp = s.do(t, http.MethodGet, "/metrics", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	metricsBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(metricsBody), "secureqr_http_requests_total")
	assert.Contains(t, string(metricsBody), "secureqr_trust_leaves_issued_total 1")
}

func TestCryptoEndpoints(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/v1/crypto/keys", map[string]string{"algorithm": "EC-P256"}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	kp := decode(t, resp)
	pub, priv := kp["publicKey"].(string), kp["privateKey"].(string)

	resp = s.do(t, http.MethodPost, "/api/v1/crypto/sign", map[string]string{"message": "m", "privateKey": priv}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sig := decode(t, resp)["signature"].(string)

	resp = s.do(t, http.MethodPost, "/api/v1/crypto/verify", map[string]string{"message": "m", "signature": sig, "publicKey": pub}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode(t, resp)["valid"])

	resp = s.do(t, http.MethodPost, "/api/v1/crypto/verify", map[string]string{"message": "x", "signature": sig, "publicKey": pub}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decode(t, resp)["valid"])

	resp = s.do(t, http.MethodPost, "/api/v1/crypto/encrypt", map[string]string{"plaintext": "secret", "recipientPublicKey": pub}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	resp = s.do(t, http.MethodPost, "/api/v1/crypto/decrypt", map[string]interface{}{
		"envelope":   json.RawMessage(env),
		"privateKey": priv,
	}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "secret", decode(t, resp)["plaintext"])

	resp = s.do(t, http.MethodPost, "/api/v1/crypto/decrypt", map[string]interface{}{
		"envelope":   string(env),
		"privateKey": priv,
	}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/v1/crypto/keys", map[string]string{"algorithm": "DSA"}, false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/v1/crypto/sign", map[string]string{"message": "m", "privateKey": priv, "extra": "x"}, false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDecryptByAliasRequiresAdmin(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/v1/issuers/bootstrap", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = s.do(t, http.MethodPost, "/api/v1/issuers/ROOT-ISSUER-1/leaves", map[string]string{"alias": "alice"}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/v1/crypto/encrypt", map[string]string{"plaintext": "for alice", "alias": "alice"}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	body := map[string]interface{}{"envelope": json.RawMessage(env), "alias": "alice"}
	resp = s.do(t, http.MethodPost, "/api/v1/crypto/decrypt", body, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/v1/crypto/decrypt", body, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "for alice", decode(t, resp)["plaintext"])

	env[len(env)-3] ^= 0x01
	resp = s.do(t, http.MethodPost, "/api/v1/crypto/decrypt", map[string]interface{}{"envelope": string(env), "alias": "alice"}, true)
	assert.Contains(t, []int{http.StatusUnprocessableEntity, http.StatusBadRequest}, resp.StatusCode)
}

func TestSignVerifyByAlias(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/v1/issuers/bootstrap", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = s.do(t, http.MethodPost, "/api/v1/issuers/ROOT-ISSUER-1/leaves", map[string]string{"alias": "alice"}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	signBody := map[string]string{"message": "hello", "alias": "alice"}
	resp = s.do(t, http.MethodPost, "/api/v1/crypto/sign", signBody, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/v1/crypto/sign", signBody, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sig := decode(t, resp)["signature"].(string)
	require.NotEmpty(t, sig)

	resp = s.do(t, http.MethodPost, "/api/v1/crypto/verify", map[string]string{"message": "hello", "signature": sig, "alias": "alice"}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode(t, resp)["valid"])

	resp = s.do(t, http.MethodPost, "/api/v1/crypto/verify", map[string]string{"message": "bye", "signature": sig, "alias": "alice"}, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decode(t, resp)["valid"])

	resp = s.do(t, http.MethodPost, "/api/v1/crypto/verify", map[string]string{"message": "hello", "signature": sig, "alias": "nobody"}, false)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/v1/crypto/sign", map[string]string{"message": "hello", "alias": "alice", "privateKey": "x"}, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSignedQRTooLarge(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/v1/issuers/bootstrap", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = s.do(t, http.MethodPost, "/api/v1/issuers/ROOT-ISSUER-1/leaves", map[string]string{"alias": "alice"}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/v1/qr/signed", map[string]string{"data": strings.Repeat("a", 3000), "alias": "alice"}, true)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "QR_TOO_LARGE", errorCode(t, resp))

	resp = s.do(t, http.MethodGet, "/api/v1/leaves/alice/records", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, decode(t, resp)["count"])
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/health", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "healthy", body["status"])

	resp = s.do(t, http.MethodGet, "/ready", nil, false)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/v1/issuers/bootstrap", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = s.do(t, http.MethodGet, "/ready", nil, false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
