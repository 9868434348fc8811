package router

import (
	"net/http"
	"time"

	"github.com/secureqr/secureqr/internal/auth"
	"github.com/secureqr/secureqr/internal/handler"
	"github.com/secureqr/secureqr/internal/metrics"
	"github.com/secureqr/secureqr/internal/middleware"
)

// New creates and configures the HTTP router
func New(h *handler.Handler, mw *middleware.Middleware, tokenSvc *auth.TokenService, m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()

	// Health and metrics (no auth required)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
	mux.Handle("GET /metrics", m.Handler())

	mux.HandleFunc("GET /api/v1/{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"SecureQR API v1","version":"` + handler.Version + `"}`))
	})

	adminMw := mw.AdminAuth(tokenSvc)
	publicRateLimit := mw.RateLimit(mw.DefaultRateLimit("public"))
	cryptoRateLimit := mw.RateLimit(mw.DefaultRateLimit("crypto"))
	// Key generation is CPU heavy for RSA.
	keygenRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "keygen",
		Limit:  10,
		Window: time.Minute,
		KeyFn:  middleware.IPKey,
	})

	// Trust anchor
	mux.Handle("GET /api/v1/trust/root", publicRateLimit(http.HandlerFunc(h.TrustRoot)))
	mux.Handle("GET /api/v1/trust/state", publicRateLimit(http.HandlerFunc(h.TrustState)))

	// Issuers and leaves
	mux.Handle("POST /api/v1/issuers/bootstrap", adminMw(http.HandlerFunc(h.BootstrapIssuer)))
	mux.Handle("GET /api/v1/issuers/{id}", publicRateLimit(http.HandlerFunc(h.GetIssuer)))
	mux.Handle("POST /api/v1/issuers/{id}/leaves", adminMw(http.HandlerFunc(h.IssueLeaf)))
	mux.Handle("GET /api/v1/issuers/{id}/leaves", adminMw(http.HandlerFunc(h.ListLeaves)))
	mux.Handle("GET /api/v1/leaves/{alias}", publicRateLimit(http.HandlerFunc(h.GetLeaf)))
	mux.Handle("GET /api/v1/leaves/{alias}/records", adminMw(http.HandlerFunc(h.LeafRecords)))

	// Signed payloads
	mux.Handle("POST /api/v1/qr/signed", adminMw(http.HandlerFunc(h.SignedQR)))
	mux.Handle("POST /api/v1/qr/signed/envelope", adminMw(http.HandlerFunc(h.SignedEnvelope)))
	mux.Handle("POST /api/v1/qr/verify", publicRateLimit(http.HandlerFunc(h.VerifyQR)))
	mux.Handle("POST /api/v1/envelopes/verify", publicRateLimit(http.HandlerFunc(h.VerifyEnvelope)))

	// Generic crypto
	mux.Handle("POST /api/v1/crypto/keys", keygenRateLimit(http.HandlerFunc(h.GenerateKeys)))
	mux.Handle("POST /api/v1/crypto/sign", mw.OptionalAdmin(tokenSvc)(cryptoRateLimit(http.HandlerFunc(h.Sign))))
	mux.Handle("POST /api/v1/crypto/verify", cryptoRateLimit(http.HandlerFunc(h.Verify)))
	mux.Handle("POST /api/v1/crypto/encrypt", cryptoRateLimit(http.HandlerFunc(h.Encrypt)))
	mux.Handle("POST /api/v1/crypto/decrypt", mw.OptionalAdmin(tokenSvc)(cryptoRateLimit(http.HandlerFunc(h.Decrypt))))

	// Apply middleware stack
	var handler http.Handler = mux

	// Request logging and metrics (must wrap the mux directly)
	handler = mw.Logger(handler)

	// Security headers
	handler = mw.SecurityHeaders(handler)

	// Request ID and audit metadata
	handler = mw.RequestID(handler)

	// Panic recovery (outermost)
	handler = mw.Recover(handler)

	return handler
}
