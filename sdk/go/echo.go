package secureqr

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/secureqr/secureqr/internal/envelope"
)

const (
	// DefaultEnvelopeHeader carries the signed envelope, as raw JSON or
	// base64url-encoded JSON.
	DefaultEnvelopeHeader = "X-SecureQR-Envelope"

	// VerificationContextKey is the key used to store the *Verification in echo.Context.
	VerificationContextKey = "secureqr_verification"
)

// MiddlewareConfig configures the Echo envelope middleware.
type MiddlewareConfig struct {
	// Skipper defines a function to skip this middleware for certain requests.
	Skipper func(c echo.Context) bool

	// Header is the request header holding the envelope.
	// Default: DefaultEnvelopeHeader
	Header string

	// EnvelopeExtractor is an optional custom function returning the envelope
	// JSON. If nil, the configured header is read.
	EnvelopeExtractor func(c echo.Context) ([]byte, error)

	// ErrorHandler is an optional custom error handler for rejected requests.
	// If nil, the default handler returns JSON errors.
	ErrorHandler func(c echo.Context, err error) error

	// SkipPaths is a list of path prefixes that do not require an envelope.
	SkipPaths []string

	// IssuerID, when set, additionally requires the envelope to name this issuer.
	IssuerID string
}

// EchoSignedPayload returns Echo middleware that admits only requests carrying
// a signed envelope that verifies offline against the client's root key.
//
// Retrieve the verified payload in handlers with GetVerification(c).
func (client *Client) EchoSignedPayload(cfgs ...MiddlewareConfig) echo.MiddlewareFunc {
	cfg := MiddlewareConfig{}
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	}
	if cfg.Header == "" {
		cfg.Header = DefaultEnvelopeHeader
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			path := c.Request().URL.Path
			for _, p := range cfg.SkipPaths {
				if strings.HasPrefix(path, p) {
					return next(c)
				}
			}

			var (
				wire []byte
				err  error
			)
			if cfg.EnvelopeExtractor != nil {
				wire, err = cfg.EnvelopeExtractor(c)
			} else {
				wire, err = headerEnvelope(c, cfg.Header)
			}
			if err != nil {
				return handleEnvelopeError(c, cfg, err)
			}

			res, err := client.VerifyOffline(c.Request().Context(), wire)
			if err != nil {
				return handleEnvelopeError(c, cfg, err)
			}
			if !res.Trusted() || (cfg.IssuerID != "" && res.IssuerID != cfg.IssuerID) {
				return handleEnvelopeError(c, cfg, ErrUntrusted)
			}

			c.Set(VerificationContextKey, res)
			return next(c)
		}
	}
}

// GetVerification retrieves the verified envelope from the Echo context.
// Returns nil if the middleware was not applied or skipped.
func GetVerification(c echo.Context) *Verification {
	if v, ok := c.Get(VerificationContextKey).(*Verification); ok {
		return v
	}
	return nil
}

func headerEnvelope(c echo.Context, header string) ([]byte, error) {
	value := strings.TrimSpace(c.Request().Header.Get(header))
	if value == "" {
		return nil, ErrNoEnvelope
	}
	if strings.HasPrefix(value, "{") {
		return []byte(value), nil
	}
	wire, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(value, "="))
	if err != nil {
		return nil, envelope.ErrMalformed
	}
	return wire, nil
}

func handleEnvelopeError(c echo.Context, cfg MiddlewareConfig, err error) error {
	if cfg.ErrorHandler != nil {
		return cfg.ErrorHandler(c, err)
	}

	code, errCode, message := http.StatusUnauthorized, "untrusted_envelope", "Signed envelope is not trusted"
	switch {
	case errors.Is(err, ErrNoEnvelope):
		errCode, message = "missing_envelope", "Signed envelope required"
	case errors.Is(err, envelope.ErrMalformed):
		code, errCode, message = http.StatusBadRequest, "malformed_envelope", "Signed envelope is malformed"
	case errors.Is(err, ErrNoRootKey):
		code, errCode, message = http.StatusServiceUnavailable, "no_root_key", "Trust anchor unavailable"
	}

	return c.JSON(code, map[string]interface{}{
		"error": map[string]string{
			"code":    errCode,
			"message": message,
		},
	})
}
