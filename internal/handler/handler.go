package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/secureqr/secureqr/internal/auth"
	"github.com/secureqr/secureqr/internal/config"
	"github.com/secureqr/secureqr/internal/database"
	"github.com/secureqr/secureqr/internal/envelope"
	"github.com/secureqr/secureqr/internal/hybrid"
	"github.com/secureqr/secureqr/internal/keys"
	"github.com/secureqr/secureqr/internal/logger"
	"github.com/secureqr/secureqr/internal/middleware"
	"github.com/secureqr/secureqr/internal/qr"
	"github.com/secureqr/secureqr/internal/repository"
	"github.com/secureqr/secureqr/internal/service"
	"github.com/secureqr/secureqr/internal/signing"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Handler holds all HTTP handlers
type Handler struct {
	db        *database.Postgres
	rdb       *database.Redis
	log       *logger.Logger
	cfg       *config.Config
	tokens    *auth.TokenService
	issuerSvc *service.IssuerService
	qrSvc     *service.SignedQRService
	cryptoSvc *service.CryptoService
}

// New creates a new Handler instance. db is nil on the memory backend and
// rdb is nil when Redis is disabled.
func New(
	db *database.Postgres,
	rdb *database.Redis,
	log *logger.Logger,
	cfg *config.Config,
	tokens *auth.TokenService,
	issuerSvc *service.IssuerService,
	qrSvc *service.SignedQRService,
	cryptoSvc *service.CryptoService,
) *Handler {
	return &Handler{
		db:        db,
		rdb:       rdb,
		log:       log.WithComponent("handler"),
		cfg:       cfg,
		tokens:    tokens,
		issuerSvc: issuerSvc,
		qrSvc:     qrSvc,
		cryptoSvc: cryptoSvc,
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}

var errEmptyBody = errors.New("request body is empty")

// readJSON decodes a single JSON object, rejecting unknown fields.
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

// readOptionalJSON is readJSON for endpoints whose body may be omitted.
func readOptionalJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := readJSON(w, r, v); err != nil && !errors.Is(err, errEmptyBody) {
		return err
	}
	return nil
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, errEmptyBody
	}
	defer r.Body.Close()
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

// writeServiceError maps domain errors onto HTTP statuses. Anything
// unrecognised is logged and reported as a 500 without detail.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, keys.ErrUnsupportedAlgorithm),
		errors.Is(err, keys.ErrKeyFormat),
		errors.Is(err, keys.ErrAlgorithmMismatch),
		errors.Is(err, signing.ErrSignatureEncoding):
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	case errors.Is(err, service.ErrIssuerNotFound):
		writeError(w, http.StatusNotFound, "ISSUER_NOT_FOUND", "Issuer not found")
	case errors.Is(err, service.ErrLeafNotFound):
		writeError(w, http.StatusNotFound, "LEAF_NOT_FOUND", "Leaf credential not found")
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
	case errors.Is(err, repository.ErrDuplicate):
		writeError(w, http.StatusConflict, "ALIAS_TAKEN", "Alias is already in use")
	case errors.Is(err, service.ErrNoRootIssuer):
		writeError(w, http.StatusConflict, "TRUST_NOT_INITIALIZED", "No root issuer has been bootstrapped")
	case errors.Is(err, envelope.ErrMalformed):
		writeError(w, http.StatusUnprocessableEntity, "MALFORMED_ENVELOPE", err.Error())
	case errors.Is(err, hybrid.ErrAuthenticationFailed):
		writeError(w, http.StatusUnprocessableEntity, "DECRYPTION_FAILED", "Envelope could not be decrypted")
	case errors.Is(err, qr.ErrNoCode):
		writeError(w, http.StatusUnprocessableEntity, "NO_QR_CODE", "No QR code found in image")
	case errors.Is(err, qr.ErrImage):
		writeError(w, http.StatusUnprocessableEntity, "INVALID_IMAGE", "Image could not be read")
	case errors.Is(err, qr.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "QR_TOO_LARGE", "Signed payload does not fit in a QR code")
	default:
		h.log.Error().Err(err).
			Str("op", op).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
	}
}

func (h *Handler) writeBodyError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "Request body is too large")
	case errors.Is(err, errEmptyBody):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Request body is required")
	default:
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
	}
}

// requireAdmin is for routes where admin rights depend on the request body.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if middleware.IsAdmin(r.Context()) {
		return true
	}
	if !h.tokens.Enabled() {
		writeError(w, http.StatusForbidden, "ADMIN_DISABLED", "Admin operations are not configured")
		return false
	}
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Admin authentication required")
	return false
}
