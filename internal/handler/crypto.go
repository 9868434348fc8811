package handler

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"unicode/utf8"
)

type keygenRequest struct {
	Algorithm string `json:"algorithm"`
}

type cryptoSignRequest struct {
	Message    string `json:"message"`
	PrivateKey string `json:"privateKey"`
	Algorithm  string `json:"algorithm"`
	Alias      string `json:"alias"`
}

type cryptoVerifyRequest struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
	PublicKey string `json:"publicKey"`
	Algorithm string `json:"algorithm"`
	Alias     string `json:"alias"`
}

type encryptRequest struct {
	Plaintext          string `json:"plaintext"`
	RecipientPublicKey string `json:"recipientPublicKey"`
	Alias              string `json:"alias"`
}

type decryptRequest struct {
	// Envelope is the hybrid envelope as a JSON object or as a string holding it.
	Envelope   json.RawMessage `json:"envelope"`
	PrivateKey string          `json:"privateKey"`
	Alias      string          `json:"alias"`
}

func (req decryptRequest) wire() ([]byte, bool) {
	raw := bytes.TrimSpace(req.Envelope)
	if len(raw) == 0 {
		return nil, false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, false
		}
		return []byte(s), true
	}
	return raw, true
}

// GenerateKeys handles POST /api/v1/crypto/keys
func (h *Handler) GenerateKeys(w http.ResponseWriter, r *http.Request) {
	var req keygenRequest
	if err := readOptionalJSON(w, r, &req); err != nil {
		h.writeBodyError(w, err)
		return
	}
	kp, err := h.cryptoSvc.GenerateKeyPair(req.Algorithm)
	if err != nil {
		h.writeServiceError(w, r, err, "keygen")
		return
	}
	writeJSON(w, http.StatusOK, kp)
}

// Sign handles POST /api/v1/crypto/sign. Signing with an issued leaf's key
// (by alias) requires an admin token.
func (h *Handler) Sign(w http.ResponseWriter, r *http.Request) {
	var req cryptoSignRequest
	if err := readJSON(w, r, &req); err != nil {
		h.writeBodyError(w, err)
		return
	}
	if (req.PrivateKey == "") == (req.Alias == "") {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "exactly one of privateKey or alias is required")
		return
	}
	if req.Alias != "" && !h.requireAdmin(w, r) {
		return
	}
	sig, err := h.cryptoSvc.Sign(r.Context(), []byte(req.Message), req.PrivateKey, req.Algorithm, req.Alias)
	if err != nil {
		h.writeServiceError(w, r, err, "sign")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"signature": sig})
}

// Verify handles POST /api/v1/crypto/verify
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req cryptoVerifyRequest
	if err := readJSON(w, r, &req); err != nil {
		h.writeBodyError(w, err)
		return
	}
	if req.Signature == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "signature is required")
		return
	}
	if (req.PublicKey == "") == (req.Alias == "") {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "exactly one of publicKey or alias is required")
		return
	}
	ok, err := h.cryptoSvc.Verify(r.Context(), []byte(req.Message), req.Signature, req.PublicKey, req.Algorithm, req.Alias)
	if err != nil {
		h.writeServiceError(w, r, err, "verify")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": ok})
}

// Encrypt handles POST /api/v1/crypto/encrypt
func (h *Handler) Encrypt(w http.ResponseWriter, r *http.Request) {
	var req encryptRequest
	if err := readJSON(w, r, &req); err != nil {
		h.writeBodyError(w, err)
		return
	}
	if (req.RecipientPublicKey == "") == (req.Alias == "") {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "exactly one of recipientPublicKey or alias is required")
		return
	}
	wire, err := h.cryptoSvc.Encrypt(r.Context(), []byte(req.Plaintext), req.RecipientPublicKey, req.Alias)
	if err != nil {
		h.writeServiceError(w, r, err, "encrypt")
		return
	}
	writeRawJSON(w, http.StatusOK, wire)
}

// Decrypt handles POST /api/v1/crypto/decrypt. Decrypting with an issued
// leaf's key (by alias) requires an admin token.
func (h *Handler) Decrypt(w http.ResponseWriter, r *http.Request) {
	var req decryptRequest
	if err := readJSON(w, r, &req); err != nil {
		h.writeBodyError(w, err)
		return
	}
	if (req.PrivateKey == "") == (req.Alias == "") {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "exactly one of privateKey or alias is required")
		return
	}
	wire, ok := req.wire()
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "envelope is required")
		return
	}
	if req.Alias != "" && !h.requireAdmin(w, r) {
		return
	}

	plaintext, err := h.cryptoSvc.Decrypt(r.Context(), wire, req.PrivateKey, req.Alias)
	if err != nil {
		h.writeServiceError(w, r, err, "decrypt")
		return
	}
	if utf8.Valid(plaintext) {
		writeJSON(w, http.StatusOK, map[string]string{"plaintext": string(plaintext)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"plaintextB64": base64.StdEncoding.EncodeToString(plaintext)})
}
