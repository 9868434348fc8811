package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/secureqr/secureqr/internal/qr"
)

type signRequest struct {
	Data  string `json:"data"`
	Alias string `json:"alias"`
}

func (req signRequest) validate() string {
	switch {
	case req.Alias == "":
		return "alias is required"
	case req.Data == "":
		return "data is required"
	}
	return ""
}

// SignedQR handles POST /api/v1/qr/signed
func (h *Handler) SignedQR(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if err := readJSON(w, r, &req); err != nil {
		h.writeBodyError(w, err)
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", msg)
		return
	}

	png, signed, err := h.qrSvc.RenderQR(r.Context(), req.Alias, []byte(req.Data))
	if err != nil {
		h.writeServiceError(w, r, err, "render_qr")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Header().Set("X-Signed-Record-ID", signed.RecordID)
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// SignedEnvelope handles POST /api/v1/qr/signed/envelope
func (h *Handler) SignedEnvelope(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if err := readJSON(w, r, &req); err != nil {
		h.writeBodyError(w, err)
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", msg)
		return
	}

	signed, err := h.qrSvc.SignEnvelope(r.Context(), req.Alias, []byte(req.Data))
	if err != nil {
		h.writeServiceError(w, r, err, "sign_envelope")
		return
	}
	w.Header().Set("X-Signed-Record-ID", signed.RecordID)
	writeRawJSON(w, http.StatusOK, signed.Wire)
}

// VerifyQR handles POST /api/v1/qr/verify with a multipart "file" upload.
func (h *Handler) VerifyQR(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, qr.MaxImageBytes+maxBodyBytes)
	if err := r.ParseMultipartForm(qr.MaxImageBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "Image is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Expected a multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Form field \"file\" is required")
		return
	}
	defer file.Close()

	res, err := h.qrSvc.VerifyImage(r.Context(), file)
	if err != nil {
		h.writeServiceError(w, r, err, "verify_qr")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// VerifyEnvelope handles POST /api/v1/envelopes/verify with the envelope
// JSON as the request body.
func (h *Handler) VerifyEnvelope(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		h.writeBodyError(w, err)
		return
	}

	res, err := h.qrSvc.Verify(r.Context(), body)
	if err != nil {
		h.writeServiceError(w, r, err, "verify_envelope")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// LeafRecords handles GET /api/v1/leaves/{alias}/records
func (h *Handler) LeafRecords(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	records, err := h.qrSvc.Records(r.Context(), r.PathValue("alias"), limit)
	if err != nil {
		h.writeServiceError(w, r, err, "list_records")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}
