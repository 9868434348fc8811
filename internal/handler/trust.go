package handler

import (
	"net/http"
)

type bootstrapRequest struct {
	DisplayName string `json:"displayName"`
	IssuerID    string `json:"issuerId"`
}

type issueLeafRequest struct {
	Alias string `json:"alias"`
}

// TrustRoot handles GET /api/v1/trust/root
func (h *Handler) TrustRoot(w http.ResponseWriter, r *http.Request) {
	info, err := h.issuerSvc.ResolveRoot(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "resolve_root")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// TrustState handles GET /api/v1/trust/state
func (h *Handler) TrustState(w http.ResponseWriter, r *http.Request) {
	state, err := h.issuerSvc.State(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "trust_state")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// BootstrapIssuer handles POST /api/v1/issuers/bootstrap
func (h *Handler) BootstrapIssuer(w http.ResponseWriter, r *http.Request) {
	var req bootstrapRequest
	if err := readOptionalJSON(w, r, &req); err != nil {
		h.writeBodyError(w, err)
		return
	}

	issuer, err := h.issuerSvc.BootstrapRoot(r.Context(), req.DisplayName, req.IssuerID)
	if err != nil {
		h.writeServiceError(w, r, err, "bootstrap_root")
		return
	}
	writeJSON(w, http.StatusOK, issuer)
}

// GetIssuer handles GET /api/v1/issuers/{id}
func (h *Handler) GetIssuer(w http.ResponseWriter, r *http.Request) {
	issuer, err := h.issuerSvc.GetIssuer(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err, "get_issuer")
		return
	}
	writeJSON(w, http.StatusOK, issuer)
}

// IssueLeaf handles POST /api/v1/issuers/{id}/leaves
func (h *Handler) IssueLeaf(w http.ResponseWriter, r *http.Request) {
	var req issueLeafRequest
	if err := readOptionalJSON(w, r, &req); err != nil {
		h.writeBodyError(w, err)
		return
	}

	leaf, err := h.issuerSvc.IssueLeaf(r.Context(), r.PathValue("id"), req.Alias)
	if err != nil {
		h.writeServiceError(w, r, err, "issue_leaf")
		return
	}
	writeJSON(w, http.StatusCreated, leaf)
}

// ListLeaves handles GET /api/v1/issuers/{id}/leaves
func (h *Handler) ListLeaves(w http.ResponseWriter, r *http.Request) {
	leaves, err := h.issuerSvc.ListLeaves(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err, "list_leaves")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"leaves": leaves,
		"count":  len(leaves),
	})
}

// GetLeaf handles GET /api/v1/leaves/{alias}
func (h *Handler) GetLeaf(w http.ResponseWriter, r *http.Request) {
	leaf, err := h.issuerSvc.GetLeafByAlias(r.Context(), r.PathValue("alias"))
	if err != nil {
		h.writeServiceError(w, r, err, "get_leaf")
		return
	}
	writeJSON(w, http.StatusOK, leaf)
}
