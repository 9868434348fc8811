package model

import "time"

// AuditLog represents an audit log entry
type AuditLog struct {
	ID           string                 `json:"id"`
	Actor        *string                `json:"actor,omitempty"`
	Action       string                 `json:"action"`
	ResourceType *string                `json:"resourceType,omitempty"`
	ResourceID   *string                `json:"resourceId,omitempty"`
	IPAddress    *string                `json:"ipAddress,omitempty"`
	UserAgent    *string                `json:"userAgent,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
}

// Audit action constants
const (
	AuditActionIssuerBootstrap = "issuer.bootstrap"
	AuditActionLeafIssue       = "leaf.issue"
	AuditActionQRSign          = "qr.sign"
	AuditActionDecryptByAlias  = "crypto.decrypt_alias"
	AuditActionSignByAlias     = "crypto.sign_alias"
)

// Audit resource types
const (
	ResourceIssuer = "issuer"
	ResourceLeaf   = "leaf"
)
