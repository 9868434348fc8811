package secureqr

import "time"

// RootInfo is the trust anchor reported by the server.
type RootInfo struct {
	IssuerID  string `json:"issuerId,omitempty"`
	PublicKey string `json:"publicKey"`
	Algorithm string `json:"algorithm"`
	Source    string `json:"source"`
}

// Issuer is the public view of an issuer.
type Issuer struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Algorithm   string    `json:"algorithm"`
	PublicKey   string    `json:"publicKey"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Leaf is the public view of an issued leaf credential.
type Leaf struct {
	ID              string    `json:"id"`
	Alias           string    `json:"alias,omitempty"`
	IssuerID        string    `json:"issuerId"`
	Algorithm       string    `json:"algorithm"`
	PublicKey       string    `json:"publicKey"`
	IssuerSignature string    `json:"issuerSignature"`
	CreatedAt       time.Time `json:"createdAt"`
}

// VerifyResult is the server's verdict on an envelope or QR image.
type VerifyResult struct {
	Decoded       string `json:"decoded,omitempty"`
	Payload       string `json:"payload"`
	IssuerID      string `json:"issuerId"`
	LeafPublicKey string `json:"leafPublicKey"`
	PayloadValid  bool   `json:"payloadValid"`
	IssuerValid   bool   `json:"issuerValid"`
	TrustedRoot   bool   `json:"trustedRoot"`
	RootIssuerID  string `json:"rootIssuerId,omitempty"`
}

// Verification is the outcome of an offline check with a Verifier.
type Verification struct {
	Payload       []byte
	IssuerID      string
	LeafPublicKey string
	PayloadValid  bool
	IssuerValid   bool
}

// Trusted reports whether the payload is intact and chains to the root.
func (v *Verification) Trusted() bool {
	return v != nil && v.PayloadValid && v.IssuerValid
}
