package model

import "time"

// LeafCredential is an identity issued under an Issuer. IssuerSignature
// covers the UTF-8 bytes of PublicKey exactly as stored.
type LeafCredential struct {
	ID              string    `json:"id"`
	Alias           *string   `json:"alias,omitempty"`
	IssuerID        string    `json:"issuerId"`
	Algorithm       string    `json:"algorithm"`
	PublicKey       string    `json:"publicKey"`
	PrivateKeyEnc   string    `json:"-"`
	IssuerSignature string    `json:"issuerSignature"`
	CreatedAt       time.Time `json:"createdAt"`
}

// AliasOrEmpty returns the alias or "".
func (l *LeafCredential) AliasOrEmpty() string {
	if l.Alias == nil {
		return ""
	}
	return *l.Alias
}

// SignedQRRecord is written every time a signed QR code is rendered.
type SignedQRRecord struct {
	ID        string    `json:"id"`
	LeafID    string    `json:"leafId"`
	Payload   string    `json:"payload"`
	Signature string    `json:"signature"`
	CreatedAt time.Time `json:"createdAt"`
}
