package model

import "time"

// Issuer is a signing authority. The earliest-created issuer is the root of
// trust unless a root key is pinned in configuration.
type Issuer struct {
	ID            string    `json:"id"`
	DisplayName   string    `json:"displayName"`
	Algorithm     string    `json:"algorithm"`
	PublicKey     string    `json:"publicKey"` // base64 SubjectPublicKeyInfo
	PrivateKeyEnc string    `json:"-"`         // sealed PKCS#8
	CreatedAt     time.Time `json:"createdAt"`
}

// TrustState is the lifecycle position of the trust chain.
type TrustState string

const (
	TrustStateUninitialized    TrustState = "UNINITIALIZED"
	TrustStateRootBootstrapped TrustState = "ROOT_BOOTSTRAPPED"
	TrustStateLeafIssued       TrustState = "LEAF_ISSUED"
)

// TrustSummary reports the resolved root and lifecycle state.
type TrustSummary struct {
	State         TrustState `json:"state"`
	RootIssuerID  string     `json:"rootIssuerId,omitempty"`
	RootPublicKey string     `json:"rootPublicKey,omitempty"`
	RootSource    string     `json:"rootSource,omitempty"` // "pinned" or "store"
	LeafCount     int        `json:"leafCount"`
}
