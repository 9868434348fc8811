package secureqr

import (
	"crypto"
	"fmt"

	"github.com/secureqr/secureqr/internal/envelope"
	"github.com/secureqr/secureqr/internal/keys"
)

// Verifier checks signed envelopes offline against one root public key.
// It is safe for concurrent use.
type Verifier struct {
	root    crypto.PublicKey
	rootKey string
}

// NewVerifier parses a base64 SubjectPublicKeyInfo root key.
func NewVerifier(rootPublicKey string) (*Verifier, error) {
	root, _, err := keys.DecodeAnyPublic(rootPublicKey)
	if err != nil {
		return nil, fmt.Errorf("secureqr: root key: %w", err)
	}
	return &Verifier{root: root, rootKey: rootPublicKey}, nil
}

// RootPublicKey returns the root key the verifier trusts.
func (v *Verifier) RootPublicKey() string { return v.rootKey }

// Verify decodes wire and checks it. A well-formed envelope that fails
// either signature check is returned with a nil error; callers decide via
// Trusted. Malformed input is an error matching envelope.ErrMalformed.
func (v *Verifier) Verify(wire []byte) (*Verification, error) {
	env, err := envelope.Decode(wire)
	if err != nil {
		return nil, err
	}
	res, err := envelope.Verify(env, v.root)
	if err != nil {
		return nil, err
	}
	return &Verification{
		Payload:       env.Payload,
		IssuerID:      env.IssuerID,
		LeafPublicKey: env.LeafPublicKey,
		PayloadValid:  res.PayloadValid,
		IssuerValid:   res.IssuerValid,
	}, nil
}
