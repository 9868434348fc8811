// Package envelope produces and verifies signed payloads that carry their own
// proof of provenance: the leaf signature over the payload, the leaf public
// key, and the issuer's signature over that key. A verifier needs nothing but
// the trusted root public key.
package envelope

import (
	"bytes"
	"crypto"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/secureqr/secureqr/internal/keys"
	"github.com/secureqr/secureqr/internal/signing"
)

// Version is the wire version written by Encode and required by Decode.
const Version = 1

// ErrMalformed is returned for envelopes that cannot be decoded or are
// missing proof material. Verification never proceeds on such input.
var ErrMalformed = errors.New("malformed signed envelope")

// Signed is a decoded signed envelope.
type Signed struct {
	Version         int
	Algorithm       keys.Algorithm
	Payload         []byte
	LeafSignature   []byte
	LeafPublicKey   string // base64 SubjectPublicKeyInfo, the exact bytes the issuer signed
	IssuerID        string
	IssuerSignature []byte
}

// Leaf is the signing material Produce needs. The signer is used for one
// call and is not retained.
type Leaf struct {
	Signer          crypto.Signer
	Algorithm       keys.Algorithm
	PublicKey       string
	IssuerID        string
	IssuerSignature string // base64
}

// Result is the outcome of Verify. Both checks are always evaluated.
type Result struct {
	PayloadValid bool `json:"payloadValid"`
	IssuerValid  bool `json:"issuerValid"`
}

// Trusted reports whether the envelope chains to the trusted root and the
// payload is intact.
func (r Result) Trusted() bool { return r.PayloadValid && r.IssuerValid }

// Produce signs payload with the leaf and bundles the provenance proof.
func Produce(payload []byte, leaf Leaf) (*Signed, error) {
	if leaf.Signer == nil {
		return nil, fmt.Errorf("%w: leaf has no private key", ErrMalformed)
	}
	if leaf.PublicKey == "" || leaf.IssuerID == "" {
		return nil, fmt.Errorf("%w: leaf is missing public key or issuer id", ErrMalformed)
	}
	alg := leaf.Algorithm
	if alg == "" {
		alg = keys.AlgorithmECP256
	}

	issuerSig, err := signing.DecodeSignature(leaf.IssuerSignature)
	if err != nil {
		return nil, fmt.Errorf("%w: issuer signature: %v", ErrMalformed, err)
	}

	sig, err := signing.Sign(payload, leaf.Signer, alg)
	if err != nil {
		return nil, fmt.Errorf("sign payload: %w", err)
	}

	return &Signed{
		Version:         Version,
		Algorithm:       alg,
		Payload:         append([]byte(nil), payload...),
		LeafSignature:   sig,
		LeafPublicKey:   leaf.PublicKey,
		IssuerID:        leaf.IssuerID,
		IssuerSignature: issuerSig,
	}, nil
}

// Verify checks the payload signature under the embedded leaf key and the
// issuer signature over that key under trustedRoot.
//
// A mismatch on either check is reported in Result. Unusable key material
// (an undecodable leaf key, a root of the wrong kind) is an error.
func Verify(env *Signed, trustedRoot crypto.PublicKey) (Result, error) {
	if env == nil {
		return Result{}, fmt.Errorf("%w: nil envelope", ErrMalformed)
	}
	if err := env.validate(); err != nil {
		return Result{}, err
	}
	rootAlg, err := keys.Detect(trustedRoot)
	if err != nil {
		return Result{}, fmt.Errorf("trusted root: %w", err)
	}
	leafPub, err := keys.DecodePublic(env.LeafPublicKey, env.Algorithm)
	if err != nil {
		return Result{}, fmt.Errorf("%w: leaf public key: %w", ErrMalformed, err)
	}

	var res Result
	res.PayloadValid, err = signing.Verify(env.Payload, env.LeafSignature, leafPub, env.Algorithm)
	if err != nil {
		return Result{}, fmt.Errorf("verify payload: %w", err)
	}
	res.IssuerValid, err = signing.Verify([]byte(env.LeafPublicKey), env.IssuerSignature, trustedRoot, rootAlg)
	if err != nil {
		return Result{}, fmt.Errorf("verify issuer: %w", err)
	}
	return res, nil
}

// VerifyEncoded decodes wire and verifies it against a base64 root key.
func VerifyEncoded(wire []byte, rootPubText string) (*Signed, Result, error) {
	env, err := Decode(wire)
	if err != nil {
		return nil, Result{}, err
	}
	root, _, err := keys.DecodeAnyPublic(rootPubText)
	if err != nil {
		return env, Result{}, err
	}
	res, err := Verify(env, root)
	return env, res, err
}

func (s *Signed) validate() error {
	switch {
	case s.Version != Version:
		return fmt.Errorf("%w: unsupported version %d", ErrMalformed, s.Version)
	case s.Algorithm != keys.AlgorithmECP256 && s.Algorithm != keys.AlgorithmRSA2048:
		return fmt.Errorf("%w: unsupported alg %q", ErrMalformed, s.Algorithm)
	case len(s.LeafSignature) == 0:
		return fmt.Errorf("%w: missing signature", ErrMalformed)
	case s.LeafPublicKey == "":
		return fmt.Errorf("%w: missing pub", ErrMalformed)
	case s.IssuerID == "":
		return fmt.Errorf("%w: missing issuerId", ErrMalformed)
	case len(s.IssuerSignature) == 0:
		return fmt.Errorf("%w: missing issuerSignature", ErrMalformed)
	}
	return nil
}

type wireSigned struct {
	V               int     `json:"v"`
	Alg             string  `json:"alg"`
	Payload         *string `json:"payload,omitempty"`
	PayloadB64      *string `json:"payloadB64,omitempty"`
	Signature       string  `json:"signature"`
	Pub             string  `json:"pub"`
	IssuerID        string  `json:"issuerId"`
	IssuerSignature string  `json:"issuerSignature"`
}

// Encode renders the envelope as compact JSON. UTF-8 payloads travel as text,
// anything else as base64 under payloadB64.
func Encode(s *Signed) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrMalformed)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	w := wireSigned{
		V:               s.Version,
		Alg:             s.Algorithm.String(),
		Signature:       base64.StdEncoding.EncodeToString(s.LeafSignature),
		Pub:             s.LeafPublicKey,
		IssuerID:        s.IssuerID,
		IssuerSignature: base64.StdEncoding.EncodeToString(s.IssuerSignature),
	}
	if utf8.Valid(s.Payload) {
		text := string(s.Payload)
		w.Payload = &text
	} else {
		b64 := base64.StdEncoding.EncodeToString(s.Payload)
		w.PayloadB64 = &b64
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(w); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode parses and validates the wire form. Unknown fields, a wrong version,
// missing fields and bad base64 are all rejected with ErrMalformed.
func Decode(data []byte) (*Signed, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w wireSigned
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformed)
	}

	s := &Signed{
		Version:   w.V,
		Algorithm: keys.Algorithm(w.Alg),
		IssuerID:  w.IssuerID,
	}

	switch {
	case w.Payload != nil && w.PayloadB64 != nil:
		return nil, fmt.Errorf("%w: both payload and payloadB64 set", ErrMalformed)
	case w.Payload != nil:
		s.Payload = []byte(*w.Payload)
	case w.PayloadB64 != nil:
		p, err := base64.StdEncoding.DecodeString(*w.PayloadB64)
		if err != nil {
			return nil, fmt.Errorf("%w: payloadB64 is not base64", ErrMalformed)
		}
		s.Payload = p
	default:
		return nil, fmt.Errorf("%w: missing payload", ErrMalformed)
	}

	var err error
	if s.LeafSignature, err = decodeB64("signature", w.Signature); err != nil {
		return nil, err
	}
	if s.IssuerSignature, err = decodeB64("issuerSignature", w.IssuerSignature); err != nil {
		return nil, err
	}
	if _, err := base64.StdEncoding.DecodeString(w.Pub); err != nil {
		return nil, fmt.Errorf("%w: pub is not base64", ErrMalformed)
	}
	s.LeafPublicKey = w.Pub

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func decodeB64(field, value string) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformed, field)
	}
	b, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not base64", ErrMalformed, field)
	}
	return b, nil
}
