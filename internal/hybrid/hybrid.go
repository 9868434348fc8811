// Package hybrid encrypts messages to a P-256 public key.
//
// Each encryption generates a fresh ephemeral P-256 key pair, derives
// AES-256 key = SHA-256(ECDH(ephemeral, recipient)), and seals the plaintext
// with AES-256-GCM under a random 96-bit nonce. The ephemeral private key is
// dropped as soon as the shared secret is computed, so a later compromise of
// the recipient's long-term key does not expose the ephemeral side.
//
// The wire format is a versioned JSON object:
//
//	{"version":1,"alg":"ECDH-ES+A256GCM","ephemeralPub":b64,"iv":b64,"cipher":b64}
//
// where ephemeralPub is an X.509 SubjectPublicKeyInfo and cipher carries the
// ciphertext followed by the 16-byte GCM tag.
package hybrid

import (
	"bytes"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/secureqr/secureqr/internal/keys"
)

const (
	// Version is the only wire version this package reads or writes.
	Version = 1
	// AlgName identifies the construction on the wire.
	AlgName = "ECDH-ES+A256GCM"

	// NonceSize is the GCM nonce length (96 bits).
	NonceSize = 12
	// TagSize is the GCM authentication tag length (128 bits).
	TagSize = 16
	// KeySize is the derived AES-256 key length.
	KeySize = 32
)

// ErrAuthenticationFailed is returned for any envelope that cannot be opened:
// tag mismatch, wrong recipient key, or a structurally malformed envelope.
var ErrAuthenticationFailed = errors.New("hybrid envelope authentication failed")

// Envelope is the single-use output of EncryptFor.
type Envelope struct {
	EphemeralPublicKey []byte // X.509 SubjectPublicKeyInfo DER
	IV                 []byte
	Ciphertext         []byte // ciphertext || tag
}

// EncryptFor encrypts plaintext to recipient, which must be a P-256 key
// (*ecdsa.PublicKey or *ecdh.PublicKey).
func EncryptFor(plaintext []byte, recipient crypto.PublicKey) (*Envelope, error) {
	recipientPub, err := toECDHPublic(recipient)
	if err != nil {
		return nil, err
	}

	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	ephemeralDER, err := x509.MarshalPKIXPublicKey(ephemeral.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("failed to encode ephemeral key: %w", err)
	}

	secret, err := ephemeral.ECDH(recipientPub)
	if err != nil {
		return nil, fmt.Errorf("failed to compute shared secret: %w", err)
	}
	key := deriveKey(secret)
	defer zeroBytes(key)
	zeroBytes(secret)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return &Envelope{
		EphemeralPublicKey: ephemeralDER,
		IV:                 iv,
		Ciphertext:         gcm.Seal(nil, iv, plaintext, nil),
	}, nil
}

// DecryptWith opens env with the recipient's private key
// (*ecdsa.PrivateKey or *ecdh.PrivateKey on P-256).
func DecryptWith(env *Envelope, recipient crypto.PrivateKey) ([]byte, error) {
	recipientPriv, err := toECDHPrivate(recipient)
	if err != nil {
		return nil, err
	}
	if err := env.validate(); err != nil {
		return nil, err
	}

	ephemeralPub, err := parseEphemeral(env.EphemeralPublicKey)
	if err != nil {
		return nil, err
	}

	secret, err := recipientPriv.ECDH(ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	key := deriveKey(secret)
	defer zeroBytes(key)
	zeroBytes(secret)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, env.IV, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// EncryptForEncoded encrypts to a base64 SubjectPublicKeyInfo recipient key and
// returns the JSON wire form.
func EncryptForEncoded(plaintext []byte, recipientPubText string) ([]byte, error) {
	pub, err := keys.DecodePublic(recipientPubText, keys.AlgorithmECP256)
	if err != nil {
		return nil, err
	}
	env, err := EncryptFor(plaintext, pub)
	if err != nil {
		return nil, err
	}
	return env.MarshalJSON()
}

// DecryptEncoded opens a JSON wire envelope with a base64 PKCS#8 private key.
func DecryptEncoded(wire []byte, recipientPrivText string) ([]byte, error) {
	priv, err := keys.DecodePrivate(recipientPrivText, keys.AlgorithmECP256)
	if err != nil {
		return nil, err
	}
	env, err := Parse(wire)
	if err != nil {
		return nil, err
	}
	return DecryptWith(env, priv)
}

type wireEnvelope struct {
	Version      int    `json:"version"`
	Alg          string `json:"alg"`
	EphemeralPub string `json:"ephemeralPub"`
	IV           string `json:"iv"`
	Cipher       string `json:"cipher"`
}

// MarshalJSON renders the versioned wire form.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEnvelope{
		Version:      Version,
		Alg:          AlgName,
		EphemeralPub: base64.StdEncoding.EncodeToString(e.EphemeralPublicKey),
		IV:           base64.StdEncoding.EncodeToString(e.IV),
		Cipher:       base64.StdEncoding.EncodeToString(e.Ciphertext),
	})
}

// UnmarshalJSON parses and validates the versioned wire form.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*e = *parsed
	return nil
}

// Parse decodes the wire form. Every structural check runs here, before any
// key agreement; failures are reported as ErrAuthenticationFailed.
func Parse(data []byte) (*Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w wireEnvelope
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: invalid envelope json: %v", ErrAuthenticationFailed, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after envelope", ErrAuthenticationFailed)
	}
	if w.Version != Version {
		return nil, fmt.Errorf("%w: unsupported envelope version %d", ErrAuthenticationFailed, w.Version)
	}
	if w.Alg != AlgName {
		return nil, fmt.Errorf("%w: unsupported envelope alg %q", ErrAuthenticationFailed, w.Alg)
	}

	env := &Envelope{}
	var err error
	if env.EphemeralPublicKey, err = decodeField("ephemeralPub", w.EphemeralPub); err != nil {
		return nil, err
	}
	if env.IV, err = decodeField("iv", w.IV); err != nil {
		return nil, err
	}
	if env.Ciphertext, err = decodeField("cipher", w.Cipher); err != nil {
		return nil, err
	}
	if err := env.validate(); err != nil {
		return nil, err
	}
	return env, nil
}

func (e *Envelope) validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil envelope", ErrAuthenticationFailed)
	}
	if len(e.IV) != NonceSize {
		return fmt.Errorf("%w: iv must be %d bytes, got %d", ErrAuthenticationFailed, NonceSize, len(e.IV))
	}
	if len(e.Ciphertext) < TagSize {
		return fmt.Errorf("%w: ciphertext shorter than tag", ErrAuthenticationFailed)
	}
	if len(e.EphemeralPublicKey) == 0 {
		return fmt.Errorf("%w: missing ephemeral key", ErrAuthenticationFailed)
	}
	return nil
}

func decodeField(name, value string) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrAuthenticationFailed, name)
	}
	b, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not base64", ErrAuthenticationFailed, name)
	}
	return b, nil
}

func parseEphemeral(der []byte) (*ecdh.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: ephemeral key: %v", ErrAuthenticationFailed, err)
	}
	ecdhPub, err := toECDHPublic(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: ephemeral key: %v", ErrAuthenticationFailed, err)
	}
	return ecdhPub, nil
}

func toECDHPublic(pub crypto.PublicKey) (*ecdh.PublicKey, error) {
	switch k := pub.(type) {
	case *ecdh.PublicKey:
		if k == nil || k.Curve() != ecdh.P256() {
			return nil, fmt.Errorf("%w: recipient key is not P-256", keys.ErrAlgorithmMismatch)
		}
		return k, nil
	case *ecdsa.PublicKey:
		if err := keys.CheckPublic(k, keys.AlgorithmECP256); err != nil {
			return nil, err
		}
		out, err := k.ECDH()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", keys.ErrKeyFormat, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: recipient key %T cannot do ECDH", keys.ErrAlgorithmMismatch, pub)
	}
}

func toECDHPrivate(priv crypto.PrivateKey) (*ecdh.PrivateKey, error) {
	switch k := priv.(type) {
	case *ecdh.PrivateKey:
		if k == nil || k.Curve() != ecdh.P256() {
			return nil, fmt.Errorf("%w: recipient key is not P-256", keys.ErrAlgorithmMismatch)
		}
		return k, nil
	case *ecdsa.PrivateKey:
		if k == nil {
			return nil, fmt.Errorf("%w: nil recipient key", keys.ErrAlgorithmMismatch)
		}
		if err := keys.CheckPublic(&k.PublicKey, keys.AlgorithmECP256); err != nil {
			return nil, err
		}
		out, err := k.ECDH()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", keys.ErrKeyFormat, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: recipient key %T cannot do ECDH", keys.ErrAlgorithmMismatch, priv)
	}
}

func deriveKey(secret []byte) []byte {
	sum := sha256.Sum256(secret)
	return sum[:]
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return gcm, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
