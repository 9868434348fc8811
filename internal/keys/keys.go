// Package keys generates asymmetric key pairs and converts them to and from
// their standard encodings (X.509 SubjectPublicKeyInfo and PKCS#8, base64 text).
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Key errors.
var (
	ErrKeyFormat            = errors.New("malformed key encoding")
	ErrAlgorithmMismatch    = errors.New("key does not match algorithm")
	ErrUnsupportedAlgorithm = errors.New("unsupported key algorithm")
)

// Algorithm identifies a key family and size.
type Algorithm string

const (
	// AlgorithmECP256 is ECDSA / ECDH on NIST P-256. Used for every issued identity.
	AlgorithmECP256 Algorithm = "EC-P256"
	// AlgorithmRSA2048 is kept for legacy signature compatibility.
	AlgorithmRSA2048 Algorithm = "RSA-2048"

	rsaBits = 2048
)

// ParseAlgorithm maps user input to an Algorithm. Empty input means EC-P256.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "EC-P256", "EC", "ECDSA", "P-256", "P256", "SECP256R1":
		return AlgorithmECP256, nil
	case "RSA-2048", "RSA":
		return AlgorithmRSA2048, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
	}
}

func (a Algorithm) String() string { return string(a) }

// KeyPair holds a generated key pair. It is never mutated after Generate.
type KeyPair struct {
	Algorithm Algorithm
	Public    crypto.PublicKey
	Private   crypto.Signer
}

// Generate creates a fresh key pair for the given algorithm.
func Generate(alg Algorithm) (*KeyPair, error) {
	switch alg {
	case AlgorithmECP256:
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("p-256 keygen: %w", err)
		}
		return &KeyPair{Algorithm: alg, Public: &priv.PublicKey, Private: priv}, nil
	case AlgorithmRSA2048:
		priv, err := rsa.GenerateKey(rand.Reader, rsaBits)
		if err != nil {
			return nil, fmt.Errorf("rsa keygen: %w", err)
		}
		return &KeyPair{Algorithm: alg, Public: &priv.PublicKey, Private: priv}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
}

// EncodedPublic returns the base64 SubjectPublicKeyInfo of the pair.
func (kp *KeyPair) EncodedPublic() (string, error) {
	return EncodePublic(kp.Public)
}

// EncodedPrivate returns the base64 PKCS#8 of the pair.
func (kp *KeyPair) EncodedPrivate() (string, error) {
	return EncodePrivate(kp.Private)
}

// EncodePublic renders a public key as base64(X.509 SubjectPublicKeyInfo DER).
func EncodePublic(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// EncodePrivate renders a private key as base64(PKCS#8 DER).
func EncodePrivate(priv crypto.PrivateKey) (string, error) {
	der, err := MarshalPrivate(priv)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// MarshalPrivate returns the PKCS#8 DER of priv.
func MarshalPrivate(priv crypto.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}
	return der, nil
}

// DecodePublic parses base64 SubjectPublicKeyInfo text and checks it belongs to alg.
func DecodePublic(text string, alg Algorithm) (crypto.PublicKey, error) {
	der, err := decodeBase64(text)
	if err != nil {
		return nil, err
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}
	if err := CheckPublic(pub, alg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyFormat, err)
	}
	return pub, nil
}

// DecodeAnyPublic parses base64 SubjectPublicKeyInfo text of any supported
// algorithm and reports which one it is.
func DecodeAnyPublic(text string) (crypto.PublicKey, Algorithm, error) {
	der, err := decodeBase64(text)
	if err != nil {
		return nil, "", err
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}
	alg, err := Detect(pub)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrKeyFormat, err)
	}
	return pub, alg, nil
}

// DecodePrivate parses base64 PKCS#8 text and checks it belongs to alg.
func DecodePrivate(text string, alg Algorithm) (crypto.Signer, error) {
	der, err := decodeBase64(text)
	if err != nil {
		return nil, err
	}
	return ParsePrivate(der, alg)
}

// ParsePrivate parses raw PKCS#8 DER and checks it belongs to alg.
func ParsePrivate(der []byte, alg Algorithm) (crypto.Signer, error) {
	priv, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}
	signer, ok := priv.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a signing key", ErrKeyFormat, priv)
	}
	if err := CheckPublic(signer.Public(), alg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyFormat, err)
	}
	return signer, nil
}

// CheckPublic reports whether pub is a key of the given algorithm.
func CheckPublic(pub crypto.PublicKey, alg Algorithm) error {
	switch alg {
	case AlgorithmECP256:
		k, ok := pub.(*ecdsa.PublicKey)
		if !ok || k == nil || k.Curve != elliptic.P256() {
			return fmt.Errorf("%w: want %s, got %s", ErrAlgorithmMismatch, alg, describe(pub))
		}
	case AlgorithmRSA2048:
		k, ok := pub.(*rsa.PublicKey)
		if !ok || k == nil || k.N == nil {
			return fmt.Errorf("%w: want %s, got %s", ErrAlgorithmMismatch, alg, describe(pub))
		}
		if k.N.BitLen() != rsaBits {
			return fmt.Errorf("%w: rsa modulus is %d bits, want %d", ErrAlgorithmMismatch, k.N.BitLen(), rsaBits)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	return nil
}

// Detect returns the Algorithm of a public key.
func Detect(pub crypto.PublicKey) (Algorithm, error) {
	if CheckPublic(pub, AlgorithmECP256) == nil {
		return AlgorithmECP256, nil
	}
	if CheckPublic(pub, AlgorithmRSA2048) == nil {
		return AlgorithmRSA2048, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, describe(pub))
}

func decodeBase64(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty key", ErrKeyFormat)
	}
	der, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}
	return der, nil
}

func describe(pub crypto.PublicKey) string {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		if k == nil || k.Curve == nil {
			return "ecdsa"
		}
		return "ecdsa " + k.Curve.Params().Name
	case *rsa.PublicKey:
		if k == nil || k.N == nil {
			return "rsa"
		}
		return fmt.Sprintf("rsa %d", k.N.BitLen())
	default:
		return fmt.Sprintf("%T", pub)
	}
}
