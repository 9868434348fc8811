// Package signing signs and verifies arbitrary byte messages with SHA-256
// based schemes matched to the key algorithm: ECDSA (ASN.1 DER signatures)
// for EC keys and RSASSA-PKCS1-v1_5 for RSA keys.
//
// Messages are signed exactly as supplied. A verifier must present
// byte-identical input.
package signing

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/secureqr/secureqr/internal/keys"
)

// ErrSignatureEncoding is returned when a signature is empty or not valid base64.
// A signature that decodes but does not match is not an error.
var ErrSignatureEncoding = errors.New("malformed signature encoding")

// Sign signs msg with priv. priv must belong to alg.
func Sign(msg []byte, priv crypto.Signer, alg keys.Algorithm) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: nil private key", keys.ErrAlgorithmMismatch)
	}
	if err := keys.CheckPublic(priv.Public(), alg); err != nil {
		return nil, err
	}

	digest := sha256.Sum256(msg)

	switch k := priv.(type) {
	case *ecdsa.PrivateKey:
		sig, err := ecdsa.SignASN1(rand.Reader, k, digest[:])
		if err != nil {
			return nil, fmt.Errorf("ecdsa sign: %w", err)
		}
		return sig, nil
	case *rsa.PrivateKey:
		sig, err := rsa.SignPKCS1v15(rand.Reader, k, crypto.SHA256, digest[:])
		if err != nil {
			return nil, fmt.Errorf("rsa sign: %w", err)
		}
		return sig, nil
	default:
		// Opaque signers (HSM, KMS) receive the digest and pick their own scheme.
		sig, err := priv.Sign(rand.Reader, digest[:], crypto.SHA256)
		if err != nil {
			return nil, fmt.Errorf("sign: %w", err)
		}
		return sig, nil
	}
}

// Verify reports whether sig is a valid signature of msg under pub.
//
// It returns false with a nil error when the inputs are well formed but the
// signature does not match. An error means the inputs themselves are unusable.
func Verify(msg, sig []byte, pub crypto.PublicKey, alg keys.Algorithm) (bool, error) {
	if err := keys.CheckPublic(pub, alg); err != nil {
		return false, err
	}
	if len(sig) == 0 {
		return false, fmt.Errorf("%w: empty signature", ErrSignatureEncoding)
	}

	digest := sha256.Sum256(msg)

	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		return ecdsa.VerifyASN1(k, digest[:], sig), nil
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(k, crypto.SHA256, digest[:], sig) == nil, nil
	default:
		return false, fmt.Errorf("%w: %T", keys.ErrAlgorithmMismatch, pub)
	}
}

// SignEncoded signs msg with a base64 PKCS#8 private key and returns a base64 signature.
func SignEncoded(msg []byte, privText string, alg keys.Algorithm) (string, error) {
	priv, err := keys.DecodePrivate(privText, alg)
	if err != nil {
		return "", err
	}
	sig, err := Sign(msg, priv, alg)
	if err != nil {
		return "", err
	}
	return EncodeSignature(sig), nil
}

// VerifyEncoded verifies a base64 signature against a base64 SubjectPublicKeyInfo key.
func VerifyEncoded(msg []byte, sigText, pubText string, alg keys.Algorithm) (bool, error) {
	pub, err := keys.DecodePublic(pubText, alg)
	if err != nil {
		return false, err
	}
	sig, err := DecodeSignature(sigText)
	if err != nil {
		return false, err
	}
	return Verify(msg, sig, pub, alg)
}

// EncodeSignature renders a signature for transport.
func EncodeSignature(sig []byte) string {
	return base64.StdEncoding.EncodeToString(sig)
}

// DecodeSignature parses a base64 signature.
func DecodeSignature(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty signature", ErrSignatureEncoding)
	}
	sig, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureEncoding, err)
	}
	return sig, nil
}
