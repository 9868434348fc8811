package service

import (
	"context"
	"fmt"

	"github.com/secureqr/secureqr/internal/hybrid"
	"github.com/secureqr/secureqr/internal/keys"
	"github.com/secureqr/secureqr/internal/logger"
	"github.com/secureqr/secureqr/internal/metrics"
	"github.com/secureqr/secureqr/internal/model"
	"github.com/secureqr/secureqr/internal/signing"
)

// GeneratedKeyPair is a fresh, unstored key pair in text form.
type GeneratedKeyPair struct {
	Algorithm  string `json:"algorithm"`
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// CryptoService exposes the primitives over text-encoded keys, plus
// alias-addressed encryption against issued leaves.
type CryptoService struct {
	issuers *IssuerService
	metrics *metrics.Metrics
	audit   auditor
	log     *logger.Logger
}

// NewCryptoService creates a new CryptoService.
func NewCryptoService(issuers *IssuerService, m *metrics.Metrics, log *logger.Logger) *CryptoService {
	log = log.WithComponent("crypto_service")
	return &CryptoService{
		issuers: issuers,
		metrics: m,
		audit:   issuers.audit,
		log:     log,
	}
}

// GenerateKeyPair creates a key pair that is returned and not stored.
func (s *CryptoService) GenerateKeyPair(algorithm string) (out *GeneratedKeyPair, err error) {
	defer func() { s.metrics.CryptoOp("keygen", err) }()

	alg, err := keys.ParseAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	kp, err := keys.Generate(alg)
	if err != nil {
		return nil, err
	}
	pub, err := kp.EncodedPublic()
	if err != nil {
		return nil, err
	}
	priv, err := kp.EncodedPrivate()
	if err != nil {
		return nil, err
	}
	return &GeneratedKeyPair{Algorithm: alg.String(), PublicKey: pub, PrivateKey: priv}, nil
}

// Sign signs message with a base64 PKCS#8 key, or with the key of the leaf
// under alias when alias is set. A leaf signs with its own algorithm.
func (s *CryptoService) Sign(ctx context.Context, message []byte, privateKey, algorithm, alias string) (sig string, err error) {
	defer func() { s.metrics.CryptoOp("sign", err) }()

	if alias == "" {
		if privateKey == "" {
			return "", fmt.Errorf("%w: private key or alias is required", ErrInvalidInput)
		}
		alg, err := keys.ParseAlgorithm(algorithm)
		if err != nil {
			return "", err
		}
		return signing.SignEncoded(message, privateKey, alg)
	}

	leaf, err := s.issuers.GetLeafByAlias(ctx, alias)
	if err != nil {
		return "", err
	}
	kp, err := s.issuers.LeafKeyPair(ctx, leaf)
	if err != nil {
		return "", err
	}
	raw, err := signing.Sign(message, kp.Private, kp.Algorithm)
	if err != nil {
		return "", err
	}
	s.audit.record(ctx, model.AuditActionSignByAlias, model.ResourceLeaf, leaf.ID, map[string]interface{}{
		"alias": alias,
	})
	return signing.EncodeSignature(raw), nil
}

// Verify checks a base64 signature against a base64 public key, or against
// the public key of the leaf under alias when alias is set.
func (s *CryptoService) Verify(ctx context.Context, message []byte, signature, publicKey, algorithm, alias string) (ok bool, err error) {
	defer func() { s.metrics.CryptoOp("verify", err) }()

	if alias != "" {
		leaf, err := s.issuers.GetLeafByAlias(ctx, alias)
		if err != nil {
			return false, err
		}
		publicKey, algorithm = leaf.PublicKey, leaf.Algorithm
	}
	if publicKey == "" {
		return false, fmt.Errorf("%w: public key or alias is required", ErrInvalidInput)
	}
	alg, err := keys.ParseAlgorithm(algorithm)
	if err != nil {
		return false, err
	}
	return signing.VerifyEncoded(message, signature, publicKey, alg)
}

// Encrypt encrypts plaintext to recipientPublicKey, or to the leaf under
// alias when alias is set.
func (s *CryptoService) Encrypt(ctx context.Context, plaintext []byte, recipientPublicKey, alias string) (wire []byte, err error) {
	defer func() { s.metrics.CryptoOp("encrypt", err) }()

	if alias != "" {
		leaf, err := s.issuers.GetLeafByAlias(ctx, alias)
		if err != nil {
			return nil, err
		}
		recipientPublicKey = leaf.PublicKey
	}
	if recipientPublicKey == "" {
		return nil, fmt.Errorf("%w: recipient public key or alias is required", ErrInvalidInput)
	}
	return hybrid.EncryptForEncoded(plaintext, recipientPublicKey)
}

// Decrypt opens a hybrid envelope with privateKey, or with the private key
// of the leaf under alias when alias is set.
func (s *CryptoService) Decrypt(ctx context.Context, wire []byte, privateKey, alias string) (plaintext []byte, err error) {
	defer func() { s.metrics.CryptoOp("decrypt", err) }()

	if alias == "" {
		if privateKey == "" {
			return nil, fmt.Errorf("%w: private key or alias is required", ErrInvalidInput)
		}
		return hybrid.DecryptEncoded(wire, privateKey)
	}

	leaf, err := s.issuers.GetLeafByAlias(ctx, alias)
	if err != nil {
		return nil, err
	}
	env, err := hybrid.Parse(wire)
	if err != nil {
		return nil, err
	}
	kp, err := s.issuers.LeafKeyPair(ctx, leaf)
	if err != nil {
		return nil, err
	}
	plaintext, err = hybrid.DecryptWith(env, kp.Private)
	if err != nil {
		return nil, err
	}
	s.audit.record(ctx, model.AuditActionDecryptByAlias, model.ResourceLeaf, leaf.ID, map[string]interface{}{
		"alias": alias,
	})
	return plaintext, nil
}
