package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/secureqr/secureqr/internal/envelope"
	"github.com/secureqr/secureqr/internal/keys"
	"github.com/secureqr/secureqr/internal/logger"
	"github.com/secureqr/secureqr/internal/metrics"
	"github.com/secureqr/secureqr/internal/model"
	"github.com/secureqr/secureqr/internal/qr"
	"github.com/secureqr/secureqr/internal/repository"
	"github.com/secureqr/secureqr/internal/signing"
)

// SignedPayload is a freshly signed envelope and its wire form.
type SignedPayload struct {
	Envelope *envelope.Signed
	Wire     []byte
	Leaf     *model.LeafCredential
	RecordID string
}

// VerifyResult is the outcome of checking an envelope against the trust anchor.
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

// SignedQRService signs payloads with leaf credentials, renders them as QR
// codes, and verifies envelopes and QR images against the trust anchor.
type SignedQRService struct {
	issuers *IssuerService
	records repository.RecordStore
	codec   *qr.Codec
	metrics *metrics.Metrics
	audit   auditor
	log     *logger.Logger
}

// NewSignedQRService creates a new SignedQRService. audit and m may be nil.
func NewSignedQRService(
	issuers *IssuerService,
	records repository.RecordStore,
	audit repository.AuditStore,
	codec *qr.Codec,
	m *metrics.Metrics,
	log *logger.Logger,
) *SignedQRService {
	log = log.WithComponent("signed_qr_service")
	return &SignedQRService{
		issuers: issuers,
		records: records,
		codec:   codec,
		metrics: m,
		audit:   auditor{store: audit, log: log},
		log:     log,
	}
}

// Sign produces a signed envelope for data with the leaf registered under
// alias and records it.
func (s *SignedQRService) Sign(ctx context.Context, alias string, data []byte) (*SignedPayload, error) {
	signed, err := s.produce(ctx, alias, data)
	if err != nil {
		return nil, err
	}
	if err := s.record(ctx, signed, data); err != nil {
		return nil, err
	}
	return signed, nil
}

// SignEnvelope is Sign for callers that want the envelope JSON.
func (s *SignedQRService) SignEnvelope(ctx context.Context, alias string, data []byte) (*SignedPayload, error) {
	signed, err := s.Sign(ctx, alias, data)
	if err != nil {
		return nil, err
	}
	s.metrics.PayloadSigned("envelope")
	return signed, nil
}

// RenderQR signs data and renders the envelope as a QR PNG. Nothing is
// recorded unless the render succeeds; oversized envelopes fail with
// qr.ErrTooLarge.
func (s *SignedQRService) RenderQR(ctx context.Context, alias string, data []byte) ([]byte, *SignedPayload, error) {
	signed, err := s.produce(ctx, alias, data)
	if err != nil {
		return nil, nil, err
	}
	png, err := s.codec.EncodePNG(string(signed.Wire))
	if err != nil {
		return nil, nil, err
	}
	if err := s.record(ctx, signed, data); err != nil {
		return nil, nil, err
	}
	s.metrics.PayloadSigned("png")
	return png, signed, nil
}

func (s *SignedQRService) produce(ctx context.Context, alias string, data []byte) (*SignedPayload, error) {
	leaf, err := s.issuers.GetLeafByAlias(ctx, alias)
	if err != nil {
		return nil, err
	}
	kp, err := s.issuers.LeafKeyPair(ctx, leaf)
	if err != nil {
		return nil, err
	}

	env, err := envelope.Produce(data, envelope.Leaf{
		Signer:          kp.Private,
		Algorithm:       kp.Algorithm,
		PublicKey:       leaf.PublicKey,
		IssuerID:        leaf.IssuerID,
		IssuerSignature: leaf.IssuerSignature,
	})
	if err != nil {
		return nil, err
	}
	wire, err := envelope.Encode(env)
	if err != nil {
		return nil, err
	}
	return &SignedPayload{Envelope: env, Wire: wire, Leaf: leaf}, nil
}

func (s *SignedQRService) record(ctx context.Context, signed *SignedPayload, data []byte) error {
	rec := &model.SignedQRRecord{
		ID:        generateID("sqr"),
		LeafID:    signed.Leaf.ID,
		Payload:   recordPayload(data),
		Signature: signing.EncodeSignature(signed.Envelope.LeafSignature),
		CreatedAt: s.issuers.now(),
	}
	if err := s.records.Create(ctx, rec); err != nil {
		return fmt.Errorf("failed to record signed payload: %w", err)
	}
	s.audit.record(ctx, model.AuditActionQRSign, model.ResourceLeaf, signed.Leaf.ID, map[string]interface{}{
		"record_id": rec.ID,
		"alias":     signed.Leaf.AliasOrEmpty(),
	})
	signed.RecordID = rec.ID
	return nil
}

// Verify checks an envelope against the trust anchor. Malformed envelopes
// return an error matching envelope.ErrMalformed.
func (s *SignedQRService) Verify(ctx context.Context, wire []byte) (*VerifyResult, error) {
	env, err := envelope.Decode(wire)
	if err != nil {
		s.metrics.Verified("malformed")
		return nil, err
	}
	root, info, err := s.issuers.TrustedRoot(ctx)
	if err != nil {
		return nil, err
	}
	res, err := envelope.Verify(env, root)
	if err != nil {
		if errors.Is(err, envelope.ErrMalformed) || errors.Is(err, keys.ErrKeyFormat) {
			s.metrics.Verified("malformed")
		}
		return nil, err
	}

	outcome := "untrusted"
	if res.Trusted() {
		outcome = "trusted"
	}
	s.metrics.Verified(outcome)
	s.log.Debug().Str("issuer_id", env.IssuerID).Bool("payload_valid", res.PayloadValid).
		Bool("issuer_valid", res.IssuerValid).Msg("envelope verified")

	return &VerifyResult{
		Payload:       string(env.Payload),
		IssuerID:      env.IssuerID,
		LeafPublicKey: env.LeafPublicKey,
		PayloadValid:  res.PayloadValid,
		IssuerValid:   res.IssuerValid,
		TrustedRoot:   res.Trusted(),
		RootIssuerID:  info.IssuerID,
	}, nil
}

// VerifyImage reads a QR code from an image and verifies its envelope.
func (s *SignedQRService) VerifyImage(ctx context.Context, r io.Reader) (*VerifyResult, error) {
	text, err := qr.DecodeReader(r)
	if err != nil {
		return nil, err
	}
	res, err := s.Verify(ctx, []byte(text))
	if err != nil {
		return nil, err
	}
	res.Decoded = text
	return res, nil
}

// Records lists the newest signed payloads of the leaf under alias.
func (s *SignedQRService) Records(ctx context.Context, alias string, limit int) ([]*model.SignedQRRecord, error) {
	leaf, err := s.issuers.GetLeafByAlias(ctx, alias)
	if err != nil {
		return nil, err
	}
	return s.records.ListByLeaf(ctx, leaf.ID, limit)
}

// recordPayload keeps text payloads readable and stores anything else as
// prefixed base64 so it fits a text column.
func recordPayload(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return "base64:" + base64.StdEncoding.EncodeToString(data)
}
