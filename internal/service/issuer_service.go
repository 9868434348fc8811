package service

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/secureqr/secureqr/internal/config"
	"github.com/secureqr/secureqr/internal/keyprotect"
	"github.com/secureqr/secureqr/internal/keys"
	"github.com/secureqr/secureqr/internal/logger"
	"github.com/secureqr/secureqr/internal/metrics"
	"github.com/secureqr/secureqr/internal/model"
	"github.com/secureqr/secureqr/internal/repository"
	"github.com/secureqr/secureqr/internal/signing"
)

// Root sources reported by ResolveRoot.
const (
	RootSourcePinned = "pinned"
	RootSourceStore  = "store"
)

// RootInfo describes the resolved trust anchor.
type RootInfo struct {
	IssuerID  string         `json:"issuerId,omitempty"`
	PublicKey string         `json:"publicKey"`
	Algorithm keys.Algorithm `json:"algorithm"`
	Source    string         `json:"source"`
}

// IssuerService owns the root-and-leaf trust chain: it bootstraps the root
// issuer, issues leaf credentials under an issuer, and resolves the trust
// anchor. Private keys are unsealed per call and never cached.
type IssuerService struct {
	issuers   repository.IssuerStore
	leaves    repository.LeafStore
	protector keyprotect.Protector
	trust     config.TrustConfig
	metrics   *metrics.Metrics
	audit     auditor
	log       *logger.Logger
	now       func() time.Time
}

// NewIssuerService creates a new IssuerService. audit and m may be nil.
func NewIssuerService(
	issuers repository.IssuerStore,
	leaves repository.LeafStore,
	audit repository.AuditStore,
	protector keyprotect.Protector,
	trust config.TrustConfig,
	m *metrics.Metrics,
	log *logger.Logger,
) *IssuerService {
	log = log.WithComponent("issuer_service")
	return &IssuerService{
		issuers:   issuers,
		leaves:    leaves,
		protector: protector,
		trust:     trust,
		metrics:   m,
		audit:     auditor{store: audit, log: log},
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// BootstrapRoot creates the root issuer once. Repeated and concurrent calls
// return the stored record; only the first caller's key pair is kept.
// Empty arguments fall back to the configured defaults.
func (s *IssuerService) BootstrapRoot(ctx context.Context, displayName, issuerID string) (*model.Issuer, error) {
	if issuerID == "" {
		issuerID = s.trust.RootIssuerID
	}
	if displayName == "" {
		displayName = s.trust.RootDisplayName
	}
	if err := ValidateIssuerID(issuerID); err != nil {
		return nil, err
	}
	if err := ValidateDisplayName(displayName); err != nil {
		return nil, err
	}

	existing, err := s.issuers.Get(ctx, issuerID)
	if err == nil {
		s.checkPin(existing)
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up issuer: %w", err)
	}

	kp, err := keys.Generate(keys.AlgorithmECP256)
	if err != nil {
		return nil, err
	}
	pubText, err := kp.EncodedPublic()
	if err != nil {
		return nil, err
	}
	sealed, err := s.seal(kp.Private)
	if err != nil {
		return nil, err
	}

	candidate := &model.Issuer{
		ID:            issuerID,
		DisplayName:   displayName,
		Algorithm:     kp.Algorithm.String(),
		PublicKey:     pubText,
		PrivateKeyEnc: sealed,
		CreatedAt:     s.now(),
	}
	stored, err := s.issuers.PutIfAbsent(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("failed to store issuer: %w", err)
	}

	if stored.PublicKey == pubText {
		s.metrics.RootBootstrapped()
		s.log.Info().Str("issuer_id", stored.ID).Str("display_name", stored.DisplayName).Msg("root issuer bootstrapped")
		s.audit.record(ctx, model.AuditActionIssuerBootstrap, model.ResourceIssuer, stored.ID, map[string]interface{}{
			"algorithm": stored.Algorithm,
		})
	} else {
		s.log.Debug().Str("issuer_id", stored.ID).Msg("bootstrap raced, keeping stored issuer")
	}
	s.checkPin(stored)
	return stored, nil
}

// checkPin warns when the configured root pin disagrees with the stored root.
func (s *IssuerService) checkPin(is *model.Issuer) {
	pinned := strings.TrimSpace(s.trust.RootPublicKey)
	if pinned == "" || is.ID != s.trust.RootIssuerID || is.PublicKey == pinned {
		return
	}
	s.log.Warn().Str("issuer_id", is.ID).Msg("stored root issuer key does not match pinned root key; pinned key wins")
}

// IssueLeaf creates a leaf credential under issuerID, signed by that issuer.
// alias is optional; a taken alias fails with ErrAliasTaken.
func (s *IssuerService) IssueLeaf(ctx context.Context, issuerID, alias string) (*model.LeafCredential, error) {
	if alias != "" {
		if err := ValidateAlias(alias); err != nil {
			return nil, err
		}
	}

	issuer, err := s.GetIssuer(ctx, issuerID)
	if err != nil {
		return nil, err
	}

	if alias != "" {
		if _, err := s.leaves.GetByAlias(ctx, alias); err == nil {
			return nil, fmt.Errorf("%w: %q", ErrAliasTaken, alias)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to look up alias: %w", err)
		}
	}

	issuerAlg, err := keys.ParseAlgorithm(issuer.Algorithm)
	if err != nil {
		return nil, err
	}
	issuerKey, err := s.unseal(issuer.PrivateKeyEnc, issuerAlg)
	if err != nil {
		return nil, fmt.Errorf("issuer %s: %w", issuer.ID, err)
	}

	leafKP, err := keys.Generate(keys.AlgorithmECP256)
	if err != nil {
		return nil, err
	}
	leafPub, err := leafKP.EncodedPublic()
	if err != nil {
		return nil, err
	}
	sig, err := signing.Sign([]byte(leafPub), issuerKey, issuerAlg)
	if err != nil {
		return nil, fmt.Errorf("failed to sign leaf key: %w", err)
	}
	sealed, err := s.seal(leafKP.Private)
	if err != nil {
		return nil, err
	}

	leaf := &model.LeafCredential{
		ID:              generateID("leaf"),
		IssuerID:        issuer.ID,
		Algorithm:       leafKP.Algorithm.String(),
		PublicKey:       leafPub,
		PrivateKeyEnc:   sealed,
		IssuerSignature: signing.EncodeSignature(sig),
		CreatedAt:       s.now(),
	}
	if alias != "" {
		leaf.Alias = &alias
	}

	if err := s.leaves.Put(ctx, leaf); err != nil {
		if errors.Is(err, repository.ErrDuplicate) && alias != "" {
			return nil, fmt.Errorf("%w: %q", ErrAliasTaken, alias)
		}
		return nil, fmt.Errorf("failed to store leaf credential: %w", err)
	}

	s.metrics.LeafIssued()
	s.log.Info().Str("leaf_id", leaf.ID).Str("issuer_id", issuer.ID).Str("alias", alias).Msg("leaf credential issued")
	s.audit.record(ctx, model.AuditActionLeafIssue, model.ResourceLeaf, leaf.ID, map[string]interface{}{
		"issuer_id": issuer.ID,
		"alias":     alias,
	})
	return leaf, nil
}

// ResolveRoot returns the trust anchor: the pinned key when configured,
// otherwise the earliest-created issuer.
func (s *IssuerService) ResolveRoot(ctx context.Context) (*RootInfo, error) {
	if pinned := strings.TrimSpace(s.trust.RootPublicKey); pinned != "" {
		_, alg, err := keys.DecodeAnyPublic(pinned)
		if err != nil {
			return nil, fmt.Errorf("pinned root key: %w", err)
		}
		info := &RootInfo{PublicKey: pinned, Algorithm: alg, Source: RootSourcePinned}
		if earliest, err := s.issuers.EarliestByCreation(ctx); err == nil {
			if earliest.PublicKey == pinned {
				info.IssuerID = earliest.ID
			} else {
				s.log.Warn().Str("issuer_id", earliest.ID).Msg("earliest issuer does not match pinned root key; using pinned key")
			}
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to load root issuer: %w", err)
		}
		return info, nil
	}

	earliest, err := s.issuers.EarliestByCreation(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoRootIssuer
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load root issuer: %w", err)
	}
	alg, err := keys.ParseAlgorithm(earliest.Algorithm)
	if err != nil {
		return nil, err
	}
	return &RootInfo{IssuerID: earliest.ID, PublicKey: earliest.PublicKey, Algorithm: alg, Source: RootSourceStore}, nil
}

// ResolveRootPublicKey returns the base64 public key of the trust anchor.
func (s *IssuerService) ResolveRootPublicKey(ctx context.Context) (string, error) {
	root, err := s.ResolveRoot(ctx)
	if err != nil {
		return "", err
	}
	return root.PublicKey, nil
}

// TrustedRoot returns the decoded trust anchor key.
func (s *IssuerService) TrustedRoot(ctx context.Context) (crypto.PublicKey, *RootInfo, error) {
	root, err := s.ResolveRoot(ctx)
	if err != nil {
		return nil, nil, err
	}
	pub, err := keys.DecodePublic(root.PublicKey, root.Algorithm)
	if err != nil {
		return nil, nil, fmt.Errorf("root key: %w", err)
	}
	return pub, root, nil
}

// GetIssuer returns an issuer by ID.
func (s *IssuerService) GetIssuer(ctx context.Context, id string) (*model.Issuer, error) {
	is, err := s.issuers.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrIssuerNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load issuer: %w", err)
	}
	return is, nil
}

// GetLeafByAlias returns the leaf registered under alias.
func (s *IssuerService) GetLeafByAlias(ctx context.Context, alias string) (*model.LeafCredential, error) {
	leaf, err := s.leaves.GetByAlias(ctx, alias)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: alias %q", ErrLeafNotFound, alias)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load leaf: %w", err)
	}
	return leaf, nil
}

// GetLeaf returns a leaf by ID.
func (s *IssuerService) GetLeaf(ctx context.Context, id string) (*model.LeafCredential, error) {
	leaf, err := s.leaves.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrLeafNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load leaf: %w", err)
	}
	return leaf, nil
}

// ListLeaves returns the leaves issued by issuerID, oldest first.
func (s *IssuerService) ListLeaves(ctx context.Context, issuerID string) ([]*model.LeafCredential, error) {
	if _, err := s.GetIssuer(ctx, issuerID); err != nil {
		return nil, err
	}
	leaves, err := s.leaves.ListByIssuer(ctx, issuerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list leaves: %w", err)
	}
	return leaves, nil
}

// LeafKeyPair unseals the leaf's private key. Callers use it for one
// operation and drop it.
func (s *IssuerService) LeafKeyPair(_ context.Context, leaf *model.LeafCredential) (*keys.KeyPair, error) {
	alg, err := keys.ParseAlgorithm(leaf.Algorithm)
	if err != nil {
		return nil, err
	}
	priv, err := s.unseal(leaf.PrivateKeyEnc, alg)
	if err != nil {
		return nil, fmt.Errorf("leaf %s: %w", leaf.ID, err)
	}
	return &keys.KeyPair{Algorithm: alg, Public: priv.Public(), Private: priv}, nil
}

// State reports where the trust chain is in its lifecycle. The state follows
// the stored issuers; a pinned root only shapes the reported anchor.
func (s *IssuerService) State(ctx context.Context) (*model.TrustSummary, error) {
	summary := &model.TrustSummary{State: model.TrustStateUninitialized}

	root, err := s.ResolveRoot(ctx)
	switch {
	case errors.Is(err, ErrNoRootIssuer):
		return summary, nil
	case err != nil:
		return nil, err
	}
	summary.RootIssuerID = root.IssuerID
	summary.RootPublicKey = root.PublicKey
	summary.RootSource = root.Source

	_, err = s.issuers.EarliestByCreation(ctx)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return summary, nil
	case err != nil:
		return nil, fmt.Errorf("failed to load root issuer: %w", err)
	}
	summary.State = model.TrustStateRootBootstrapped

	n, err := s.leaves.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count leaves: %w", err)
	}
	summary.LeafCount = n
	if n > 0 {
		summary.State = model.TrustStateLeafIssued
	}
	return summary, nil
}

func (s *IssuerService) seal(priv crypto.Signer) (string, error) {
	der, err := keys.MarshalPrivate(priv)
	if err != nil {
		return "", err
	}
	defer zeroBytes(der)
	sealed, err := s.protector.Seal(der)
	if err != nil {
		return "", fmt.Errorf("failed to seal private key: %w", err)
	}
	return sealed, nil
}

func (s *IssuerService) unseal(sealed string, alg keys.Algorithm) (crypto.Signer, error) {
	der, err := s.protector.Unseal(sealed)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(der)
	return keys.ParsePrivate(der, alg)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
