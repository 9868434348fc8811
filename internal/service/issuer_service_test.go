package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/secureqr/secureqr/internal/config"
	"github.com/secureqr/secureqr/internal/envelope"
	"github.com/secureqr/secureqr/internal/keyprotect"
	"github.com/secureqr/secureqr/internal/keys"
	"github.com/secureqr/secureqr/internal/logger"
	"github.com/secureqr/secureqr/internal/metrics"
	"github.com/secureqr/secureqr/internal/model"
	"github.com/secureqr/secureqr/internal/qr"
	"github.com/secureqr/secureqr/internal/repository"
	"github.com/secureqr/secureqr/internal/signing"
)

type harness struct {
	issuers *repository.MemoryIssuerStore
	leaves  *repository.MemoryLeafStore
	records *repository.MemoryRecordStore
	audit   *repository.MemoryAuditStore
	svc     *IssuerService
	qrSvc   *SignedQRService
	crypto  *CryptoService
}

func defaultTrust() config.TrustConfig {
	return config.TrustConfig{RootIssuerID: "ROOT-ISSUER-1", RootDisplayName: "Root Issuer"}
}

func newHarness(t *testing.T, trust config.TrustConfig, protector keyprotect.Protector) *harness {
	t.Helper()
	if protector == nil {
		protector = keyprotect.Plaintext{}
	}
	h := &harness{
		issuers: repository.NewMemoryIssuerStore(),
		leaves:  repository.NewMemoryLeafStore(),
		records: repository.NewMemoryRecordStore(),
		audit:   repository.NewMemoryAuditStore(),
	}
	m := metrics.New()
	log := logger.Nop()
	h.svc = NewIssuerService(h.issuers, h.leaves, h.audit, protector, trust, m, log)
	codec, err := qr.NewCodec(0, "")
	require.NoError(t, err)
	h.qrSvc = NewSignedQRService(h.svc, h.records, h.audit, codec, m, log)
	h.crypto = NewCryptoService(h.svc, m, log)
	return h
}

func TestBootstrapIsIdempotent(t *testing.T) {
	h := newHarness(t, defaultTrust(), nil)
	ctx := context.Background()

	first, err := h.svc.BootstrapRoot(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, "ROOT-ISSUER-1", first.ID)
	assert.Equal(t, "Root Issuer", first.DisplayName)
	assert.Equal(t, keys.AlgorithmECP256.String(), first.Algorithm)

	second, err := h.svc.BootstrapRoot(ctx, "Root Issuer", "ROOT-ISSUER-1")
	require.NoError(t, err)
	assert.Equal(t, first.PublicKey, second.PublicKey)

	logs, err := h.audit.ListByResource(ctx, model.ResourceIssuer, "ROOT-ISSUER-1", 0)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestConcurrentBootstrapConverges(t *testing.T) {
	h := newHarness(t, defaultTrust(), nil)
	ctx := context.Background()

	const n = 16
	var (
		mu   sync.Mutex
		pubs = make(map[string]struct{})
	)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			is, err := h.svc.BootstrapRoot(ctx, "Root Issuer", "ROOT-ISSUER-1")
			if err != nil {
				return err
			}
			mu.Lock()
			pubs[is.PublicKey] = struct{}{}
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, pubs, 1)

	stored, err := h.issuers.Get(ctx, "ROOT-ISSUER-1")
	require.NoError(t, err)
	_, ok := pubs[stored.PublicKey]
	assert.True(t, ok)
}

func TestIssueLeafSignatureChainsToIssuer(t *testing.T) {
	h := newHarness(t, defaultTrust(), nil)
	ctx := context.Background()

	root, err := h.svc.BootstrapRoot(ctx, "", "")
	require.NoError(t, err)

	leaf, err := h.svc.IssueLeaf(ctx, root.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, root.ID, leaf.IssuerID)
	assert.Equal(t, "alice", leaf.AliasOrEmpty())

	ok, err := signing.VerifyEncoded([]byte(leaf.PublicKey), leaf.IssuerSignature, root.PublicKey, keys.AlgorithmECP256)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := h.svc.GetLeafByAlias(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, leaf.ID, got.ID)

	byID, err := h.svc.GetLeaf(ctx, leaf.ID)
	require.NoError(t, err)
	assert.Equal(t, leaf.PublicKey, byID.PublicKey)

	list, err := h.svc.ListLeaves(ctx, root.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestIssueLeafWithoutAlias(t *testing.T) {
	h := newHarness(t, defaultTrust(), nil)
	ctx := context.Background()
	root, err := h.svc.BootstrapRoot(ctx, "", "")
	require.NoError(t, err)

	a, err := h.svc.IssueLeaf(ctx, root.ID, "")
	require.NoError(t, err)
	b, err := h.svc.IssueLeaf(ctx, root.ID, "")
	require.NoError(t, err)
	assert.Nil(t, a.Alias)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestIssueLeafErrors(t *testing.T) {
	h := newHarness(t, defaultTrust(), nil)
	ctx := context.Background()

	_, err := h.svc.IssueLeaf(ctx, "NO-SUCH-ISSUER", "alice")
	assert.ErrorIs(t, err, ErrIssuerNotFound)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	root, err := h.svc.BootstrapRoot(ctx, "", "")
	require.NoError(t, err)

	_, err = h.svc.IssueLeaf(ctx, root.ID, "alice")
	require.NoError(t, err)
	_, err = h.svc.IssueLeaf(ctx, root.ID, "alice")
	assert.ErrorIs(t, err, ErrAliasTaken)
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	_, err = h.svc.IssueLeaf(ctx, root.ID, "bad alias!")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.svc.GetLeafByAlias(ctx, "bob")
	assert.ErrorIs(t, err, ErrLeafNotFound)
}

func TestConcurrentAliasIssuanceHasOneWinner(t *testing.T) {
	h := newHarness(t, defaultTrust(), nil)
	ctx := context.Background()
	root, err := h.svc.BootstrapRoot(ctx, "", "")
	require.NoError(t, err)

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.IssueLeaf(ctx, root.ID, "carol")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrAliasTaken)
	}
	assert.Equal(t, 1, wins)
}

func TestResolveRoot(t *testing.T) {
	ctx := context.Background()

	t.Run("uninitialized", func(t *testing.T) {
		h := newHarness(t, defaultTrust(), nil)
		_, err := h.svc.ResolveRootPublicKey(ctx)
		assert.ErrorIs(t, err, ErrNoRootIssuer)

		state, err := h.svc.State(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.TrustStateUninitialized, state.State)
	})

	t.Run("earliest issuer", func(t *testing.T) {
		h := newHarness(t, defaultTrust(), nil)
		root, err := h.svc.BootstrapRoot(ctx, "", "")
		require.NoError(t, err)

		pub, err := h.svc.ResolveRootPublicKey(ctx)
		require.NoError(t, err)
		assert.Equal(t, root.PublicKey, pub)

		info, err := h.svc.ResolveRoot(ctx)
		require.NoError(t, err)
		assert.Equal(t, RootSourceStore, info.Source)
		assert.Equal(t, root.ID, info.IssuerID)
	})

	t.Run("pinned key wins", func(t *testing.T) {
		pinned, err := keys.Generate(keys.AlgorithmECP256)
		require.NoError(t, err)
		pinnedText, err := pinned.EncodedPublic()
		require.NoError(t, err)

		trust := defaultTrust()
		trust.RootPublicKey = pinnedText
		h := newHarness(t, trust, nil)
		_, err = h.svc.BootstrapRoot(ctx, "", "")
		require.NoError(t, err)

		info, err := h.svc.ResolveRoot(ctx)
		require.NoError(t, err)
		assert.Equal(t, pinnedText, info.PublicKey)
		assert.Equal(t, RootSourcePinned, info.Source)
		assert.Empty(t, info.IssuerID)
	})
}

func TestStateTransitions(t *testing.T) {
	h := newHarness(t, defaultTrust(), nil)
	ctx := context.Background()

	root, err := h.svc.BootstrapRoot(ctx, "", "")
	require.NoError(t, err)
	state, err := h.svc.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.TrustStateRootBootstrapped, state.State)
	assert.Equal(t, root.ID, state.RootIssuerID)

	_, err = h.svc.IssueLeaf(ctx, root.ID, "alice")
	require.NoError(t, err)
	state, err = h.svc.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.TrustStateLeafIssued, state.State)
	assert.Equal(t, 1, state.LeafCount)
}

func TestStateWithMismatchedPin(t *testing.T) {
	other, err := keys.Generate(keys.AlgorithmECP256)
	require.NoError(t, err)
	pinned, err := other.EncodedPublic()
	require.NoError(t, err)

	trust := defaultTrust()
	trust.RootPublicKey = pinned
	h := newHarness(t, trust, nil)
	ctx := context.Background()

	state, err := h.svc.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.TrustStateUninitialized, state.State)
	assert.Equal(t, RootSourcePinned, state.RootSource)

	root, err := h.svc.BootstrapRoot(ctx, "", "")
	require.NoError(t, err)
	require.NotEqual(t, pinned, root.PublicKey)

	state, err = h.svc.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.TrustStateRootBootstrapped, state.State)
	assert.Equal(t, pinned, state.RootPublicKey)
	assert.Empty(t, state.RootIssuerID)

	_, err = h.svc.IssueLeaf(ctx, root.ID, "alice")
	require.NoError(t, err)
	state, err = h.svc.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.TrustStateLeafIssued, state.State)
}

func TestPassphraseProtectedKeys(t *testing.T) {
	protector, err := keyprotect.NewPassphrase("s3cret", keyprotect.Argon2Params{Time: 1, MemoryKB: 1024, Threads: 1})
	require.NoError(t, err)
	h := newHarness(t, defaultTrust(), protector)
	ctx := context.Background()

	root, err := h.svc.BootstrapRoot(ctx, "", "")
	require.NoError(t, err)
	_, err = keys.DecodePrivate(root.PrivateKeyEnc, keys.AlgorithmECP256)
	assert.Error(t, err, "stored private key must not be plain PKCS#8")

	leaf, err := h.svc.IssueLeaf(ctx, root.ID, "alice")
	require.NoError(t, err)
	kp, err := h.svc.LeafKeyPair(ctx, leaf)
	require.NoError(t, err)
	pub, err := kp.EncodedPublic()
	require.NoError(t, err)
	assert.Equal(t, leaf.PublicKey, pub)
}

type failingIssuerStore struct {
	repository.IssuerStore
}

func (failingIssuerStore) Get(context.Context, string) (*model.Issuer, error) {
	return nil, errors.New("connection refused")
}

func TestStoreErrorsPropagate(t *testing.T) {
	svc := NewIssuerService(failingIssuerStore{}, repository.NewMemoryLeafStore(), nil,
		keyprotect.Plaintext{}, defaultTrust(), nil, logger.Nop())

	_, err := svc.BootstrapRoot(context.Background(), "", "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrNotFound)

	_, err = svc.IssueLeaf(context.Background(), "ROOT-ISSUER-1", "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrIssuerNotFound)
}

// The end-to-end scenario: bootstrap, issue "alice", sign "hello-world",
// verify against the root, then tamper.
func TestSignedQRScenario(t *testing.T) {
	h := newHarness(t, defaultTrust(), nil)
	ctx := WithRequestMeta(context.Background(), RequestMeta{Actor: "ops", IPAddress: "127.0.0.1"})

	root, err := h.svc.BootstrapRoot(ctx, "Root Issuer", "ROOT-ISSUER-1")
	require.NoError(t, err)
	_, err = h.svc.IssueLeaf(ctx, root.ID, "alice")
	require.NoError(t, err)

	signed, err := h.qrSvc.SignEnvelope(ctx, "alice", []byte("hello-world"))
	require.NoError(t, err)

	res, err := h.qrSvc.Verify(ctx, signed.Wire)
	require.NoError(t, err)
	assert.True(t, res.PayloadValid)
	assert.True(t, res.IssuerValid)
	assert.True(t, res.TrustedRoot)
	assert.Equal(t, "hello-world", res.Payload)
	assert.Equal(t, root.ID, res.RootIssuerID)

	tampered := *signed.Envelope
	tampered.Payload = []byte("hello-world!")
	wire, err := envelope.Encode(&tampered)
	require.NoError(t, err)
	res, err = h.qrSvc.Verify(ctx, wire)
	require.NoError(t, err)
	assert.False(t, res.PayloadValid)
	assert.True(t, res.IssuerValid)
	assert.False(t, res.TrustedRoot)

	_, err = h.qrSvc.Verify(ctx, []byte("hello-world"))
	assert.ErrorIs(t, err, envelope.ErrMalformed)

	records, err := h.qrSvc.Records(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "hello-world", records[0].Payload)
	assert.Equal(t, signed.RecordID, records[0].ID)

	leaf, err := h.svc.GetLeafByAlias(ctx, "alice")
	require.NoError(t, err)
	logs, err := h.audit.ListByResource(ctx, model.ResourceLeaf, leaf.ID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, model.AuditActionQRSign, logs[0].Action)
	require.NotNil(t, logs[0].Actor)
	assert.Equal(t, "ops", *logs[0].Actor)
}

func TestRenderAndVerifyQRImage(t *testing.T) {
	h := newHarness(t, defaultTrust(), nil)
	ctx := context.Background()
	root, err := h.svc.BootstrapRoot(ctx, "", "")
	require.NoError(t, err)
	_, err = h.svc.IssueLeaf(ctx, root.ID, "alice")
	require.NoError(t, err)

	png, signed, err := h.qrSvc.RenderQR(ctx, "alice", []byte("hello-world"))
	require.NoError(t, err)

	res, err := h.qrSvc.VerifyImage(ctx, bytes.NewReader(png))
	require.NoError(t, err)
	assert.Equal(t, string(signed.Wire), res.Decoded)
	assert.True(t, res.TrustedRoot)
}

func TestRenderQRTooLargeRecordsNothing(t *testing.T) {
	h := newHarness(t, defaultTrust(), nil)
	ctx := context.Background()
	root, err := h.svc.BootstrapRoot(ctx, "", "")
	require.NoError(t, err)
	leaf, err := h.svc.IssueLeaf(ctx, root.ID, "alice")
	require.NoError(t, err)

	_, _, err = h.qrSvc.RenderQR(ctx, "alice", bytes.Repeat([]byte("a"), 3000))
	require.ErrorIs(t, err, qr.ErrTooLarge)

	records, err := h.qrSvc.Records(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
	logs, err := h.audit.ListByResource(ctx, model.ResourceLeaf, leaf.ID, 0)
	require.NoError(t, err)
	for _, l := range logs {
		assert.NotEqual(t, model.AuditActionQRSign, l.Action)
	}

	signed, err := h.qrSvc.SignEnvelope(ctx, "alice", bytes.Repeat([]byte("a"), 3000))
	require.NoError(t, err)
	assert.NotEmpty(t, signed.RecordID)
}

func TestVerifyUnderUnrelatedRoot(t *testing.T) {
	ctx := context.Background()
	a := newHarness(t, defaultTrust(), nil)
	rootA, err := a.svc.BootstrapRoot(ctx, "", "")
	require.NoError(t, err)
	_, err = a.svc.IssueLeaf(ctx, rootA.ID, "alice")
	require.NoError(t, err)
	signed, err := a.qrSvc.SignEnvelope(ctx, "alice", []byte("hello-world"))
	require.NoError(t, err)

	b := newHarness(t, defaultTrust(), nil)
	_, err = b.svc.BootstrapRoot(ctx, "", "")
	require.NoError(t, err)

	res, err := b.qrSvc.Verify(ctx, signed.Wire)
	require.NoError(t, err)
	assert.True(t, res.PayloadValid)
	assert.False(t, res.IssuerValid)
	assert.False(t, res.TrustedRoot)
}
