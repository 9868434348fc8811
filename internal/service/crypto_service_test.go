package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secureqr/secureqr/internal/hybrid"
	"github.com/secureqr/secureqr/internal/keys"
	"github.com/secureqr/secureqr/internal/model"
)

func TestCryptoKeygenSignVerify(t *testing.T) {
	h := newHarness(t, defaultTrust(), nil)
	ctx := context.Background()

	for _, alg := range []string{"EC-P256", "RSA-2048"} {
		kp, err := h.crypto.GenerateKeyPair(alg)
		require.NoError(t, err)
		assert.Equal(t, alg, kp.Algorithm)

		sig, err := h.crypto.Sign(ctx, []byte("msg"), kp.PrivateKey, alg, "")
		require.NoError(t, err)

		ok, err := h.crypto.Verify(ctx, []byte("msg"), sig, kp.PublicKey, alg, "")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = h.crypto.Verify(ctx, []byte("msg2"), sig, kp.PublicKey, alg, "")
		require.NoError(t, err)
		assert.False(t, ok)
	}

	_, err := h.crypto.GenerateKeyPair("DSA")
	assert.ErrorIs(t, err, keys.ErrUnsupportedAlgorithm)
}

func TestCryptoSignVerifyByAlias(t *testing.T) {
	h := newHarness(t, defaultTrust(), nil)
	ctx := context.Background()
	root, err := h.svc.BootstrapRoot(ctx, "", "")
	require.NoError(t, err)
	leaf, err := h.svc.IssueLeaf(ctx, root.ID, "alice")
	require.NoError(t, err)

	sig, err := h.crypto.Sign(ctx, []byte("msg"), "", "", "alice")
	require.NoError(t, err)

	ok, err := h.crypto.Verify(ctx, []byte("msg"), sig, "", "", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.crypto.Verify(ctx, []byte("msg"), sig, leaf.PublicKey, leaf.Algorithm, "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.crypto.Verify(ctx, []byte("tampered"), sig, "", "", "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	logs, err := h.audit.ListByResource(ctx, model.ResourceLeaf, leaf.ID, 0)
	require.NoError(t, err)
	var signs int
	for _, l := range logs {
		if l.Action == model.AuditActionSignByAlias {
			signs++
		}
	}
	assert.Equal(t, 1, signs)

	_, err = h.crypto.Sign(ctx, []byte("msg"), "", "", "nobody")
	assert.ErrorIs(t, err, ErrLeafNotFound)
	_, err = h.crypto.Verify(ctx, []byte("msg"), sig, "", "", "nobody")
	assert.ErrorIs(t, err, ErrLeafNotFound)
	_, err = h.crypto.Sign(ctx, []byte("msg"), "", "", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCryptoEncryptDecryptRawKeys(t *testing.T) {
	h := newHarness(t, defaultTrust(), nil)
	ctx := context.Background()

	kp, err := h.crypto.GenerateKeyPair("")
	require.NoError(t, err)

	wire, err := h.crypto.Encrypt(ctx, []byte("hello-world"), kp.PublicKey, "")
	require.NoError(t, err)
	out, err := h.crypto.Decrypt(ctx, wire, kp.PrivateKey, "")
	require.NoError(t, err)
	assert.Equal(t, "hello-world", string(out))

	other, err := h.crypto.GenerateKeyPair("")
	require.NoError(t, err)
	_, err = h.crypto.Decrypt(ctx, wire, other.PrivateKey, "")
	assert.ErrorIs(t, err, hybrid.ErrAuthenticationFailed)

	_, err = h.crypto.Encrypt(ctx, []byte("x"), "", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCryptoEncryptDecryptByAlias(t *testing.T) {
	h := newHarness(t, defaultTrust(), nil)
	ctx := context.Background()
	root, err := h.svc.BootstrapRoot(ctx, "", "")
	require.NoError(t, err)
	_, err = h.svc.IssueLeaf(ctx, root.ID, "alice")
	require.NoError(t, err)

	wire, err := h.crypto.Encrypt(ctx, []byte("for alice"), "", "alice")
	require.NoError(t, err)

	out, err := h.crypto.Decrypt(ctx, wire, "", "alice")
	require.NoError(t, err)
	assert.Equal(t, "for alice", string(out))

	_, err = h.crypto.Encrypt(ctx, []byte("x"), "", "nobody")
	assert.ErrorIs(t, err, ErrLeafNotFound)
}

func TestValidation(t *testing.T) {
	assert.NoError(t, ValidateAlias("alice.smith@example-1"))
	assert.Error(t, ValidateAlias(""))
	assert.Error(t, ValidateAlias("has space"))

	assert.NoError(t, ValidateIssuerID("ROOT-ISSUER-1"))
	assert.Error(t, ValidateIssuerID("root/../etc"))
	assert.Error(t, ValidateIssuerID("rööt"))

	assert.NoError(t, ValidateDisplayName("Root Issuer"))
	assert.Error(t, ValidateDisplayName("bad\nname"))
}
