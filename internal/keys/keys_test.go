package keys

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateEncodeDecodeRoundTrip(t *testing.T) {
	for _, alg := range []Algorithm{AlgorithmECP256, AlgorithmRSA2048} {
		t.Run(alg.String(), func(t *testing.T) {
			kp, err := Generate(alg)
			require.NoError(t, err)
			assert.Equal(t, alg, kp.Algorithm)

			pubText, err := kp.EncodedPublic()
			require.NoError(t, err)
			privText, err := kp.EncodedPrivate()
			require.NoError(t, err)

			pub, err := DecodePublic(pubText, alg)
			require.NoError(t, err)
			priv, err := DecodePrivate(privText, alg)
			require.NoError(t, err)

			again, err := EncodePublic(priv.Public())
			require.NoError(t, err)
			assert.Equal(t, pubText, again)

			detected, err := Detect(pub)
			require.NoError(t, err)
			assert.Equal(t, alg, detected)
		})
	}
}

func TestGenerateKeyTypes(t *testing.T) {
	ec, err := Generate(AlgorithmECP256)
	require.NoError(t, err)
	_, ok := ec.Private.(*ecdsa.PrivateKey)
	assert.True(t, ok)

	r, err := Generate(AlgorithmRSA2048)
	require.NoError(t, err)
	rk, ok := r.Private.(*rsa.PrivateKey)
	require.True(t, ok)
	assert.Equal(t, 2048, rk.N.BitLen())
}

func TestGenerateUnsupported(t *testing.T) {
	_, err := Generate("DSA-1024")
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":      "",
		"not base64": "%%%not-base64%%%",
		"not der":    base64.StdEncoding.EncodeToString([]byte("definitely not a key")),
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodePublic(text, AlgorithmECP256)
			assert.ErrorIs(t, err, ErrKeyFormat)
			_, err = DecodePrivate(text, AlgorithmECP256)
			assert.ErrorIs(t, err, ErrKeyFormat)
		})
	}
}

func TestDecodeAlgorithmMismatch(t *testing.T) {
	kp, err := Generate(AlgorithmRSA2048)
	require.NoError(t, err)
	pubText, err := kp.EncodedPublic()
	require.NoError(t, err)
	privText, err := kp.EncodedPrivate()
	require.NoError(t, err)

	_, err = DecodePublic(pubText, AlgorithmECP256)
	assert.ErrorIs(t, err, ErrKeyFormat)
	assert.ErrorIs(t, err, ErrAlgorithmMismatch)

	_, err = DecodePrivate(privText, AlgorithmECP256)
	assert.ErrorIs(t, err, ErrKeyFormat)
	assert.ErrorIs(t, err, ErrAlgorithmMismatch)
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		in   string
		want Algorithm
	}{
		{"", AlgorithmECP256},
		{"ec", AlgorithmECP256},
		{"EC-P256", AlgorithmECP256},
		{"secp256r1", AlgorithmECP256},
		{"rsa", AlgorithmRSA2048},
		{"RSA-2048", AlgorithmRSA2048},
	}
	for _, tt := range tests {
		got, err := ParseAlgorithm(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseAlgorithm("ed25519")
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestDecodeAnyPublic(t *testing.T) {
	for _, alg := range []Algorithm{AlgorithmECP256, AlgorithmRSA2048} {
		kp, err := Generate(alg)
		require.NoError(t, err)
		text, err := kp.EncodedPublic()
		require.NoError(t, err)

		_, got, err := DecodeAnyPublic(text)
		require.NoError(t, err)
		assert.Equal(t, alg, got)
	}

	_, _, err := DecodeAnyPublic("bm9wZQ==")
	assert.ErrorIs(t, err, ErrKeyFormat)
}

func TestRSAKeySizeMustBe2048(t *testing.T) {
	oversized, err := rsa.GenerateKey(rand.Reader, 3072)
	require.NoError(t, err)

	err = CheckPublic(&oversized.PublicKey, AlgorithmRSA2048)
	assert.ErrorIs(t, err, ErrAlgorithmMismatch)

	der, err := x509.MarshalPKIXPublicKey(&oversized.PublicKey)
	require.NoError(t, err)
	_, err = DecodePublic(base64.StdEncoding.EncodeToString(der), AlgorithmRSA2048)
	assert.ErrorIs(t, err, ErrAlgorithmMismatch)

	_, err = Detect(&oversized.PublicKey)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}
