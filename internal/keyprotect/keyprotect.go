// Package keyprotect seals private key material before it is persisted.
//
// Stores only ever see sealed text. Services unseal a key for the duration of
// a single operation and drop it afterwards.
package keyprotect

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Modes accepted by New.
const (
	ModePlaintext  = "plaintext"
	ModePassphrase = "passphrase"
)

const (
	sealedPrefix    = "sqrk1:"
	envelopeVersion = 1
	saltSize        = 16
)

var (
	// ErrUnsealFailed means the sealed value was tampered with, was sealed
	// under a different passphrase, or was not sealed by this protector.
	ErrUnsealFailed = errors.New("key unseal failed")
	// ErrInvalidConfig is returned by New for unusable settings.
	ErrInvalidConfig = errors.New("invalid key protection config")
)

// Protector seals and unseals private key bytes (PKCS#8 DER).
type Protector interface {
	Seal(plaintext []byte) (string, error)
	Unseal(sealed string) ([]byte, error)
	Mode() string
}

// Argon2Params tunes the passphrase KDF.
type Argon2Params struct {
	Time     uint32
	MemoryKB uint32
	Threads  uint8
}

// DefaultArgon2 is argon2id with 2 passes over 64 MiB.
var DefaultArgon2 = Argon2Params{Time: 2, MemoryKB: 64 * 1024, Threads: 1}

// New builds a Protector for mode.
func New(mode, passphrase string, params Argon2Params) (Protector, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModePlaintext:
		return Plaintext{}, nil
	case ModePassphrase:
		return NewPassphrase(passphrase, params)
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, mode)
	}
}

// Plaintext stores keys as base64 with no protection. Development only.
type Plaintext struct{}

func (Plaintext) Mode() string { return ModePlaintext }

func (Plaintext) Seal(plaintext []byte) (string, error) {
	return base64.StdEncoding.EncodeToString(plaintext), nil
}

func (Plaintext) Unseal(sealed string) ([]byte, error) {
	if strings.HasPrefix(sealed, sealedPrefix) {
		return nil, fmt.Errorf("%w: value is passphrase sealed", ErrUnsealFailed)
	}
	b, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsealFailed, err)
	}
	return b, nil
}

// Passphrase seals with XChaCha20-Poly1305 under an argon2id-derived key.
// Each Seal draws a fresh salt and nonce.
type Passphrase struct {
	passphrase string
	params     Argon2Params
}

// NewPassphrase validates the passphrase and fills zero params from DefaultArgon2.
func NewPassphrase(passphrase string, params Argon2Params) (*Passphrase, error) {
	if strings.TrimSpace(passphrase) == "" {
		return nil, fmt.Errorf("%w: passphrase mode requires a passphrase", ErrInvalidConfig)
	}
	if params.Time == 0 {
		params.Time = DefaultArgon2.Time
	}
	if params.MemoryKB == 0 {
		params.MemoryKB = DefaultArgon2.MemoryKB
	}
	if params.Threads == 0 {
		params.Threads = DefaultArgon2.Threads
	}
	return &Passphrase{passphrase: passphrase, params: params}, nil
}

func (p *Passphrase) Mode() string { return ModePassphrase }

type sealedKey struct {
	Version  uint32 `json:"v"`
	KDF      string `json:"kdf"`
	Time     uint32 `json:"t"`
	MemoryKB uint32 `json:"m"`
	Threads  uint8  `json:"p"`
	Salt     []byte `json:"salt"`
	Nonce    []byte `json:"nonce"`
	Cipher   []byte `json:"ct"`
}

func (p *Passphrase) Seal(plaintext []byte) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := deriveKey(p.passphrase, salt, p.params)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	raw, err := json.Marshal(sealedKey{
		Version:  envelopeVersion,
		KDF:      "argon2id",
		Time:     p.params.Time,
		MemoryKB: p.params.MemoryKB,
		Threads:  p.params.Threads,
		Salt:     salt,
		Nonce:    nonce,
		Cipher:   aead.Seal(nil, nonce, plaintext, nil),
	})
	if err != nil {
		return "", err
	}
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

func (p *Passphrase) Unseal(sealed string) ([]byte, error) {
	if !strings.HasPrefix(sealed, sealedPrefix) {
		return nil, fmt.Errorf("%w: value is not passphrase sealed", ErrUnsealFailed)
	}
	raw, err := base64.RawURLEncoding.DecodeString(sealed[len(sealedPrefix):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsealFailed, err)
	}
	var env sealedKey
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsealFailed, err)
	}
	if env.Version != envelopeVersion || env.KDF != "argon2id" ||
		len(env.Nonce) != chacha20poly1305.NonceSizeX || env.Time == 0 || env.MemoryKB == 0 || env.Threads == 0 {
		return nil, fmt.Errorf("%w: unsupported envelope", ErrUnsealFailed)
	}

	// Sealed values carry their own KDF params so a config change does not
	// strand existing keys.
	key := deriveKey(p.passphrase, env.Salt, Argon2Params{Time: env.Time, MemoryKB: env.MemoryKB, Threads: env.Threads})
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Cipher, nil)
	if err != nil {
		return nil, ErrUnsealFailed
	}
	return plaintext, nil
}

func deriveKey(passphrase string, salt []byte, p Argon2Params) []byte {
	return argon2.IDKey([]byte(passphrase), salt, p.Time, p.MemoryKB, p.Threads, chacha20poly1305.KeySize)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
