package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Backend)
	assert.Equal(t, "ROOT-ISSUER-1", cfg.Trust.RootIssuerID)
	assert.Equal(t, "Root Issuer", cfg.Trust.RootDisplayName)
	assert.True(t, cfg.Trust.BootstrapOnStart)
	assert.Equal(t, "plaintext", cfg.KeyProtection.Mode)
	assert.Equal(t, 400, cfg.QR.Size)
	assert.Equal(t, "high", cfg.QR.RecoveryLevel)
	assert.Equal(t, time.Hour, cfg.Security.Admin.TokenTTL)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secureqr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  backend: memory
trust:
  root_issuer_id: ACME-ROOT
qr:
  size: 256
`), 0o600))

	t.Setenv("SECUREQR_TRUST_ROOT_DISPLAY_NAME", "ACME Root")
	t.Setenv("SECUREQR_LOG_LEVEL", "debug")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Database.Backend)
	assert.Equal(t, "ACME-ROOT", cfg.Trust.RootIssuerID)
	assert.Equal(t, "ACME Root", cfg.Trust.RootDisplayName)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 256, cfg.QR.Size)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Database: DatabaseConfig{Backend: "memory"},
			Trust:    TrustConfig{RootIssuerID: "ROOT-ISSUER-1"},
		}
	}
	require.NoError(t, base().Validate())

	c := base()
	c.Database.Backend = "sqlite"
	assert.Error(t, c.Validate())

	c = base()
	c.Trust.RootIssuerID = " "
	assert.Error(t, c.Validate())

	c = base()
	c.KeyProtection.Mode = "passphrase"
	assert.Error(t, c.Validate())

	c = base()
	c.Security.Admin.JWTSecret = "short"
	assert.Error(t, c.Validate())
}
