// Package app wires configuration into stores and services. The server and
// the CLI share it so both see the same trust chain.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/secureqr/secureqr/internal/auth"
	"github.com/secureqr/secureqr/internal/config"
	"github.com/secureqr/secureqr/internal/database"
	"github.com/secureqr/secureqr/internal/keyprotect"
	"github.com/secureqr/secureqr/internal/logger"
	"github.com/secureqr/secureqr/internal/metrics"
	"github.com/secureqr/secureqr/internal/qr"
	"github.com/secureqr/secureqr/internal/repository"
	"github.com/secureqr/secureqr/internal/service"
)

// Storage backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// App holds the wired services and the connections they depend on.
type App struct {
	Config  *config.Config
	Log     *logger.Logger
	Metrics *metrics.Metrics
	DB      *database.Postgres // nil on the memory backend
	Redis   *database.Redis    // nil when disabled

	Tokens   *auth.TokenService
	Issuers  *service.IssuerService
	SignedQR *service.SignedQRService
	Crypto   *service.CryptoService
}

type stores struct {
	issuers repository.IssuerStore
	leaves  repository.LeafStore
	records repository.RecordStore
	audit   repository.AuditStore
}

// Open connects to the configured backends and builds the services.
// Redis is only dialled when redis.enabled is set.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Log:     log,
		Metrics: metrics.New(),
		Tokens:  auth.NewTokenService(cfg.Security.Admin),
	}

	st, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	if cfg.Redis.Enabled {
		rdb, err := database.NewRedis(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = rdb
		log.Info().Str("addr", cfg.Redis.Addr()).Msg("connected to Redis")
	}

	kp := cfg.KeyProtection
	protector, err := keyprotect.New(kp.Mode, kp.Passphrase, keyprotect.Argon2Params{
		Time:     kp.Argon2Time,
		MemoryKB: kp.Argon2MemoryKB,
		Threads:  kp.Argon2Threads,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	log.Info().Str("mode", protector.Mode()).Msg("key protection configured")

	codec, err := qr.NewCodec(cfg.QR.Size, cfg.QR.RecoveryLevel)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Issuers = service.NewIssuerService(st.issuers, st.leaves, st.audit, protector, cfg.Trust, a.Metrics, log)
	a.SignedQR = service.NewSignedQRService(a.Issuers, st.records, st.audit, codec, a.Metrics, log)
	a.Crypto = service.NewCryptoService(a.Issuers, a.Metrics, log)
	return a, nil
}

func (a *App) openStores(ctx context.Context) (*stores, error) {
	switch backend := strings.ToLower(a.Config.Database.Backend); backend {
	case BackendMemory:
		a.Log.Warn().Msg("using in-memory store; issued credentials are lost on exit")
		return &stores{
			issuers: repository.NewMemoryIssuerStore(),
			leaves:  repository.NewMemoryLeafStore(),
			records: repository.NewMemoryRecordStore(),
			audit:   repository.NewMemoryAuditStore(),
		}, nil
	case "", BackendPostgres:
		db, err := database.NewPostgres(ctx, a.Config.Database)
		if err != nil {
			return nil, err
		}
		a.DB = db
		a.Log.Info().Str("host", a.Config.Database.Host).Str("database", a.Config.Database.Name).Msg("connected to PostgreSQL")
		return &stores{
			issuers: repository.NewIssuerRepository(db),
			leaves:  repository.NewLeafRepository(db),
			records: repository.NewQRRecordRepository(db),
			audit:   repository.NewAuditRepository(db),
		}, nil
	default:
		return nil, fmt.Errorf("unknown database backend %q", backend)
	}
}

// BootstrapIfConfigured creates the root issuer when trust.bootstrap_on_start
// is set.
func (a *App) BootstrapIfConfigured(ctx context.Context) error {
	if !a.Config.Trust.BootstrapOnStart {
		return nil
	}
	root, err := a.Issuers.BootstrapRoot(ctx, "", "")
	if err != nil {
		return fmt.Errorf("bootstrap root issuer: %w", err)
	}
	a.Log.Info().Str("issuer_id", root.ID).Msg("root issuer ready")
	return nil
}

// Close releases database and Redis connections.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
