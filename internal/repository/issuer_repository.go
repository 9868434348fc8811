package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/secureqr/secureqr/internal/database"
	"github.com/secureqr/secureqr/internal/model"
)

const issuerColumns = `id, display_name, algorithm, public_key, private_key_enc, created_at`

// IssuerRepository handles issuer persistence.
type IssuerRepository struct {
	db *database.Postgres
}

// NewIssuerRepository creates a new IssuerRepository.
func NewIssuerRepository(db *database.Postgres) *IssuerRepository {
	return &IssuerRepository{db: db}
}

// Get retrieves an issuer by ID.
func (r *IssuerRepository) Get(ctx context.Context, id string) (*model.Issuer, error) {
	query := `SELECT ` + issuerColumns + ` FROM issuers WHERE id = $1`
	return scanIssuer(r.db.QueryRowContext(ctx, query, id))
}

// PutIfAbsent inserts the issuer, or returns the existing row when the ID is
// already taken. The insert and the conflict check are one statement.
func (r *IssuerRepository) PutIfAbsent(ctx context.Context, issuer *model.Issuer) (*model.Issuer, error) {
	query := `
		INSERT INTO issuers (` + issuerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
		RETURNING ` + issuerColumns
	stored, err := scanIssuer(r.db.QueryRowContext(ctx, query,
		issuer.ID,
		issuer.DisplayName,
		issuer.Algorithm,
		issuer.PublicKey,
		issuer.PrivateKeyEnc,
		issuer.CreatedAt,
	))
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to create issuer: %w", err)
	}
	// Lost the race: another writer holds the ID.
	return r.Get(ctx, issuer.ID)
}

// EarliestByCreation returns the oldest issuer.
func (r *IssuerRepository) EarliestByCreation(ctx context.Context) (*model.Issuer, error) {
	query := `SELECT ` + issuerColumns + ` FROM issuers ORDER BY created_at ASC, id ASC LIMIT 1`
	return scanIssuer(r.db.QueryRowContext(ctx, query))
}

func scanIssuer(row *sql.Row) (*model.Issuer, error) {
	var is model.Issuer
	err := row.Scan(&is.ID, &is.DisplayName, &is.Algorithm, &is.PublicKey, &is.PrivateKeyEnc, &is.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan issuer: %w", err)
	}
	return &is, nil
}
