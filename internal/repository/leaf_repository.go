package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/secureqr/secureqr/internal/database"
	"github.com/secureqr/secureqr/internal/model"
)

const leafColumns = `id, alias, issuer_id, algorithm, public_key, private_key_enc, issuer_signature, created_at`

// LeafRepository handles leaf credential persistence.
type LeafRepository struct {
	db *database.Postgres
}

// NewLeafRepository creates a new LeafRepository.
func NewLeafRepository(db *database.Postgres) *LeafRepository {
	return &LeafRepository{db: db}
}

// Put stores a new leaf credential. The alias column carries a unique index.
func (r *LeafRepository) Put(ctx context.Context, leaf *model.LeafCredential) error {
	query := `
		INSERT INTO leaf_credentials (` + leafColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		leaf.ID,
		leaf.Alias,
		leaf.IssuerID,
		leaf.Algorithm,
		leaf.PublicKey,
		leaf.PrivateKeyEnc,
		leaf.IssuerSignature,
		leaf.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("leaf %s: %w", leaf.ID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to create leaf credential: %w", err)
	}
	return nil
}

// GetByID retrieves a leaf credential by ID.
func (r *LeafRepository) GetByID(ctx context.Context, id string) (*model.LeafCredential, error) {
	query := `SELECT ` + leafColumns + ` FROM leaf_credentials WHERE id = $1`
	return scanLeaf(r.db.QueryRowContext(ctx, query, id))
}

// GetByAlias retrieves a leaf credential by alias.
func (r *LeafRepository) GetByAlias(ctx context.Context, alias string) (*model.LeafCredential, error) {
	query := `SELECT ` + leafColumns + ` FROM leaf_credentials WHERE alias = $1`
	return scanLeaf(r.db.QueryRowContext(ctx, query, alias))
}

// ListByIssuer lists the leaves issued by an issuer, oldest first.
func (r *LeafRepository) ListByIssuer(ctx context.Context, issuerID string) ([]*model.LeafCredential, error) {
	query := `SELECT ` + leafColumns + ` FROM leaf_credentials WHERE issuer_id = $1 ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, issuerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list leaf credentials: %w", err)
	}
	defer rows.Close()

	var leaves []*model.LeafCredential
	for rows.Next() {
		leaf, err := scanLeaf(rows)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, leaf)
	}
	return leaves, rows.Err()
}

// Count returns the number of issued leaves.
func (r *LeafRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leaf_credentials`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count leaf credentials: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLeaf(row rowScanner) (*model.LeafCredential, error) {
	var (
		leaf  model.LeafCredential
		alias sql.NullString
	)
	err := row.Scan(
		&leaf.ID, &alias, &leaf.IssuerID, &leaf.Algorithm,
		&leaf.PublicKey, &leaf.PrivateKeyEnc, &leaf.IssuerSignature, &leaf.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan leaf credential: %w", err)
	}
	if alias.Valid {
		leaf.Alias = &alias.String
	}
	return &leaf, nil
}
