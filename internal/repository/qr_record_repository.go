package repository

import (
	"context"
	"fmt"

	"github.com/secureqr/secureqr/internal/database"
	"github.com/secureqr/secureqr/internal/model"
)

// QRRecordRepository handles signed QR record persistence.
type QRRecordRepository struct {
	db *database.Postgres
}

// NewQRRecordRepository creates a new QRRecordRepository.
func NewQRRecordRepository(db *database.Postgres) *QRRecordRepository {
	return &QRRecordRepository{db: db}
}

// Create inserts a signed QR record.
func (r *QRRecordRepository) Create(ctx context.Context, rec *model.SignedQRRecord) error {
	query := `
		INSERT INTO signed_qr_records (id, leaf_id, payload, signature, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query, rec.ID, rec.LeafID, rec.Payload, rec.Signature, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create signed qr record: %w", err)
	}
	return nil
}

// ListByLeaf returns the newest records signed by a leaf.
func (r *QRRecordRepository) ListByLeaf(ctx context.Context, leafID string, limit int) ([]*model.SignedQRRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `
		SELECT id, leaf_id, payload, signature, created_at
		FROM signed_qr_records
		WHERE leaf_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, leafID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list signed qr records: %w", err)
	}
	defer rows.Close()

	var records []*model.SignedQRRecord
	for rows.Next() {
		var rec model.SignedQRRecord
		if err := rows.Scan(&rec.ID, &rec.LeafID, &rec.Payload, &rec.Signature, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan signed qr record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}
