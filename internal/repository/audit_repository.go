package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/secureqr/secureqr/internal/database"
	"github.com/secureqr/secureqr/internal/model"
)

// AuditRepository handles audit log persistence
type AuditRepository struct {
	db *database.Postgres
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *database.Postgres) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create inserts a new audit log entry
func (r *AuditRepository) Create(ctx context.Context, log *model.AuditLog) error {
	metadataJSON, err := json.Marshal(log.Metadata)
	if err != nil {
		metadataJSON = []byte("{}")
	}

	query := `
		INSERT INTO audit_logs (id, actor, action, resource_type, resource_id,
		    ip_address, user_agent, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.db.ExecContext(ctx, query,
		log.ID,
		log.Actor,
		log.Action,
		log.ResourceType,
		log.ResourceID,
		log.IPAddress,
		log.UserAgent,
		metadataJSON,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

// ListByResource returns the newest entries for one resource.
func (r *AuditRepository) ListByResource(ctx context.Context, resourceType, resourceID string, limit int) ([]*model.AuditLog, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `
		SELECT id, actor, action, resource_type, resource_id, ip_address, user_agent, metadata, created_at
		FROM audit_logs
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, resourceType, resourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*model.AuditLog
	for rows.Next() {
		var (
			entry    model.AuditLog
			metadata []byte
		)
		if err := rows.Scan(
			&entry.ID, &entry.Actor, &entry.Action, &entry.ResourceType, &entry.ResourceID,
			&entry.IPAddress, &entry.UserAgent, &metadata, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &entry.Metadata)
		}
		logs = append(logs, &entry)
	}
	return logs, rows.Err()
}
