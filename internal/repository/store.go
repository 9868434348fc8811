package repository

import (
	"context"

	"github.com/secureqr/secureqr/internal/model"
)

// IssuerStore persists issuers. Issuers are never updated or deleted.
type IssuerStore interface {
	Get(ctx context.Context, id string) (*model.Issuer, error)
	// PutIfAbsent stores issuer unless one with the same ID exists, and
	// returns whichever record is stored. Concurrent callers converge on a
	// single record.
	PutIfAbsent(ctx context.Context, issuer *model.Issuer) (*model.Issuer, error)
	// EarliestByCreation returns the oldest issuer, or ErrNotFound.
	EarliestByCreation(ctx context.Context) (*model.Issuer, error)
}

// LeafStore persists leaf credentials.
type LeafStore interface {
	GetByID(ctx context.Context, id string) (*model.LeafCredential, error)
	GetByAlias(ctx context.Context, alias string) (*model.LeafCredential, error)
	// Put stores a new leaf. A taken alias or ID yields ErrDuplicate.
	Put(ctx context.Context, leaf *model.LeafCredential) error
	ListByIssuer(ctx context.Context, issuerID string) ([]*model.LeafCredential, error)
	Count(ctx context.Context) (int, error)
}

// DefaultListLimit caps list queries called with limit <= 0.
const DefaultListLimit = 50

// RecordStore persists signed QR records. List methods return newest first.
type RecordStore interface {
	Create(ctx context.Context, rec *model.SignedQRRecord) error
	ListByLeaf(ctx context.Context, leafID string, limit int) ([]*model.SignedQRRecord, error)
}

// AuditStore persists audit log entries.
type AuditStore interface {
	Create(ctx context.Context, log *model.AuditLog) error
	ListByResource(ctx context.Context, resourceType, resourceID string, limit int) ([]*model.AuditLog, error)
}
