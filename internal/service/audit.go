package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/secureqr/secureqr/internal/logger"
	"github.com/secureqr/secureqr/internal/model"
	"github.com/secureqr/secureqr/internal/repository"
)

// RequestMeta identifies who triggered an operation, for the audit trail.
type RequestMeta struct {
	Actor     string
	IPAddress string
	UserAgent string
}

type requestMetaKey struct{}

// WithRequestMeta attaches meta to ctx.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFrom returns the meta attached to ctx, if any.
func RequestMetaFrom(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta
}

type auditor struct {
	store repository.AuditStore
	log   *logger.Logger
}

// record writes an audit entry. Failures are logged, never returned.
func (a auditor) record(ctx context.Context, action, resourceType, resourceID string, metadata map[string]interface{}) {
	meta := RequestMetaFrom(ctx)
	a.log.AuditLog(meta.Actor, action, resourceType, resourceID, metadata)
	if a.store == nil {
		return
	}

	entry := &model.AuditLog{
		ID:           generateID("aud"),
		Action:       action,
		ResourceType: &resourceType,
		ResourceID:   &resourceID,
		Actor:        optional(meta.Actor),
		IPAddress:    optional(meta.IPAddress),
		UserAgent:    optional(meta.UserAgent),
		Metadata:     metadata,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.Create(ctx, entry); err != nil {
		a.log.Error().Err(err).Str("action", action).Msg("failed to create audit log")
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func generateID(prefix string) string {
	id := uuid.New().String()
	// Remove hyphens and take first 26 chars to fit varchar(32) with prefix
	clean := strings.ReplaceAll(id, "-", "")
	if len(prefix) > 0 {
		return prefix + "_" + clean[:min(26, len(clean))]
	}
	return clean
}
