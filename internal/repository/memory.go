package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/secureqr/secureqr/internal/model"
)

// In-memory stores back the CLI and tests. They copy records in and out so
// callers cannot mutate stored state.

// MemoryIssuerStore is an in-memory IssuerStore.
type MemoryIssuerStore struct {
	mu      sync.Mutex
	issuers map[string]*model.Issuer
}

// NewMemoryIssuerStore creates an empty MemoryIssuerStore.
func NewMemoryIssuerStore() *MemoryIssuerStore {
	return &MemoryIssuerStore{issuers: make(map[string]*model.Issuer)}
}

func (s *MemoryIssuerStore) Get(_ context.Context, id string) (*model.Issuer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	is, ok := s.issuers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *is
	return &cp, nil
}

func (s *MemoryIssuerStore) PutIfAbsent(_ context.Context, issuer *model.Issuer) (*model.Issuer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.issuers[issuer.ID]; ok {
		cp := *existing
		return &cp, nil
	}
	stored := *issuer
	s.issuers[issuer.ID] = &stored
	cp := stored
	return &cp, nil
}

func (s *MemoryIssuerStore) EarliestByCreation(_ context.Context) (*model.Issuer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var earliest *model.Issuer
	for _, is := range s.issuers {
		if earliest == nil || is.CreatedAt.Before(earliest.CreatedAt) ||
			(is.CreatedAt.Equal(earliest.CreatedAt) && is.ID < earliest.ID) {
			earliest = is
		}
	}
	if earliest == nil {
		return nil, ErrNotFound
	}
	cp := *earliest
	return &cp, nil
}

// MemoryLeafStore is an in-memory LeafStore.
type MemoryLeafStore struct {
	mu      sync.RWMutex
	byID    map[string]*model.LeafCredential
	byAlias map[string]string
}

// NewMemoryLeafStore creates an empty MemoryLeafStore.
func NewMemoryLeafStore() *MemoryLeafStore {
	return &MemoryLeafStore{
		byID:    make(map[string]*model.LeafCredential),
		byAlias: make(map[string]string),
	}
}

func (s *MemoryLeafStore) Put(_ context.Context, leaf *model.LeafCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[leaf.ID]; ok {
		return fmt.Errorf("leaf %s: %w", leaf.ID, ErrDuplicate)
	}
	if leaf.Alias != nil {
		if _, ok := s.byAlias[*leaf.Alias]; ok {
			return fmt.Errorf("alias %q: %w", *leaf.Alias, ErrDuplicate)
		}
	}
	stored := copyLeaf(leaf)
	s.byID[leaf.ID] = stored
	if stored.Alias != nil {
		s.byAlias[*stored.Alias] = stored.ID
	}
	return nil
}

func (s *MemoryLeafStore) GetByID(_ context.Context, id string) (*model.LeafCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	leaf, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyLeaf(leaf), nil
}

func (s *MemoryLeafStore) GetByAlias(_ context.Context, alias string) (*model.LeafCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byAlias[alias]
	if !ok {
		return nil, ErrNotFound
	}
	return copyLeaf(s.byID[id]), nil
}

func (s *MemoryLeafStore) ListByIssuer(_ context.Context, issuerID string) ([]*model.LeafCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.LeafCredential
	for _, leaf := range s.byID {
		if leaf.IssuerID == issuerID {
			out = append(out, copyLeaf(leaf))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryLeafStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), nil
}

func copyLeaf(l *model.LeafCredential) *model.LeafCredential {
	cp := *l
	if l.Alias != nil {
		alias := *l.Alias
		cp.Alias = &alias
	}
	return &cp
}

// MemoryRecordStore is an in-memory RecordStore.
type MemoryRecordStore struct {
	mu      sync.Mutex
	records []*model.SignedQRRecord
}

// NewMemoryRecordStore creates an empty MemoryRecordStore.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{}
}

func (s *MemoryRecordStore) Create(_ context.Context, rec *model.SignedQRRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records = append(s.records, &cp)
	return nil
}

func (s *MemoryRecordStore) ListByLeaf(_ context.Context, leafID string, limit int) ([]*model.SignedQRRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.SignedQRRecord
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].LeafID != leafID {
			continue
		}
		cp := *s.records[i]
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// MemoryAuditStore is an in-memory AuditStore.
type MemoryAuditStore struct {
	mu   sync.Mutex
	logs []*model.AuditLog
}

// NewMemoryAuditStore creates an empty MemoryAuditStore.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) Create(_ context.Context, log *model.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *log
	s.logs = append(s.logs, &cp)
	return nil
}

func (s *MemoryAuditStore) ListByResource(_ context.Context, resourceType, resourceID string, limit int) ([]*model.AuditLog, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.AuditLog
	for i := len(s.logs) - 1; i >= 0; i-- {
		l := s.logs[i]
		if l.ResourceType == nil || l.ResourceID == nil ||
			*l.ResourceType != resourceType || *l.ResourceID != resourceID {
			continue
		}
		cp := *l
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Compile-time interface checks.
var (
	_ IssuerStore = (*IssuerRepository)(nil)
	_ IssuerStore = (*MemoryIssuerStore)(nil)
	_ LeafStore   = (*LeafRepository)(nil)
	_ LeafStore   = (*MemoryLeafStore)(nil)
	_ RecordStore = (*QRRecordRepository)(nil)
	_ RecordStore = (*MemoryRecordStore)(nil)
	_ AuditStore  = (*AuditRepository)(nil)
	_ AuditStore  = (*MemoryAuditStore)(nil)
)
