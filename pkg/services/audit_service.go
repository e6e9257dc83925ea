package services

import (
	"context"

	"github.com/codeready-toolchain/remedy/pkg/models"
	"github.com/codeready-toolchain/remedy/pkg/store"
)

// AuditService reads the decision log.
type AuditService struct {
	store *store.Store
}

// NewAuditService creates an audit service.
func NewAuditService(st *store.Store) *AuditService {
	if st == nil {
		panic("NewAuditService: store must not be nil")
	}
	return &AuditService{store: st}
}

// List returns audit events matching the filter, newest first.
func (s *AuditService) List(ctx context.Context, filter store.AuditFilter) ([]models.AuditEvent, error) {
	return s.store.Audit.List(ctx, filter)
}

// ListForResource returns the audit trail of one resource in
// chronological order.
func (s *AuditService) ListForResource(ctx context.Context, resourceType, resourceID string) ([]models.AuditEvent, error) {
	return s.store.Audit.ListForResource(ctx, resourceType, resourceID)
}
