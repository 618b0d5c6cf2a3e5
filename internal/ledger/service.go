package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	domainerrors "clinicsync/pkg/domain-errors"
)

// Service is the append-only sequence ledger: the source of truth for what
// changed and in what order. Appends from every producer (sync coordinator,
// event bridge) serialize through the injected SequenceAuthority.
type Service struct {
	store  Store
	seq    SequenceAuthority
	logger *slog.Logger
}

func NewService(store Store, seq SequenceAuthority, logger *slog.Logger) *Service {
	return &Service{store: store, seq: seq, logger: logger}
}

// Append assigns the next sequence number and persists the record. The
// record's ChangeID and Timestamp are filled in when absent. A failed persist
// burns the drawn sequence number; gaps are fine, reuse is not.
func (s *Service) Append(ctx context.Context, record ChangeRecord) (ChangeRecord, error) {
	if record.TenantID == "" || record.OrganizationID == "" {
		return ChangeRecord{}, domainerrors.New(domainerrors.CodeBadRequest, "change record requires tenant and organization")
	}
	if record.EntityType == "" || record.EntityID == "" {
		return ChangeRecord{}, domainerrors.New(domainerrors.CodeBadRequest, "change record requires entity type and id")
	}
	if !record.Operation.Valid() {
		return ChangeRecord{}, domainerrors.New(domainerrors.CodeBadRequest, "unknown operation: "+string(record.Operation))
	}

	if record.ChangeID == uuid.Nil {
		record.ChangeID = uuid.New()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	record.SequenceNumber = s.seq.Next()

	if err := s.store.Append(ctx, record); err != nil {
		s.logger.ErrorContext(ctx, "ledger append failed",
			"tenant_id", record.TenantID,
			"entity_type", record.EntityType,
			"sequence", record.SequenceNumber,
			"error", err,
		)
		return ChangeRecord{}, domainerrors.New(domainerrors.CodeInternal, "failed to append change record")
	}
	return record, nil
}

// Since returns records newer than the query cursor, ascending. Callers infer
// hasMore from len(result) == q.Limit.
func (s *Service) Since(ctx context.Context, q Query) ([]ChangeRecord, error) {
	if q.TenantID == "" {
		return nil, domainerrors.New(domainerrors.CodeBadRequest, "tenant is required")
	}
	if q.Limit <= 0 {
		q.Limit = 100
	}
	records, err := s.store.Since(ctx, q)
	if err != nil {
		return nil, domainerrors.New(domainerrors.CodeInternal, "failed to read change records")
	}
	return records, nil
}

// Latest returns the tenant's current max sequence number, used to report a
// sync cursor even when no changes are pending.
func (s *Service) Latest(ctx context.Context, tenantID string) (int64, error) {
	if tenantID == "" {
		return 0, domainerrors.New(domainerrors.CodeBadRequest, "tenant is required")
	}
	seq, err := s.store.LatestSequence(ctx, tenantID)
	if err != nil {
		return 0, domainerrors.New(domainerrors.CodeInternal, "failed to read latest sequence")
	}
	return seq, nil
}

// ByEntity returns the most recent limit records for one entity, sequence
// descending - the window the coordinator inspects for conflicts.
func (s *Service) ByEntity(ctx context.Context, tenantID, entityType, entityID string, limit int) ([]ChangeRecord, error) {
	if tenantID == "" {
		return nil, domainerrors.New(domainerrors.CodeBadRequest, "tenant is required")
	}
	if limit <= 0 {
		limit = 5
	}
	records, err := s.store.ByEntity(ctx, tenantID, entityType, entityID, limit)
	if err != nil {
		return nil, domainerrors.New(domainerrors.CodeInternal, "failed to read entity history")
	}
	return records, nil
}
