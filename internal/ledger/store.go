package ledger

import "context"

// Store persists change records. Implementations must keep every read and
// write scoped by tenant; cross-tenant leakage is a correctness bug, not a
// performance concern.
type Store interface {
	// Append persists a record whose sequence number is already assigned.
	Append(ctx context.Context, record ChangeRecord) error
	// Since returns records with sequenceNumber > q.SinceSequence,
	// ascending, at most q.Limit.
	Since(ctx context.Context, q Query) ([]ChangeRecord, error)
	// LatestSequence returns the max sequence number for one tenant
	// (zero when the tenant has no records).
	LatestSequence(ctx context.Context, tenantID string) (int64, error)
	// MaxSequence returns the max sequence number across all tenants,
	// used only for cold-start counter seeding.
	MaxSequence(ctx context.Context) (int64, error)
	// ByEntity returns the most recent records for one entity, sequence
	// descending, at most limit.
	ByEntity(ctx context.Context, tenantID, entityType, entityID string, limit int) ([]ChangeRecord, error)
}
