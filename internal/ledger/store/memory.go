package store

import (
	"context"
	"sort"
	"sync"

	"clinicsync/internal/ledger"
)

// InMemoryStore keeps the ledger in a slice guarded by a RWMutex. It
// intentionally favors clarity over performance and is the default for tests
// and development.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []ledger.ChangeRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, record ledger.ChangeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *InMemoryStore) Since(_ context.Context, q ledger.Query) ([]ledger.ChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []ledger.ChangeRecord
	for _, rec := range s.records {
		if matchesQuery(rec, q) {
			matched = append(matched, rec)
		}
	}
	// Concurrent appenders may land in the slice out of sequence order.
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].SequenceNumber < matched[j].SequenceNumber
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func matchesQuery(rec ledger.ChangeRecord, q ledger.Query) bool {
	if rec.TenantID != q.TenantID || rec.SequenceNumber <= q.SinceSequence {
		return false
	}
	if q.OrganizationID != "" && rec.OrganizationID != q.OrganizationID {
		return false
	}
	// Clinic scope includes org-level records with no clinic tag.
	if q.ClinicID != "" && rec.ClinicID != "" && rec.ClinicID != q.ClinicID {
		return false
	}
	if q.EntityType != "" && rec.EntityType != q.EntityType {
		return false
	}
	return true
}

func (s *InMemoryStore) LatestSequence(_ context.Context, tenantID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest int64
	for _, rec := range s.records {
		if rec.TenantID == tenantID && rec.SequenceNumber > latest {
			latest = rec.SequenceNumber
		}
	}
	return latest, nil
}

func (s *InMemoryStore) MaxSequence(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest int64
	for _, rec := range s.records {
		if rec.SequenceNumber > latest {
			latest = rec.SequenceNumber
		}
	}
	return latest, nil
}

func (s *InMemoryStore) ByEntity(_ context.Context, tenantID, entityType, entityID string, limit int) ([]ledger.ChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []ledger.ChangeRecord
	for _, rec := range s.records {
		if rec.TenantID == tenantID && rec.EntityType == entityType && rec.EntityID == entityID {
			matched = append(matched, rec)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].SequenceNumber > matched[j].SequenceNumber
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
