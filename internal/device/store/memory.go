package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"clinicsync/internal/device"
)

// InMemoryStore keeps devices in a map guarded by a RWMutex.
type InMemoryStore struct {
	mu      sync.RWMutex
	devices map[uuid.UUID]device.Device
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{devices: make(map[uuid.UUID]device.Device)}
}

func (s *InMemoryStore) Save(_ context.Context, d device.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Mirror the partial unique index the postgres store relies on.
	if d.Status == device.StatusActive {
		for _, other := range s.devices {
			if other.DeviceID != d.DeviceID &&
				other.TenantID == d.TenantID &&
				other.OrganizationID == d.OrganizationID &&
				other.Metadata.HardwareHash == d.Metadata.HardwareHash &&
				other.Status == device.StatusActive {
				return device.ErrDuplicateHardware
			}
		}
	}
	s.devices[d.DeviceID] = d
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, deviceID uuid.UUID, tenantID string) (device.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.devices[deviceID]; ok && d.TenantID == tenantID {
		return d, nil
	}
	return device.Device{}, device.ErrNotFound
}

func (s *InMemoryStore) FindActiveByHardware(_ context.Context, tenantID, organizationID, hardwareHash string) (device.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.devices {
		if d.TenantID == tenantID &&
			d.OrganizationID == organizationID &&
			d.Metadata.HardwareHash == hardwareHash &&
			d.Status == device.StatusActive {
			return d, nil
		}
	}
	return device.Device{}, device.ErrNotFound
}

func (s *InMemoryStore) UpdateLastSeen(_ context.Context, deviceID uuid.UUID, tenantID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok || d.TenantID != tenantID {
		return device.ErrNotFound
	}
	d.LastSeenAt = at
	s.devices[deviceID] = d
	return nil
}

func (s *InMemoryStore) MarkRevoked(_ context.Context, deviceID uuid.UUID, tenantID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok || d.TenantID != tenantID || d.Status != device.StatusActive {
		return device.ErrNotFound
	}
	d.Status = device.StatusRevoked
	d.RevokedAt = &at
	s.devices[deviceID] = d
	return nil
}

func (s *InMemoryStore) ListActiveByUser(_ context.Context, userID, tenantID string) ([]device.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []device.Device
	for _, d := range s.devices {
		if d.TenantID == tenantID && d.UserID == userID && d.Status == device.StatusActive {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeenAt.After(out[j].LastSeenAt)
	})
	return out, nil
}
