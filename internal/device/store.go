package device

import (
	"context"
	"time"

	"github.com/google/uuid"

	domainerrors "clinicsync/pkg/domain-errors"
)

// ErrNotFound keeps store-level misses consistent across implementations.
var ErrNotFound = domainerrors.New(domainerrors.CodeNotFound, "device not found")

// ErrDuplicateHardware is returned by Save when another ACTIVE device holds
// the same (tenant, organization, hardwareHash). The service pre-checks the
// fingerprint, but two concurrent registrations can both pass that check;
// the store is the authority of last resort.
var ErrDuplicateHardware = domainerrors.New(domainerrors.CodeConflict, "an active device already exists for this hardware")

// Store persists devices. Every lookup is tenant-scoped.
type Store interface {
	Save(ctx context.Context, device Device) error
	FindByID(ctx context.Context, deviceID uuid.UUID, tenantID string) (Device, error)
	// FindActiveByHardware returns the ACTIVE device with the given
	// hardware fingerprint, or ErrNotFound.
	FindActiveByHardware(ctx context.Context, tenantID, organizationID, hardwareHash string) (Device, error)
	UpdateLastSeen(ctx context.Context, deviceID uuid.UUID, tenantID string, at time.Time) error
	// MarkRevoked flips an ACTIVE device to REVOKED. Returns ErrNotFound
	// when the device is missing or already revoked (revocation is
	// one-shot).
	MarkRevoked(ctx context.Context, deviceID uuid.UUID, tenantID string, at time.Time) error
	// ListActiveByUser returns the user's ACTIVE devices, most recently
	// seen first.
	ListActiveByUser(ctx context.Context, userID, tenantID string) ([]Device, error)
}

// LivenessTracker records device activity out-of-band so verify does not
// have to be the only source of "is this device online" answers.
type LivenessTracker interface {
	Touch(ctx context.Context, tenantID, deviceID string, at time.Time) error
	Online(ctx context.Context, tenantID string, deviceIDs []string) (map[string]bool, error)
}
