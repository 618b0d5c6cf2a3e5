package device

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"clinicsync/internal/platform/metrics"
	domainerrors "clinicsync/pkg/domain-errors"
)

// Service is the device registry: identity, fingerprint deduplication, token
// issuance, revocation, and liveness. Operations are independent per device;
// no cross-device locking is required.
type Service struct {
	store    Store
	tokens   *TokenService
	liveness LivenessTracker
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tokenTTL time.Duration
}

func NewService(
	store Store,
	tokens *TokenService,
	liveness LivenessTracker,
	metrics *metrics.Metrics,
	logger *slog.Logger,
	tokenTTL time.Duration,
) *Service {
	return &Service{
		store:    store,
		tokens:   tokens,
		liveness: liveness,
		metrics:  metrics,
		logger:   logger,
		tokenTTL: tokenTTL,
	}
}

// Register creates an ACTIVE device and mints its access token. A second
// registration for the same (tenant, organization, hardwareHash) while the
// first is still ACTIVE is a Conflict; nothing is persisted in that case.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	if req.TenantID == "" || req.OrganizationID == "" || req.UserID == "" {
		return RegisterResult{}, domainerrors.New(domainerrors.CodeBadRequest, "tenant, organization and user are required")
	}
	if req.Metadata.HardwareHash == "" {
		return RegisterResult{}, domainerrors.New(domainerrors.CodeBadRequest, "hardware hash is required")
	}
	if !req.Metadata.Platform.Valid() {
		return RegisterResult{}, domainerrors.New(domainerrors.CodeBadRequest, "unknown platform: "+string(req.Metadata.Platform))
	}

	existing, err := s.store.FindActiveByHardware(ctx, req.TenantID, req.OrganizationID, req.Metadata.HardwareHash)
	if err != nil && !errors.Is(err, ErrNotFound) && !domainerrors.Is(err, domainerrors.CodeNotFound) {
		return RegisterResult{}, domainerrors.New(domainerrors.CodeInternal, "failed to check hardware fingerprint")
	}
	if err == nil {
		s.logger.WarnContext(ctx, "duplicate device registration rejected",
			"tenant_id", req.TenantID,
			"existing_device_id", existing.DeviceID,
		)
		return RegisterResult{}, ErrDuplicateHardware
	}

	name := req.DeviceName
	if name == "" {
		name = FallbackDeviceName(req.UserAgent)
	}

	now := time.Now().UTC()
	d := Device{
		DeviceID:       uuid.New(),
		DeviceName:     name,
		TenantID:       req.TenantID,
		OrganizationID: req.OrganizationID,
		ClinicID:       req.ClinicID,
		UserID:         req.UserID,
		Metadata:       req.Metadata,
		Status:         StatusActive,
		LastSeenAt:     now,
		RegisteredAt:   now,
	}

	token, err := s.tokens.GenerateDeviceToken(d, s.tokenTTL)
	if err != nil {
		s.logger.ErrorContext(ctx, "device token generation failed", "error", err)
		return RegisterResult{}, domainerrors.New(domainerrors.CodeInternal, "failed to issue device token")
	}
	d.AccessToken = token

	if err := s.store.Save(ctx, d); err != nil {
		// A concurrent registration can slip past the fingerprint
		// pre-check; the store's uniqueness guarantee catches it.
		if domainerrors.Is(err, domainerrors.CodeConflict) {
			s.logger.WarnContext(ctx, "duplicate device registration lost the race",
				"tenant_id", req.TenantID,
			)
			return RegisterResult{}, err
		}
		s.logger.ErrorContext(ctx, "device save failed", "error", err)
		return RegisterResult{}, domainerrors.New(domainerrors.CodeInternal, "failed to register device")
	}
	s.metrics.DevicesRegistered.Inc()

	return RegisterResult{
		DeviceID:          d.DeviceID,
		DeviceAccessToken: token,
		ExpiresIn:         int64(s.tokenTTL.Seconds()),
		RegisteredAt:      d.RegisteredAt,
	}, nil
}

// Verify is the authorization gate before any sync operation: it returns the
// device only while it is ACTIVE and bumps lastSeenAt as a side effect.
func (s *Service) Verify(ctx context.Context, deviceID uuid.UUID, tenantID string) (*Device, error) {
	d, err := s.store.FindByID(ctx, deviceID, tenantID)
	if err != nil {
		return nil, domainerrors.New(domainerrors.CodeUnauthorized, "unknown device")
	}
	if d.Status != StatusActive {
		return nil, domainerrors.New(domainerrors.CodeUnauthorized, "device is not active")
	}

	now := time.Now().UTC()
	if err := s.store.UpdateLastSeen(ctx, deviceID, tenantID, now); err != nil {
		// Liveness bookkeeping must not block a sync.
		s.logger.WarnContext(ctx, "failed to update device last seen",
			"device_id", deviceID,
			"error", err,
		)
	}
	if s.liveness != nil {
		if err := s.liveness.Touch(ctx, tenantID, deviceID.String(), now); err != nil {
			s.logger.WarnContext(ctx, "liveness touch failed",
				"device_id", deviceID,
				"error", err,
			)
		}
	}
	d.LastSeenAt = now
	return &d, nil
}

// Revoke permanently deactivates a device. Revoking an unknown or already
// revoked device is an authorization error; the transition is one-shot.
func (s *Service) Revoke(ctx context.Context, deviceID uuid.UUID, tenantID string) error {
	err := s.store.MarkRevoked(ctx, deviceID, tenantID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, ErrNotFound) || domainerrors.Is(err, domainerrors.CodeNotFound) {
			return domainerrors.New(domainerrors.CodeUnauthorized, "device not found or already revoked")
		}
		s.logger.ErrorContext(ctx, "device revoke failed", "device_id", deviceID, "error", err)
		return domainerrors.New(domainerrors.CodeInternal, "failed to revoke device")
	}
	s.metrics.DevicesRevoked.Inc()
	return nil
}

// ListActiveByUser returns the user's active devices, most recently seen
// first, annotated with cached liveness when a tracker is configured.
func (s *Service) ListActiveByUser(ctx context.Context, userID, tenantID string) ([]Device, error) {
	devices, err := s.store.ListActiveByUser(ctx, userID, tenantID)
	if err != nil {
		return nil, domainerrors.New(domainerrors.CodeInternal, "failed to list devices")
	}
	if s.liveness != nil && len(devices) > 0 {
		ids := make([]string, len(devices))
		for i, d := range devices {
			ids[i] = d.DeviceID.String()
		}
		online, err := s.liveness.Online(ctx, tenantID, ids)
		if err != nil {
			s.logger.WarnContext(ctx, "liveness lookup failed", "error", err)
		} else {
			for i := range devices {
				devices[i].Online = online[devices[i].DeviceID.String()]
			}
		}
	}
	return devices, nil
}
