//go:build integration

package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"clinicsync/internal/device"
	"clinicsync/internal/device/store"
	"clinicsync/pkg/testutil/containers"
)

type DevicePostgresSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *store.PostgresStore
	ctx   context.Context
}

func TestDevicePostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(DevicePostgresSuite))
}

func (s *DevicePostgresSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgresStore(s.pg.DB)
	s.ctx = context.Background()
}

func (s *DevicePostgresSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(s.ctx, "devices"))
}

func (s *DevicePostgresSuite) device(userID, hardwareHash string) device.Device {
	now := time.Now().UTC()
	return device.Device{
		DeviceID:       uuid.New(),
		DeviceName:     "Front Desk PC",
		TenantID:       "t1",
		OrganizationID: "org-1",
		ClinicID:       "c1",
		UserID:         userID,
		Metadata: device.Metadata{
			Platform:      device.PlatformWindows,
			OSVersion:     "10.0.22631",
			AppVersion:    "2.4.1",
			HardwareHash:  hardwareHash,
			CPUArch:       "amd64",
			TotalMemoryMB: 16384,
		},
		Status:       device.StatusActive,
		AccessToken:  "signed-token",
		LastSeenAt:   now,
		RegisteredAt: now,
	}
}

func (s *DevicePostgresSuite) TestSaveAndFindByID() {
	want := s.device("u1", "hw-1")
	s.Require().NoError(s.store.Save(s.ctx, want))

	got, err := s.store.FindByID(s.ctx, want.DeviceID, "t1")
	s.Require().NoError(err)
	s.Equal(want.DeviceID, got.DeviceID)
	s.Equal(want.DeviceName, got.DeviceName)
	s.Equal(want.Metadata, got.Metadata)
	s.Equal(device.StatusActive, got.Status)
	s.Equal("signed-token", got.AccessToken)
	s.Nil(got.RevokedAt)

	s.Run("wrong tenant is not found", func() {
		_, err := s.store.FindByID(s.ctx, want.DeviceID, "t2")
		s.True(errors.Is(err, device.ErrNotFound))
	})
}

func (s *DevicePostgresSuite) TestFindActiveByHardware() {
	d := s.device("u1", "hw-1")
	s.Require().NoError(s.store.Save(s.ctx, d))

	found, err := s.store.FindActiveByHardware(s.ctx, "t1", "org-1", "hw-1")
	s.Require().NoError(err)
	s.Equal(d.DeviceID, found.DeviceID)

	s.Run("other organization is not found", func() {
		_, err := s.store.FindActiveByHardware(s.ctx, "t1", "org-2", "hw-1")
		s.True(errors.Is(err, device.ErrNotFound))
	})

	s.Run("revoked device is not found", func() {
		s.Require().NoError(s.store.MarkRevoked(s.ctx, d.DeviceID, "t1", time.Now().UTC()))
		_, err := s.store.FindActiveByHardware(s.ctx, "t1", "org-1", "hw-1")
		s.True(errors.Is(err, device.ErrNotFound))
	})
}

func (s *DevicePostgresSuite) TestActiveUniqueIndexBlocksDuplicates() {
	s.Require().NoError(s.store.Save(s.ctx, s.device("u1", "hw-1")))

	err := s.store.Save(s.ctx, s.device("u2", "hw-1"))
	s.True(errors.Is(err, device.ErrDuplicateHardware))

	s.Run("revoked rows do not block", func() {
		revoked := s.device("u3", "hw-2")
		s.Require().NoError(s.store.Save(s.ctx, revoked))
		s.Require().NoError(s.store.MarkRevoked(s.ctx, revoked.DeviceID, "t1", time.Now().UTC()))
		s.NoError(s.store.Save(s.ctx, s.device("u3", "hw-2")))
	})
}

func (s *DevicePostgresSuite) TestMarkRevokedIsOneShot() {
	d := s.device("u1", "hw-1")
	s.Require().NoError(s.store.Save(s.ctx, d))

	revokedAt := time.Now().UTC()
	s.Require().NoError(s.store.MarkRevoked(s.ctx, d.DeviceID, "t1", revokedAt))

	got, err := s.store.FindByID(s.ctx, d.DeviceID, "t1")
	s.Require().NoError(err)
	s.Equal(device.StatusRevoked, got.Status)
	s.Require().NotNil(got.RevokedAt)
	s.WithinDuration(revokedAt, *got.RevokedAt, time.Second)

	err = s.store.MarkRevoked(s.ctx, d.DeviceID, "t1", time.Now().UTC())
	s.True(errors.Is(err, device.ErrNotFound))
}

func (s *DevicePostgresSuite) TestUpdateLastSeen() {
	d := s.device("u1", "hw-1")
	s.Require().NoError(s.store.Save(s.ctx, d))

	seen := time.Now().UTC().Add(time.Hour)
	s.Require().NoError(s.store.UpdateLastSeen(s.ctx, d.DeviceID, "t1", seen))

	got, err := s.store.FindByID(s.ctx, d.DeviceID, "t1")
	s.Require().NoError(err)
	s.WithinDuration(seen, got.LastSeenAt, time.Second)

	s.Run("unknown device errors", func() {
		err := s.store.UpdateLastSeen(s.ctx, uuid.New(), "t1", seen)
		s.True(errors.Is(err, device.ErrNotFound))
	})
}

func (s *DevicePostgresSuite) TestListActiveByUserOrdering() {
	older := s.device("u1", "hw-1")
	older.LastSeenAt = time.Now().UTC().Add(-time.Hour)
	newer := s.device("u1", "hw-2")
	revoked := s.device("u1", "hw-3")
	other := s.device("u2", "hw-4")

	for _, d := range []device.Device{older, newer, revoked, other} {
		s.Require().NoError(s.store.Save(s.ctx, d))
	}
	s.Require().NoError(s.store.MarkRevoked(s.ctx, revoked.DeviceID, "t1", time.Now().UTC()))

	devices, err := s.store.ListActiveByUser(s.ctx, "u1", "t1")
	s.Require().NoError(err)
	s.Require().Len(devices, 2)
	s.Equal(newer.DeviceID, devices[0].DeviceID)
	s.Equal(older.DeviceID, devices[1].DeviceID)
}
