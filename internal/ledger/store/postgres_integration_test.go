//go:build integration

package store_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"clinicsync/internal/ledger"
	"clinicsync/internal/ledger/store"
	"clinicsync/pkg/testutil/containers"
)

type LedgerPostgresSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *store.PostgresStore
	ctx   context.Context
}

func TestLedgerPostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(LedgerPostgresSuite))
}

func (s *LedgerPostgresSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgresStore(s.pg.DB)
	s.ctx = context.Background()
}

func (s *LedgerPostgresSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(s.ctx, "change_records"))
}

func (s *LedgerPostgresSuite) append(seq int64, tenant, clinic, entityType, entityID, sourceDevice string) ledger.ChangeRecord {
	rec := ledger.ChangeRecord{
		ChangeID:       uuid.New(),
		SequenceNumber: seq,
		TenantID:       tenant,
		OrganizationID: "org-1",
		ClinicID:       clinic,
		EntityType:     entityType,
		EntityID:       entityID,
		Operation:      ledger.OperationUpdate,
		Data:           json.RawMessage(`{"v":1}`),
		Timestamp:      time.Now().UTC(),
		SourceDeviceID: sourceDevice,
	}
	s.Require().NoError(s.store.Append(s.ctx, rec))
	return rec
}

func (s *LedgerPostgresSuite) TestAppendRoundTrip() {
	want := ledger.ChangeRecord{
		ChangeID:       uuid.New(),
		SequenceNumber: 1,
		TenantID:       "t1",
		OrganizationID: "org-1",
		ClinicID:       "c1",
		EntityType:     "patients",
		EntityID:       "p1",
		Operation:      ledger.OperationInsert,
		Data:           json.RawMessage(`{"name":"Ada"}`),
		PreviousData:   json.RawMessage(`{"name":"Ada L."}`),
		Timestamp:      time.Now().UTC(),
		SourceDeviceID: uuid.NewString(),
		EventID:        "ev-1",
		EventType:      "sync.insert",
	}
	s.Require().NoError(s.store.Append(s.ctx, want))

	records, err := s.store.Since(s.ctx, ledger.Query{TenantID: "t1", Limit: 10})
	s.Require().NoError(err)
	s.Require().Len(records, 1)

	got := records[0]
	s.Equal(want.ChangeID, got.ChangeID)
	s.Equal(want.SequenceNumber, got.SequenceNumber)
	s.Equal(want.ClinicID, got.ClinicID)
	s.Equal(want.Operation, got.Operation)
	s.JSONEq(string(want.Data), string(got.Data))
	s.JSONEq(string(want.PreviousData), string(got.PreviousData))
	s.Equal(want.SourceDeviceID, got.SourceDeviceID)
	s.Equal(want.EventID, got.EventID)
	s.Equal(want.EventType, got.EventType)
	s.WithinDuration(want.Timestamp, got.Timestamp, time.Second)
}

func (s *LedgerPostgresSuite) TestAppendHandlesNullables() {
	rec := s.append(1, "t1", "", "patients", "p1", "")

	records, err := s.store.Since(s.ctx, ledger.Query{TenantID: "t1", Limit: 10})
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(rec.ChangeID, records[0].ChangeID)
	s.Empty(records[0].ClinicID)
	s.Empty(records[0].SourceDeviceID)
	s.Empty(records[0].PreviousData)
}

func (s *LedgerPostgresSuite) TestSinceFilters() {
	s.append(1, "t1", "c1", "patients", "p1", "d1")
	s.append(2, "t1", "c2", "patients", "p2", "d1")
	s.append(3, "t1", "", "settings", "s1", "")
	s.append(4, "t2", "", "patients", "p1", "d2")

	s.Run("cursor and tenant", func() {
		records, err := s.store.Since(s.ctx, ledger.Query{TenantID: "t1", SinceSequence: 1, Limit: 10})
		s.Require().NoError(err)
		s.Require().Len(records, 2)
		s.Equal(int64(2), records[0].SequenceNumber)
		s.Equal(int64(3), records[1].SequenceNumber)
	})

	s.Run("clinic scope includes untagged records", func() {
		records, err := s.store.Since(s.ctx, ledger.Query{TenantID: "t1", ClinicID: "c1", Limit: 10})
		s.Require().NoError(err)
		s.Require().Len(records, 2)
		s.Equal("p1", records[0].EntityID)
		s.Equal("s1", records[1].EntityID)
	})

	s.Run("entity type filter", func() {
		records, err := s.store.Since(s.ctx, ledger.Query{TenantID: "t1", EntityType: "settings", Limit: 10})
		s.Require().NoError(err)
		s.Require().Len(records, 1)
		s.Equal("s1", records[0].EntityID)
	})

	s.Run("limit truncates", func() {
		records, err := s.store.Since(s.ctx, ledger.Query{TenantID: "t1", Limit: 2})
		s.Require().NoError(err)
		s.Len(records, 2)
	})
}

func (s *LedgerPostgresSuite) TestSequenceQueries() {
	s.Run("empty store reports zero", func() {
		max, err := s.store.MaxSequence(s.ctx)
		s.Require().NoError(err)
		s.Zero(max)
	})

	s.append(3, "t1", "", "patients", "p1", "d1")
	s.append(7, "t2", "", "patients", "p1", "d2")

	s.Run("latest is tenant scoped", func() {
		latest, err := s.store.LatestSequence(s.ctx, "t1")
		s.Require().NoError(err)
		s.Equal(int64(3), latest)
	})

	s.Run("max spans all tenants", func() {
		max, err := s.store.MaxSequence(s.ctx)
		s.Require().NoError(err)
		s.Equal(int64(7), max)
	})
}

func (s *LedgerPostgresSuite) TestByEntityDescendingWindow() {
	for seq := int64(1); seq <= 7; seq++ {
		s.append(seq, "t1", "", "patients", "p1", "d1")
	}
	s.append(8, "t1", "", "patients", "p2", "d1")

	records, err := s.store.ByEntity(s.ctx, "t1", "patients", "p1", 5)
	s.Require().NoError(err)
	s.Require().Len(records, 5)
	s.Equal(int64(7), records[0].SequenceNumber)
	s.Equal(int64(3), records[4].SequenceNumber)
}
