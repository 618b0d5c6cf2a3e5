package bridge_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"clinicsync/internal/bridge"
	"clinicsync/internal/ledger"
	ledgerstore "clinicsync/internal/ledger/store"
	"clinicsync/internal/platform/kafka/consumer"
	"clinicsync/internal/platform/metrics"
)

// failingStore wraps the in-memory ledger store and fails every append.
type failingStore struct {
	*ledgerstore.InMemoryStore
}

func (f *failingStore) Append(context.Context, ledger.ChangeRecord) error {
	return errors.New("store unavailable")
}

type BridgeSuite struct {
	suite.Suite
	store  *ledgerstore.InMemoryStore
	ledger *ledger.Service
	bridge *bridge.Bridge
	ctx    context.Context
}

func TestBridgeSuite(t *testing.T) {
	suite.Run(t, new(BridgeSuite))
}

func (s *BridgeSuite) SetupTest() {
	s.store = ledgerstore.NewInMemoryStore()
	s.ledger = ledger.NewService(s.store, ledger.NewCounter(0), slog.New(slog.DiscardHandler))
	s.bridge = bridge.New(
		s.ledger,
		bridge.DefaultMappingTable([]string{"patients", "scheduling"}),
		metrics.NewWith(prometheus.NewRegistry()),
		slog.New(slog.DiscardHandler),
		"sync",
	)
	s.ctx = context.Background()
}

func (s *BridgeSuite) message(topic string, env bridge.Envelope) *consumer.Message {
	value, err := json.Marshal(env)
	s.Require().NoError(err)
	return &consumer.Message{
		Topic:     topic,
		Key:       []byte(env.EventID),
		Value:     value,
		Timestamp: time.Now().UTC(),
	}
}

func (s *BridgeSuite) envelope(eventID string, payload string) bridge.Envelope {
	return bridge.Envelope{
		EventID:        eventID,
		Type:           "patient.admitted",
		Origin:         "his-core",
		Timestamp:      time.Now().UTC(),
		TenantID:       "t1",
		OrganizationID: "org-1",
		Payload:        json.RawMessage(payload),
	}
}

func (s *BridgeSuite) ledgerRecords() []ledger.ChangeRecord {
	records, err := s.ledger.Since(s.ctx, ledger.Query{TenantID: "t1", Limit: 100})
	s.Require().NoError(err)
	return records
}

func (s *BridgeSuite) TestTranslatesEventIntoLedgerRecord() {
	msg := s.message("patients.created", s.envelope("ev-1", `{"patientId":"p-42","name":"Ada"}`))

	s.Require().NoError(s.bridge.Handle(s.ctx, msg))

	records := s.ledgerRecords()
	s.Require().Len(records, 1)
	rec := records[0]
	s.Equal(int64(1), rec.SequenceNumber)
	s.Equal("patients", rec.EntityType)
	s.Equal("p-42", rec.EntityID)
	s.Equal(ledger.OperationInsert, rec.Operation)
	s.Empty(rec.SourceDeviceID)
	s.Equal("ev-1", rec.EventID)
	s.Equal("patient.admitted", rec.EventType)
	s.JSONEq(`{"patientId":"p-42","name":"Ada"}`, string(rec.Data))
}

func (s *BridgeSuite) TestEventTypeFallsBackToTopic() {
	env := s.envelope("ev-1", `{"patientId":"p-1"}`)
	env.Type = ""

	s.Require().NoError(s.bridge.Handle(s.ctx, s.message("patients.updated", env)))

	records := s.ledgerRecords()
	s.Require().Len(records, 1)
	s.Equal("patients.updated", records[0].EventType)
}

func (s *BridgeSuite) TestDropsOwnEvents() {
	env := s.envelope("ev-1", `{"patientId":"p-1"}`)
	env.Origin = "sync"

	s.Require().NoError(s.bridge.Handle(s.ctx, s.message("patients.created", env)))
	s.Empty(s.ledgerRecords())
}

func (s *BridgeSuite) TestDropsEventsWithoutTenant() {
	env := s.envelope("ev-1", `{"patientId":"p-1"}`)
	env.TenantID = ""

	s.Require().NoError(s.bridge.Handle(s.ctx, s.message("patients.created", env)))
	s.Empty(s.ledgerRecords())
}

func (s *BridgeSuite) TestDropsUnmappedTopics() {
	msg := s.message("billing.invoice.created", s.envelope("ev-1", `{"invoiceId":"i-1"}`))

	s.Require().NoError(s.bridge.Handle(s.ctx, msg))
	s.Empty(s.ledgerRecords())
}

func (s *BridgeSuite) TestDropsNonEntityEvents() {
	msg := s.message("patients.report.generated", s.envelope("ev-1", `{"reportName":"daily"}`))

	s.Require().NoError(s.bridge.Handle(s.ctx, msg))
	s.Empty(s.ledgerRecords())
}

func (s *BridgeSuite) TestDropsMalformedEnvelopes() {
	msg := &consumer.Message{
		Topic: "patients.created",
		Value: []byte("not json"),
	}

	s.Require().NoError(s.bridge.Handle(s.ctx, msg))
	s.Empty(s.ledgerRecords())
}

func (s *BridgeSuite) TestDropsRecordsFailingValidation() {
	env := s.envelope("ev-1", `{"patientId":"p-1"}`)
	env.OrganizationID = ""

	// The ledger refuses the record permanently; the bridge must still
	// acknowledge so the partition is not wedged.
	s.Require().NoError(s.bridge.Handle(s.ctx, s.message("patients.created", env)))
	s.Empty(s.ledgerRecords())
}

func (s *BridgeSuite) TestAppendFailureLeavesMessageUnacked() {
	failing := ledger.NewService(
		&failingStore{ledgerstore.NewInMemoryStore()},
		ledger.NewCounter(0),
		slog.New(slog.DiscardHandler),
	)
	b := bridge.New(
		failing,
		bridge.DefaultMappingTable([]string{"patients"}),
		metrics.NewWith(prometheus.NewRegistry()),
		slog.New(slog.DiscardHandler),
		"sync",
	)

	msg := s.message("patients.created", s.envelope("ev-1", `{"patientId":"p-1"}`))
	s.Error(b.Handle(s.ctx, msg))
}
