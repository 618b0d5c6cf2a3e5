//go:build integration

package bridge_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"clinicsync/internal/bridge"
	"clinicsync/internal/ledger"
	ledgerstore "clinicsync/internal/ledger/store"
	"clinicsync/internal/platform/config"
	"clinicsync/internal/platform/kafka/consumer"
	"clinicsync/internal/platform/metrics"
	"clinicsync/pkg/testutil/containers"
)

func TestBridgeConsumesDomainEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	rp := containers.NewRedpandaContainer(t)

	producer, err := kgo.NewClient(kgo.SeedBrokers(rp.Broker))
	require.NoError(t, err)
	t.Cleanup(producer.Close)

	createTopic(t, producer, "patients.created")

	store := ledgerstore.NewInMemoryStore()
	lgr := ledger.NewService(store, ledger.NewCounter(0), slog.New(slog.DiscardHandler))
	b := bridge.New(
		lgr,
		bridge.DefaultMappingTable([]string{"patients"}),
		metrics.NewWith(prometheus.NewRegistry()),
		slog.New(slog.DiscardHandler),
		"sync",
	)

	cfg := config.KafkaConfig{
		Brokers:    []string{rp.Broker},
		Group:      "bridge-test",
		BackoffCap: 5 * time.Second,
	}
	c, err := consumer.New(cfg, bridge.TopicPatterns([]string{"patients"}), b, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(c.Close)

	runCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	go func() { _ = c.Run(runCtx) }()

	produce(t, producer, "patients.created", bridge.Envelope{
		EventID:        "ev-1",
		Type:           "patient.admitted",
		Origin:         "his-core",
		Timestamp:      time.Now().UTC(),
		TenantID:       "t1",
		OrganizationID: "org-1",
		Payload:        json.RawMessage(`{"patientId":"p-42","name":"Ada"}`),
	})
	// The bridge's own events on the feed must not loop back.
	produce(t, producer, "patients.created", bridge.Envelope{
		EventID:        "ev-2",
		Type:           "patient.admitted",
		Origin:         "sync",
		Timestamp:      time.Now().UTC(),
		TenantID:       "t1",
		OrganizationID: "org-1",
		Payload:        json.RawMessage(`{"patientId":"p-43"}`),
	})
	produce(t, producer, "patients.created", bridge.Envelope{
		EventID:        "ev-3",
		Type:           "patient.admitted",
		Origin:         "his-core",
		Timestamp:      time.Now().UTC(),
		TenantID:       "t1",
		OrganizationID: "org-1",
		Payload:        json.RawMessage(`{"patientId":"p-44"}`),
	})

	require.Eventually(t, func() bool {
		records, err := lgr.Since(ctx, ledger.Query{TenantID: "t1", Limit: 10})
		return err == nil && len(records) == 2
	}, 30*time.Second, 200*time.Millisecond)

	records, err := lgr.Since(ctx, ledger.Query{TenantID: "t1", Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "p-42", records[0].EntityID)
	require.Equal(t, "p-44", records[1].EntityID)
	require.Equal(t, ledger.OperationInsert, records[0].Operation)
	require.Equal(t, "ev-1", records[0].EventID)
	require.Empty(t, records[0].SourceDeviceID)
}

func createTopic(t *testing.T, client *kgo.Client, topic string) {
	t.Helper()
	req := kmsg.NewPtrCreateTopicsRequest()
	reqTopic := kmsg.NewCreateTopicsRequestTopic()
	reqTopic.Topic = topic
	reqTopic.NumPartitions = 1
	reqTopic.ReplicationFactor = 1
	req.Topics = append(req.Topics, reqTopic)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := req.RequestWith(ctx, client)
	require.NoError(t, err)
	require.Len(t, resp.Topics, 1)
}

func produce(t *testing.T, client *kgo.Client, topic string, env bridge.Envelope) {
	t.Helper()
	value, err := json.Marshal(env)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	results := client.ProduceSync(ctx, &kgo.Record{
		Topic: topic,
		Key:   []byte(env.EventID),
		Value: value,
	})
	require.NoError(t, results.FirstErr())
}
