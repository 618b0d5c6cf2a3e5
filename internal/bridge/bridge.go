package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"clinicsync/internal/ledger"
	"clinicsync/internal/platform/kafka/consumer"
	"clinicsync/internal/platform/metrics"
	domainerrors "clinicsync/pkg/domain-errors"
)

// Envelope is the shared event feed's message shape. Payload stays opaque to
// the bridge beyond the id-field scan.
type Envelope struct {
	EventID        string          `json:"eventId"`
	Type           string          `json:"type"`
	Origin         string          `json:"origin"`
	Timestamp      time.Time       `json:"timestamp"`
	TenantID       string          `json:"tenantId"`
	OrganizationID string          `json:"organizationId"`
	ClinicID       string          `json:"clinicId,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

// Bridge translates business-domain events into ledger records so the ledger
// stays complete even for changes made through non-sync channels.
//
// A message is acknowledged only after a successful append; append failures
// leave it for redelivery (at-least-once). The ledger does not deduplicate by
// eventId, so redelivery can create duplicate records - an accepted open
// risk.
type Bridge struct {
	ledger  *ledger.Service
	table   *MappingTable
	metrics *metrics.Metrics
	logger  *slog.Logger
	// origin marks events produced by this subsystem; they are skipped by
	// identity to prevent feedback loops.
	origin string
}

func New(lgr *ledger.Service, table *MappingTable, m *metrics.Metrics, logger *slog.Logger, origin string) *Bridge {
	return &Bridge{
		ledger:  lgr,
		table:   table,
		metrics: m,
		logger:  logger,
		origin:  origin,
	}
}

// TopicPatterns returns the regex subscriptions for the consumer, one
// domain-prefixed wildcard per business domain.
func TopicPatterns(domains []string) []string {
	patterns := make([]string, 0, len(domains))
	for _, d := range domains {
		patterns = append(patterns, "^"+d+"\\..*")
	}
	return patterns
}

// Handle implements consumer.Handler. Returning nil acknowledges the message;
// only append failures return an error.
func (b *Bridge) Handle(ctx context.Context, msg *consumer.Message) error {
	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		// Malformed messages cannot be repaired by redelivery.
		b.logger.ErrorContext(ctx, "dropping malformed event envelope",
			"topic", msg.Topic,
			"error", err,
		)
		b.metrics.BridgeDropped.Inc()
		return nil
	}

	if env.Origin == b.origin {
		b.metrics.BridgeDropped.Inc()
		return nil
	}
	if env.TenantID == "" {
		b.logger.WarnContext(ctx, "dropping event without tenant scope",
			"topic", msg.Topic,
			"event_id", env.EventID,
		)
		b.metrics.BridgeDropped.Inc()
		return nil
	}

	mapping, ok := b.table.Resolve(msg.Topic)
	if !ok {
		// Unmapped topics are not ours to record.
		b.metrics.BridgeDropped.Inc()
		return nil
	}

	entityID := mapping.DeriveEntityID(env.Payload)
	if entityID == "" {
		// Non-entity event (report generated, job finished, ...).
		b.logger.DebugContext(ctx, "skipping non-entity event",
			"topic", msg.Topic,
			"event_id", env.EventID,
		)
		b.metrics.BridgeDropped.Inc()
		return nil
	}

	eventType := env.Type
	if eventType == "" {
		eventType = msg.Topic
	}
	record := ledger.ChangeRecord{
		TenantID:       env.TenantID,
		OrganizationID: env.OrganizationID,
		ClinicID:       env.ClinicID,
		EntityType:     mapping.DeriveEntityType(msg.Topic),
		EntityID:       entityID,
		Operation:      mapping.DeriveOperation(msg.Topic),
		Data:           env.Payload,
		Timestamp:      env.Timestamp,
		EventID:        env.EventID,
		EventType:      eventType,
	}

	if _, err := b.ledger.Append(ctx, record); err != nil {
		if domainerrors.Is(err, domainerrors.CodeBadRequest) {
			// A validation failure is permanent; redelivery cannot fix it.
			b.logger.ErrorContext(ctx, "dropping event rejected by ledger",
				"topic", msg.Topic,
				"event_id", env.EventID,
				"error", err,
			)
			b.metrics.BridgeDropped.Inc()
			return nil
		}
		b.metrics.BridgeFailed.Inc()
		return err
	}
	b.metrics.ChangesAppended.WithLabelValues("bridge").Inc()
	b.metrics.BridgeConsumed.Inc()
	return nil
}
