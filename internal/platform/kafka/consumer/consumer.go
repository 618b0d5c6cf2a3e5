package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"clinicsync/internal/platform/config"
)

// Message is the transport-agnostic view of one inbound event.
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Handler processes one message. Returning an error leaves the message (and
// the rest of its partition fetch) uncommitted for redelivery.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// Consumer wraps a franz-go consumer group client with manual commits.
// Commits cover only the successfully handled prefix of each partition, and a
// handler failure rewinds the partition's consume position to the failed
// record, so it is fetched and handled again rather than silently skipped.
type Consumer struct {
	client     *kgo.Client
	handler    Handler
	logger     *slog.Logger
	backoffCap time.Duration
}

// New connects to the brokers and subscribes to the given topic regex
// patterns. An unreachable cluster is a fatal startup error.
func New(cfg config.KafkaConfig, patterns []string, handler Handler, logger *slog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer: no brokers configured")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(patterns...),
		kgo.ConsumeRegex(),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka consumer: initial connect: %w", err)
	}

	backoffCap := cfg.BackoffCap
	if backoffCap <= 0 {
		backoffCap = 2 * time.Minute
	}

	return &Consumer{
		client:     client,
		handler:    handler,
		logger:     logger,
		backoffCap: backoffCap,
	}, nil
}

// Run polls until the context is cancelled. Poll errors and handler failures
// back off exponentially up to the configured cap.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			fatal := false
			for _, fe := range errs {
				if errors.Is(fe.Err, context.Canceled) {
					return ctx.Err()
				}
				c.logger.Error("kafka fetch error",
					"topic", fe.Topic,
					"partition", fe.Partition,
					"error", fe.Err,
				)
				fatal = true
			}
			if fatal {
				if err := c.sleep(ctx, backoff); err != nil {
					return err
				}
				backoff = min(backoff*2, c.backoffCap)
				continue
			}
		}

		var commit []*kgo.Record
		rewinds := map[string]map[int32]kgo.EpochOffset{}
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			handled, failed, err := consumePartition(ctx, c.handler, p.Records)
			commit = append(commit, handled...)
			if failed == nil {
				return
			}
			c.logger.Error("message handling failed, rewinding partition",
				"topic", failed.Topic,
				"partition", failed.Partition,
				"offset", failed.Offset,
				"error", err,
			)
			byPartition := rewinds[failed.Topic]
			if byPartition == nil {
				byPartition = map[int32]kgo.EpochOffset{}
				rewinds[failed.Topic] = byPartition
			}
			byPartition[failed.Partition] = kgo.EpochOffset{
				Epoch:  failed.LeaderEpoch,
				Offset: failed.Offset,
			}
		})

		if len(commit) > 0 {
			if err := c.client.CommitRecords(ctx, commit...); err != nil {
				c.logger.Error("kafka commit failed", "error", err)
			}
		}
		if len(rewinds) > 0 {
			// PollFetches advances from the client's in-memory position,
			// not the committed offset, so leaving a record uncommitted
			// does not bring it back. The position itself must be moved
			// to the failed record for redelivery.
			c.client.SetOffsets(rewinds)
			if err := c.sleep(ctx, backoff); err != nil {
				return err
			}
			backoff = min(backoff*2, c.backoffCap)
			continue
		}
		backoff = time.Second
	}
}

// consumePartition runs the handler over one partition's records in order.
// On a handler failure it stops and returns the failed record; the remaining
// records stay untouched so the rewind replays them in order.
func consumePartition(ctx context.Context, h Handler, records []*kgo.Record) (handled []*kgo.Record, failed *kgo.Record, err error) {
	for _, rec := range records {
		if err := h.Handle(ctx, fromRecord(rec)); err != nil {
			return handled, rec, err
		}
		handled = append(handled, rec)
	}
	return handled, nil, nil
}

// Close tears down the client, triggering a final rebalance.
func (c *Consumer) Close() {
	c.client.Close()
}

func (c *Consumer) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func fromRecord(rec *kgo.Record) *Message {
	headers := make(map[string]string, len(rec.Headers))
	for _, h := range rec.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &Message{
		Topic:     rec.Topic,
		Key:       rec.Key,
		Value:     rec.Value,
		Headers:   headers,
		Timestamp: rec.Timestamp,
	}
}
