// Package bus is the Kafka edge of the resolver: a consumer-group reader
// feeding the resolution engines and a producer writing solutions back to
// the same topic.
package bus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"inntekt/internal/resolve"
)

// Handler gets a crack at every record on the topic. Engines decide for
// themselves whether a record is theirs.
type Handler interface {
	Handle(ctx context.Context, raw []byte) resolve.Outcome
}

// Consumer polls the need topic and fans records out to a bounded worker
// pool. Offsets are committed only after every record in a poll has been
// handled, so a crash replays rather than drops messages.
type Consumer struct {
	client   *kgo.Client
	handlers []Handler
	logger   *slog.Logger
	workers  int
}

// NewConsumer joins the consumer group on the need topic. The topic must
// already exist; provisioning belongs to the platform, so a missing topic
// is a startup failure, not something to create on the fly.
func NewConsumer(ctx context.Context, brokers []string, topic, groupID string, workers int, handlers []Handler, logger *slog.Logger) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.ClientID("inntekt-resolver-"+uuid.NewString()),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}

	if err := ensureTopicExists(ctx, client, topic); err != nil {
		client.Close()
		return nil, err
	}

	return &Consumer{
		client:   client,
		handlers: handlers,
		logger:   logger,
		workers:  workers,
	}, nil
}

func ensureTopicExists(ctx context.Context, client *kgo.Client, topic string) error {
	adm := kadm.NewClient(client)
	details, err := adm.ListTopics(ctx, topic)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}
	if !details.Has(topic) {
		return fmt.Errorf("need topic %q does not exist", topic)
	}
	return nil
}

// Run polls until ctx is canceled. Each poll's records are handled
// concurrently by at most `workers` goroutines; the poll's offsets commit
// once all of them finish.
//
// Handlers run on a context detached from ctx: shutdown stops polling
// immediately but lets in-flight resolutions finish, bounded by the
// engine's lookup timeout. Their offsets still commit on the way out.
func (c *Consumer) Run(ctx context.Context) error {
	work := context.WithoutCancel(ctx)
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return ctx.Err()
		}
		if fetches.Empty() {
			continue
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error("fetch error",
				slog.String("topic", topic),
				slog.Int("partition", int(partition)),
				slog.Any("error", err),
			)
		})

		g := new(errgroup.Group)
		g.SetLimit(c.workers)
		fetches.EachRecord(func(rec *kgo.Record) {
			g.Go(func() error {
				c.handle(work, rec)
				return nil
			})
		})
		_ = g.Wait()

		if err := c.client.CommitUncommittedOffsets(work); err != nil {
			c.logger.Error("offset commit failed", slog.Any("error", err))
		}
	}
}

// handle runs every engine against one record. Engines contain their own
// failures; the recover is a final guard so no message can take down the
// shared loop.
func (c *Consumer) handle(ctx context.Context, rec *kgo.Record) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic while handling message",
				slog.String("key", string(rec.Key)),
				slog.Any("panic", r),
			)
		}
	}()

	for _, h := range c.handlers {
		h.Handle(ctx, rec.Value)
	}
}

// Close leaves the consumer group and releases the client.
func (c *Consumer) Close() {
	c.client.Close()
}
