package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/libs/db"
	"github.com/md-rashed-zaman/slotkeeper/libs/kafkax"
	otelx "github.com/md-rashed-zaman/slotkeeper/libs/otel"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type PublisherConfig struct {
	Brokers   string
	PollEvery time.Duration
	BatchSize int
	// Retention is how long published rows are kept before pruning. Zero disables pruning.
	Retention time.Duration
}

func (c PublisherConfig) withDefaults() PublisherConfig {
	if c.PollEvery <= 0 {
		c.PollEvery = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	return c
}

// Publisher relays committed outbox rows to Kafka, one topic per event type.
type Publisher struct {
	pool   *db.Pool
	repo   *Repository
	logger *slog.Logger
	writer MessageWriter
	cfg    PublisherConfig
}

// NewPublisher returns nil when no brokers are configured.
func NewPublisher(pool *db.Pool, repo *Repository, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	brokers := kafkax.SplitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return nil
	}
	return &Publisher{
		pool:   pool,
		repo:   repo,
		logger: logger,
		writer: kafkax.NewWriter(brokers),
		cfg:    cfg.withDefaults(),
	}
}

func (p *Publisher) Run(ctx context.Context) {
	defer p.writer.Close()

	ticker := time.NewTicker(p.cfg.PollEvery)
	defer ticker.Stop()
	lastPrune := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx)
			if p.cfg.Retention > 0 && time.Since(lastPrune) >= time.Hour {
				lastPrune = time.Now()
				if n, err := p.Prune(ctx); err != nil {
					p.logger.Warn("outbox prune failed", "err", err)
				} else if n > 0 {
					p.logger.Info("outbox pruned", "count", n)
				}
			}
		}
	}
}

// drain publishes batches back to back until one comes back short.
func (p *Publisher) drain(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := p.PublishBatch(ctx)
		if err != nil {
			p.logger.Error("outbox publish failed", "err", err)
			return
		}
		if n > 0 {
			p.logger.Debug("outbox batch published", "count", n)
		}
		if n < p.cfg.BatchSize {
			return
		}
	}
}

// PublishBatch sends one batch of unpublished events and marks them published.
// Rows stay locked until the batch commits so replicas never double-send. A failed
// send is recorded on the rows and the batch is retried on the next tick.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := p.repo.FetchUnpublished(ctx, tx, p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, tx.Commit(ctx)
	}

	msgs := make([]kafka.Message, 0, len(records))
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, toMessage(ctx, r))
		ids = append(ids, r.ID)
	}
	if sendErr := p.writer.WriteMessages(ctx, msgs...); sendErr != nil {
		if err := p.repo.MarkFailed(ctx, tx, ids, sendErr); err != nil {
			return 0, err
		}
		if err := tx.Commit(ctx); err != nil {
			return 0, err
		}
		return 0, sendErr
	}
	if err := p.repo.MarkPublished(ctx, tx, ids); err != nil {
		return 0, err
	}
	return len(records), tx.Commit(ctx)
}

// Prune removes rows published longer ago than the configured retention.
func (p *Publisher) Prune(ctx context.Context) (int64, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	n, err := p.repo.PrunePublished(ctx, tx, time.Now().Add(-p.cfg.Retention))
	if err != nil {
		return 0, err
	}
	return n, tx.Commit(ctx)
}

func toMessage(ctx context.Context, r Record) kafka.Message {
	msgCtx := otelx.Carried{Parent: r.Traceparent, State: r.Tracestate}.Resume(ctx)
	msg := kafka.Message{
		Topic:   r.EventType,
		Key:     []byte(r.AggregateID),
		Value:   r.Payload,
		Headers: kafkax.EventMeta{EventID: r.EventID, EventType: r.EventType}.Headers(),
	}
	msg.Headers = kafkax.InjectTraceHeaders(msgCtx, msg.Headers)
	return msg
}
