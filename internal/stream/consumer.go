package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"fraudgate/internal/bootstrap/logging"
	"fraudgate/internal/domain/decision"
	"fraudgate/internal/errs"
	"fraudgate/internal/metrics"
	"fraudgate/internal/usecase/ingest"
)

// Message is one delivery from the partitioned log.
type Message struct {
	Partition int
	Offset    uint64
	Key       string
	Data      []byte

	ack func() error
}

// Source abstracts the at-least-once delivery log. Fetch returns an empty
// batch on poll timeout; Ack advances the committed position for exactly
// one message and must only be called after the store write is durable.
type Source interface {
	Fetch(ctx context.Context, partition int, max int, wait time.Duration) ([]Message, error)
	Ack(ctx context.Context, msg Message) error
}

// DeadLetterSink receives messages the core cannot or must not process.
type DeadLetterSink interface {
	Publish(ctx context.Context, env DeadLetterEnvelope) error
}

// DeadLetterEnvelope wraps a refused message. For PAN_DETECTED the original
// event body is omitted so card data never reaches the dead-letter
// destination either.
type DeadLetterEnvelope struct {
	ErrorCode         string          `json:"error_code"`
	ErrorMessage      string          `json:"error_message"`
	OriginalPartition int             `json:"original_partition"`
	OriginalOffset    uint64          `json:"original_offset"`
	IngestedAt        time.Time       `json:"ingested_at"`
	TraceID           string          `json:"trace_id"`
	BusinessID        string          `json:"business_id"`
	Event             json.RawMessage `json:"event,omitempty"`
}

// Ingestor is the slice of the ingest service the consumer needs.
type Ingestor interface {
	IngestEvent(ctx context.Context, input ingest.IngestInput) (ingest.IngestResult, error)
}

type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type Config struct {
	Partitions  int
	Concurrency int
	BatchSize   int
	PollTimeout time.Duration
	Retry       RetryConfig
}

// Consumer runs one sequential worker per partition, bounded across
// partitions by a concurrency semaphore. Within a partition, messages are
// processed and acknowledged strictly in delivery order; the offset is
// committed only after the atomic store write succeeded.
type Consumer struct {
	source  Source
	dlq     DeadLetterSink
	ingestr Ingestor
	breaker *Breaker
	cfg     Config

	sleep func(ctx context.Context, d time.Duration)
}

func NewConsumer(source Source, dlq DeadLetterSink, ingestr Ingestor, breaker *Breaker, cfg Config) *Consumer {
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}

	return &Consumer{
		source:  source,
		dlq:     dlq,
		ingestr: ingestr,
		breaker: breaker,
		cfg:     cfg,
		sleep:   sleepCtx,
	}
}

// Run consumes until ctx is cancelled. Shutdown lets in-flight messages
// finish their atomic unit; a message is either committed after a durable
// write or left for redelivery, never committed-but-unwritten.
func (c *Consumer) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	logging.Info(ctx, "stream consumer starting",
		slog.Int("partitions", c.cfg.Partitions),
		slog.Int("concurrency", c.cfg.Concurrency),
		slog.Int("batch_size", c.cfg.BatchSize),
	)

	sem := make(chan struct{}, c.cfg.Concurrency)
	var wg sync.WaitGroup
	for p := 0; p < c.cfg.Partitions; p++ {
		wg.Add(1)
		go func(partition int) {
			defer wg.Done()
			c.runPartition(ctx, partition, sem)
		}(p)
	}
	wg.Wait()

	logging.Info(ctx, "stream consumer stopped")
	return nil
}

func (c *Consumer) runPartition(ctx context.Context, partition int, sem chan struct{}) {
	logCtx := logging.WithAttrs(ctx, slog.Int("partition", partition))

	for ctx.Err() == nil {
		if !c.breaker.Allow() {
			wait := c.breaker.RemainingCooldown()
			if wait <= 0 {
				wait = 50 * time.Millisecond
			}
			c.sleep(ctx, wait)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		c.consumeBatch(logCtx, partition)
		// A pass that made no store call leaves no recorded outcome; give
		// the probe slot back so the next poll can try.
		c.breaker.ReleaseProbe()
		<-sem
	}
}

func (c *Consumer) consumeBatch(ctx context.Context, partition int) {
	msgs, err := c.source.Fetch(ctx, partition, c.cfg.BatchSize, c.cfg.PollTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.Warn(ctx, "fetch batch failed", slog.Any("err", errs.Loggable(err)))
		c.sleep(ctx, 200*time.Millisecond)
		return
	}

	for _, msg := range msgs {
		if ctx.Err() != nil {
			return
		}
		if err := c.processMessage(ctx, msg); err != nil {
			// Leave this message and the rest of the batch unacknowledged;
			// redelivery preserves partition order.
			return
		}
	}
}

// processMessage runs one message through the pipeline. A nil return means
// the offset advanced (either stored or dead-lettered); an error means the
// message stays uncommitted for redelivery.
func (c *Consumer) processMessage(ctx context.Context, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			// Never let one message take the consumer loop down.
			logging.Error(ctx, "panic while processing message",
				slog.Uint64("offset", msg.Offset),
				slog.String("panic", fmt.Sprint(r)),
			)
			err = c.deadLetter(ctx, msg, decision.NewRejection(decision.RejectUnhandled, "", fmt.Sprint(r)))
		}
	}()

	bo := backoff.NewExponentialBackOff()
	if c.cfg.Retry.InitialInterval > 0 {
		bo.InitialInterval = c.cfg.Retry.InitialInterval
	}
	if c.cfg.Retry.MaxInterval > 0 {
		bo.MaxInterval = c.cfg.Retry.MaxInterval
	}

	for attempt := 1; ; attempt++ {
		_, ingestErr := c.ingestr.IngestEvent(ctx, ingest.IngestInput{
			Raw:       msg.Data,
			Source:    decision.SourceStream,
			Partition: &msg.Partition,
			Offset:    &msg.Offset,
		})
		if ingestErr == nil {
			c.breaker.RecordSuccess()
			return c.ack(ctx, msg)
		}

		if rej, ok := decision.AsRejection(ingestErr); ok {
			// Terminal classification: dead-letter and advance.
			return c.deadLetter(ctx, msg, rej)
		}

		// Transient store failure.
		c.breaker.RecordFailure()
		metrics.StoreRetries.Inc()
		logging.Warn(ctx, "transient store failure",
			slog.Uint64("offset", msg.Offset),
			slog.Int("attempt", attempt),
			slog.Any("err", errs.Loggable(ingestErr)),
		)

		if c.breaker.State() == BreakerOpen {
			logging.Warn(ctx, "circuit breaker open, pausing consumption",
				slog.Uint64("offset", msg.Offset),
			)
			return ingestErr
		}
		if attempt >= c.cfg.Retry.MaxAttempts {
			return ingestErr
		}
		c.sleep(ctx, bo.NextBackOff())
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) deadLetter(ctx context.Context, msg Message, rej *decision.Rejection) error {
	env := buildEnvelope(msg, rej, time.Now().UTC())
	if err := c.dlq.Publish(ctx, env); err != nil {
		// Without a parked copy the offset must not advance.
		logging.Error(ctx, "dead-letter publish failed",
			slog.Uint64("offset", msg.Offset),
			slog.Any("err", errs.Loggable(err)),
		)
		return errs.Wrap(err, "publish dead letter")
	}

	metrics.DeadLetters.WithLabelValues(string(rej.Code)).Inc()
	logging.Warn(ctx, "message dead-lettered",
		slog.Uint64("offset", msg.Offset),
		slog.String("reason", string(rej.Code)),
	)
	return c.ack(ctx, msg)
}

func (c *Consumer) ack(ctx context.Context, msg Message) error {
	if err := c.source.Ack(ctx, msg); err != nil {
		// A failed commit means a future duplicate, which the idempotent
		// writer absorbs.
		logging.Warn(ctx, "commit failed, message may be redelivered",
			slog.Uint64("offset", msg.Offset),
			slog.Any("err", errs.Loggable(err)),
		)
		return errs.Wrap(err, "commit offset")
	}
	return nil
}

func buildEnvelope(msg Message, rej *decision.Rejection, at time.Time) DeadLetterEnvelope {
	traceID, businessID := peekIdentity(msg.Data)
	env := DeadLetterEnvelope{
		ErrorCode:         string(rej.Code),
		ErrorMessage:      rej.Error(),
		OriginalPartition: msg.Partition,
		OriginalOffset:    msg.Offset,
		IngestedAt:        at,
		TraceID:           traceID,
		BusinessID:        businessID,
	}
	if rej.Code != decision.RejectPANDetected {
		env.Event = json.RawMessage(msg.Data)
	}
	return env
}

// peekIdentity best-effort extracts correlation ids from a possibly invalid
// body. Safe to call on anything; never returns field values beyond the two
// identifiers.
func peekIdentity(raw []byte) (traceID string, businessID string) {
	var peek struct {
		TraceID       string `json:"trace_id"`
		TransactionID string `json:"transaction_id"`
	}
	_ = json.Unmarshal(raw, &peek)
	return peek.TraceID, peek.TransactionID
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
