// Package kafka consumes EDI transactions from a Kafka topic and feeds them
// into the pipeline. It is an optional second front door next to the HTTP
// API, for partners that deliver over a broker.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/segmentio/kafka-go"

	"github.com/venkata-adulla/edi-control-tower/internal/edi"
	"github.com/venkata-adulla/edi-control-tower/internal/engine"
)

const (
	minBytes = 10e3 // 10KB
	maxBytes = 10e6 // 10MB
	maxWait  = 500 * time.Millisecond
)

// Submitter is the pipeline entry point the consumer feeds.
type Submitter interface {
	SubmitTransaction(ctx context.Context, raw []byte) (*engine.Result, error)
}

// Config for the consumer.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer reads raw transaction messages and submits them one at a time.
// Offsets are committed only after a message was handled, so a crash replays
// rather than drops; the correlator's idempotency makes replays harmless.
type Consumer struct {
	reader   *kafka.Reader
	pipeline Submitter
	logger   log.Logger
}

// NewConsumer creates a Consumer on the given group/topic.
func NewConsumer(cfg Config, pipeline Submitter, logger log.Logger) *Consumer {
	if pipeline == nil {
		panic(xerrors.New("pipeline is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  cfg.GroupID,
			Topic:    cfg.Topic,
			MinBytes: minBytes,
			MaxBytes: maxBytes,
			MaxWait:  maxWait,
		}),
		pipeline: pipeline,
		logger:   logger,
	}
}

// Run consumes until the context is cancelled or the reader is closed.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			// io.EOF means the reader was closed.
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		if _, err := c.pipeline.SubmitTransaction(ctx, msg.Value); err != nil {
			// Malformed messages are not retryable; log and move on so one
			// bad payload cannot wedge the partition.
			var verr *edi.ValidationError
			if errors.As(err, &verr) {
				c.logger.Warn(ctx, "dropping invalid message",
					"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset,
					"reason", verr.Error())
			} else {
				c.logger.Error(ctx, err, "message submit failed; will replay",
					"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
				continue
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("commit message: %w", err)
		}
	}
}

// Close shuts down the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
