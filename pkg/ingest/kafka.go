package ingest

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures the topic consumer
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	PollTimeout time.Duration
}

// messageReader is the part of *kafka.Reader the consumer uses
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer appends submissions published to a Kafka topic. Message
// values use the /api/submit body; the message key is used as the device
// ID when the body has none.
type KafkaConsumer struct {
	cfg     KafkaConfig
	reader  messageReader
	handler *Handler
	poll    time.Duration
}

// NewKafkaConsumer creates a consumer group reader for cfg.Topic
func NewKafkaConsumer(cfg KafkaConfig, handler *Handler) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic must not be empty")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("consumer group must not be empty")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return newKafkaConsumer(cfg, reader, handler), nil
}

func newKafkaConsumer(cfg KafkaConfig, reader messageReader, handler *Handler) *KafkaConsumer {
	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &KafkaConsumer{cfg: cfg, reader: reader, handler: handler, poll: poll}
}

// Close shuts down the underlying reader
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}

// Run consumes until ctx is cancelled or the reader is closed. Rejected
// messages are logged and committed so one bad snapshot cannot wedge the
// partition.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	log.Printf("Kafka consumer started (topic=%s group=%s brokers=%s)",
		c.cfg.Topic, c.cfg.GroupID, strings.Join(c.cfg.Brokers, ","))
	defer log.Println("Kafka consumer stopped")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		fetchCtx, cancel := context.WithTimeout(ctx, c.poll)
		msg, err := c.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, context.Canceled) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, kafka.ErrGroupClosed) {
				return nil
			}
			log.Printf("Kafka fetch failed: %v", err)
			continue
		}

		if err := c.handle(ctx, msg); err != nil {
			log.Printf("Kafka message rejected (partition=%d offset=%d): %v", msg.Partition, msg.Offset, err)
		}

		commitCtx, commitCancel := context.WithTimeout(ctx, c.poll)
		if err := c.reader.CommitMessages(commitCtx, msg); err != nil {
			if !(errors.Is(err, context.Canceled) && ctx.Err() != nil) {
				log.Printf("Kafka commit failed: %v", err)
			}
		}
		commitCancel()
	}
}

func (c *KafkaConsumer) handle(ctx context.Context, msg kafka.Message) error {
	sub, err := parseSubmission(msg.Value)
	if err != nil {
		return err
	}
	if sub.DeviceID == nil && len(msg.Key) > 0 {
		key := string(msg.Key)
		sub.DeviceID = &key
	}
	_, err = c.handler.Submit(ctx, SourceKafka, sub)
	return err
}
