package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// pollTimeout bounds one Poll call; a quiet topic surfaces as ErrPollTimeout
// once per interval so the loop stays responsive to cancellation.
const pollTimeout = 1 * time.Second

// KafkaConfig holds configuration for the Kafka status log source.
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	StartOffset string // "earliest" (default) or "latest", applied on first run only
}

// KafkaSource reads the status topic through a consumer-group reader so that
// multiple process instances share one position cursor. Offsets are committed
// as records are read: at-least-once, skip-and-continue past bad records.
type KafkaSource struct {
	reader *kafka.Reader
}

func NewKafkaSource(cfg KafkaConfig) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker address is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "replica_broadcast"
	}

	start := kafka.FirstOffset
	if cfg.StartOffset == "latest" {
		start = kafka.LastOffset
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxWait:     500 * time.Millisecond,
		StartOffset: start,
	})

	return &KafkaSource{reader: reader}, nil
}

// Poll fetches the next record with a bounded wait. The group reader does not
// surface partition-EOF, so the outcomes here are a record, ErrPollTimeout,
// cancellation, or a fatal transport error.
func (s *KafkaSource) Poll(ctx context.Context) (Record, error) {
	pollCtx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	msg, err := s.reader.ReadMessage(pollCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return Record{}, ErrPollTimeout
		}
		return Record{}, err
	}

	return Record{
		Key:       msg.Key,
		Value:     msg.Value,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	}, nil
}

// Close shuts down the reader, committing the final offsets.
func (s *KafkaSource) Close() error {
	return s.reader.Close()
}
