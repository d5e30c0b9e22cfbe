package ingest

import (
	"context"
	"errors"
	"log"

	"github.com/replicahq/replica-broadcast/internal/config"
)

// Record is one raw entry read from the status log. Topic, Partition and
// Offset locate the record for diagnostics and restart; they carry no
// business meaning.
type Record struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int
	Offset    int64
}

var (
	// ErrPollTimeout reports that no record arrived within the poll's
	// bounded wait. Not an error condition; callers poll again.
	ErrPollTimeout = errors.New("poll timed out")

	// ErrEndOfPartition reports that the consumer caught up with the end of
	// a partition. Informational; callers poll again.
	ErrEndOfPartition = errors.New("end of partition")
)

// Source abstracts the ordered status log. Poll returns the next record, or
// ErrPollTimeout / ErrEndOfPartition for the recoverable non-record outcomes;
// any other error is fatal for the source.
type Source interface {
	Poll(ctx context.Context) (Record, error)
	Close() error
}

// NewSource creates a Source from the application configuration: a Kafka
// group consumer when KAFKA_BROKERS is set, otherwise an in-memory source
// suitable for development and tests.
func NewSource(cfg *config.Config) (Source, error) {
	if brokers := cfg.BrokerList(); len(brokers) > 0 {
		log.Printf("ingest: using Kafka source brokers=%v topic=%s group=%s", brokers, cfg.KafkaTopic, cfg.KafkaConsumerGroup)
		return NewKafkaSource(KafkaConfig{
			Brokers:     brokers,
			Topic:       cfg.KafkaTopic,
			GroupID:     cfg.KafkaConsumerGroup,
			StartOffset: cfg.KafkaStartOffset,
		})
	}

	log.Println("ingest: using in-memory source (KAFKA_BROKERS not set)")
	return NewMemorySource(1024), nil
}
