package ingest

import (
	"context"
	"errors"
	"log"

	"github.com/replicahq/replica-broadcast/internal/metrics"
	"github.com/replicahq/replica-broadcast/internal/status"
)

// Publisher fans one decoded event out to the subscribers attached under key,
// returning the number of deliveries. Zero deliveries is steady state.
type Publisher interface {
	Publish(key string, ev status.Event) int
}

// Decoder turns one raw record into a typed event.
type Decoder interface {
	Decode(key, value []byte) (status.Event, error)
}

// Consumer is the supervisor that drives the pipeline: it owns the log
// cursor, decodes each record, and publishes the result. A bad record or a
// failed delivery never stops the loop; only a fatal source error does.
type Consumer struct {
	source   Source
	decoder  Decoder
	registry Publisher
}

func NewConsumer(source Source, decoder Decoder, registry Publisher) *Consumer {
	return &Consumer{source: source, decoder: decoder, registry: registry}
}

// Run polls the source until ctx is cancelled (returns nil) or the source
// fails fatally (closes the source and returns the error). Run it in a
// dedicated goroutine, exactly once per process.
func (c *Consumer) Run(ctx context.Context) error {
	defer func() {
		if err := c.source.Close(); err != nil {
			log.Printf("ingest: source close: %v", err)
		}
	}()

	for {
		rec, err := c.source.Poll(ctx)
		switch {
		case err == nil:
			c.handle(rec)

		case errors.Is(err, ErrPollTimeout):
			// Quiet topic; poll again.

		case errors.Is(err, ErrEndOfPartition):
			log.Printf("ingest: reached end of partition")

		case ctx.Err() != nil:
			log.Printf("ingest: consumer stopping")
			return nil

		default:
			log.Printf("ingest: FATAL: status feed unusable: %v", err)
			return err
		}
	}
}

func (c *Consumer) handle(rec Record) {
	ev, err := c.decoder.Decode(rec.Key, rec.Value)
	if err != nil {
		metrics.DecodeFailures.Inc()
		log.Printf("ingest: dropping undecodable record topic=%s partition=%d offset=%d: %v",
			rec.Topic, rec.Partition, rec.Offset, err)
		return
	}
	metrics.RecordsConsumed.Inc()

	// No subscriber for this key is the normal case, not an error.
	if n := c.registry.Publish(ev.Label, ev); n == 0 {
		metrics.EventsUnrouted.Inc()
	} else {
		metrics.EventsDelivered.Add(float64(n))
	}
}
