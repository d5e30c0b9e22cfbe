package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memoryPollWait bounds one Poll on an idle in-memory source.
const memoryPollWait = 100 * time.Millisecond

type pollResult struct {
	rec Record
	err error
}

// MemorySource is a channel-backed Source for development and tests. Records
// appended with Append are served in order; Emit injects non-record poll
// outcomes such as ErrEndOfPartition or a fatal error.
type MemorySource struct {
	ch     chan pollResult
	done   chan struct{}
	mu     sync.Mutex
	offset int64
	closed bool
}

func NewMemorySource(buffer int) *MemorySource {
	return &MemorySource{
		ch:   make(chan pollResult, buffer),
		done: make(chan struct{}),
	}
}

// Append adds one record to the log, assigning it the next offset. It blocks
// while the buffer is full but never holds the source lock while doing so;
// Close unblocks any waiting producer.
func (s *MemorySource) Append(key, value []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("source is closed")
	}
	res := pollResult{rec: Record{
		Key:       key,
		Value:     value,
		Topic:     "memory",
		Partition: 0,
		Offset:    s.offset,
	}}
	s.offset++
	s.mu.Unlock()

	return s.push(res)
}

// Emit injects a non-record outcome that a subsequent Poll will return.
func (s *MemorySource) Emit(err error) {
	s.push(pollResult{err: err}) //nolint:errcheck // best-effort after close
}

func (s *MemorySource) push(res pollResult) error {
	select {
	case s.ch <- res:
		return nil
	case <-s.done:
		return fmt.Errorf("source is closed")
	}
}

func (s *MemorySource) Poll(ctx context.Context) (Record, error) {
	timer := time.NewTimer(memoryPollWait)
	defer timer.Stop()

	select {
	case res := <-s.ch:
		return res.rec, res.err
	case <-timer.C:
		return Record{}, ErrPollTimeout
	case <-ctx.Done():
		return Record{}, ctx.Err()
	}
}

func (s *MemorySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}
