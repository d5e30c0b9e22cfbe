package broadcast

import (
	"encoding/json"
	"hash/fnv"
	"io"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/replicahq/replica-broadcast/internal/metrics"
	"github.com/replicahq/replica-broadcast/internal/status"
)

// Sink is a destination capable of receiving one serialized event frame.
// A Send error means the sink is dead: the registry detaches it and, if the
// sink is also an io.Closer, closes it.
type Sink interface {
	Send(data []byte) error
}

// Membership is the token returned by Attach and consumed by Detach.
type Membership struct {
	key string
	id  string
}

const shardCount = 32

type shard struct {
	mu     sync.RWMutex
	groups map[string]map[string]Sink // key -> membership id -> sink
}

// Registry is the concurrent directory of live subscribers per subscription
// key. Keys are sharded so that attach/detach/publish on unrelated keys never
// contend on the same lock. Publishing to a key with no group is a no-op.
type Registry struct {
	shards [shardCount]shard
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].groups = make(map[string]map[string]Sink)
	}
	return r
}

func (r *Registry) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key)) //nolint:errcheck // fnv never fails
	return &r.shards[h.Sum32()%shardCount]
}

// Attach registers sink under key, creating the group lazily, and returns the
// membership token used to detach it.
func (r *Registry) Attach(key string, sink Sink) Membership {
	m := Membership{key: key, id: uuid.New().String()}

	sh := r.shardFor(key)
	sh.mu.Lock()
	group, ok := sh.groups[key]
	if !ok {
		group = make(map[string]Sink)
		sh.groups[key] = group
	}
	group[m.id] = sink
	sh.mu.Unlock()

	metrics.ConnectedClients.Inc()
	return m
}

// Detach removes the membership. Detaching an unknown or already-detached
// token is a silent no-op, which makes the disconnect/close race harmless.
func (r *Registry) Detach(m Membership) {
	if m.id == "" {
		return
	}

	sh := r.shardFor(m.key)
	sh.mu.Lock()
	group, ok := sh.groups[m.key]
	if ok {
		if _, member := group[m.id]; member {
			delete(group, m.id)
			metrics.ConnectedClients.Dec()
		}
		if len(group) == 0 {
			delete(sh.groups, m.key)
		}
	}
	sh.mu.Unlock()
}

// GroupSize reports the current number of sinks attached under key.
func (r *Registry) GroupSize(key string) int {
	sh := r.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.groups[key])
}

// Publish serializes event and delivers it to every sink attached under
// event's key at the time of the call, returning the number of successful
// deliveries. An absent group yields 0. A failed delivery detaches that sink
// without affecting its siblings.
func (r *Registry) Publish(key string, ev status.Event) int {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("broadcast: failed to marshal event for %q: %v", key, err)
		return 0
	}
	return r.fanOut(key, data)
}

// Broadcast delivers an arbitrary JSON payload to the group under key. Used
// for client echo acknowledgements.
func (r *Registry) Broadcast(key string, v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("broadcast: failed to marshal payload for %q: %v", key, err)
		return 0
	}
	return r.fanOut(key, data)
}

func (r *Registry) fanOut(key string, data []byte) int {
	sh := r.shardFor(key)

	// Snapshot the group so slow sinks never hold the shard lock.
	sh.mu.RLock()
	group := sh.groups[key]
	members := make([]Membership, 0, len(group))
	sinks := make([]Sink, 0, len(group))
	for id, sink := range group {
		members = append(members, Membership{key: key, id: id})
		sinks = append(sinks, sink)
	}
	sh.mu.RUnlock()

	delivered := 0
	for i, sink := range sinks {
		if err := sink.Send(data); err != nil {
			log.Printf("broadcast: evicting subscriber on %q: %v", key, err)
			r.Detach(members[i])
			if closer, ok := sink.(io.Closer); ok {
				closer.Close() //nolint:errcheck // sink already failed
			}
			metrics.SinkEvictions.Inc()
			continue
		}
		delivered++
	}
	return delivered
}
