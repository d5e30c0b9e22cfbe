package status

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hamba/avro/v2"
	"github.com/riferrei/srclient"
)

// Schema is the Avro value schema produced by the CDC pipeline for the status
// topic. Evolution is backward-compatible: new fields are optional only.
const Schema = `{
	"type": "record",
	"name": "replica_status_continuum",
	"namespace": "io.confluent.connect.jdbc.continuum",
	"fields": [
		{"name": "label", "type": "string"},
		{"name": "outcome", "type": "int"},
		{"name": "version", "type": ["null", "string"], "default": null},
		{"name": "updatedOn", "type": ["null", {"type": "long", "logicalType": "timestamp-millis"}], "default": null}
	]
}`

var (
	// ErrBadEnvelope reports a wire-level deserialization fault: a truncated
	// or unframed payload, an unresolvable schema id, or corrupt Avro bytes.
	ErrBadEnvelope = errors.New("bad wire envelope")

	// ErrSchemaMismatch reports a payload that deserialized but does not
	// carry the fields the status schema requires.
	ErrSchemaMismatch = errors.New("schema mismatch")
)

// SchemaResolver resolves the writer schema registered under a Confluent
// schema id.
type SchemaResolver interface {
	Resolve(id int) (avro.Schema, error)
}

// RegistryResolver resolves writer schemas against a Confluent schema
// registry, caching parsed schemas by id.
type RegistryResolver struct {
	client *srclient.SchemaRegistryClient
	mu     sync.RWMutex
	cache  map[int]avro.Schema
}

func NewRegistryResolver(url string) *RegistryResolver {
	return &RegistryResolver{
		client: srclient.CreateSchemaRegistryClient(url),
		cache:  make(map[int]avro.Schema),
	}
}

func (r *RegistryResolver) Resolve(id int) (avro.Schema, error) {
	r.mu.RLock()
	cached, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	reg, err := r.client.GetSchema(id)
	if err != nil {
		return nil, fmt.Errorf("fetch schema %d: %w", id, err)
	}
	parsed, err := avro.Parse(reg.Schema())
	if err != nil {
		return nil, fmt.Errorf("parse schema %d: %w", id, err)
	}

	r.mu.Lock()
	r.cache[id] = parsed
	r.mu.Unlock()
	return parsed, nil
}

// StaticResolver resolves every schema id to the fixed status schema. It is
// used when no schema registry is configured (single-writer deployments).
type StaticResolver struct {
	schema avro.Schema
}

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{schema: avro.MustParse(Schema)}
}

func (r *StaticResolver) Resolve(id int) (avro.Schema, error) {
	return r.schema, nil
}

// payload mirrors the Avro record. Nullable unions decode into pointers;
// timestamp-millis decodes into time.Time.
type payload struct {
	Label     string     `avro:"label"`
	Outcome   int        `avro:"outcome"`
	Version   *string    `avro:"version"`
	UpdatedOn *time.Time `avro:"updatedOn"`
}

// Decoder turns one raw log record into an Event. It is stateless apart from
// the injected schema resolver and performs no I/O of its own.
type Decoder struct {
	resolver SchemaResolver
}

func NewDecoder(resolver SchemaResolver) *Decoder {
	return &Decoder{resolver: resolver}
}

// Decode validates the Confluent wire envelope (magic byte 0x00 followed by a
// big-endian uint32 schema id), resolves the writer schema, and deserializes
// the Avro body. The record key is used as the label when the payload does
// not carry one. Every failure path returns a typed error wrapping either
// ErrBadEnvelope or ErrSchemaMismatch so callers can log and skip.
func (d *Decoder) Decode(key, value []byte) (Event, error) {
	if len(value) < 5 {
		return Event{}, fmt.Errorf("%w: payload too short (%d bytes)", ErrBadEnvelope, len(value))
	}
	if value[0] != 0 {
		return Event{}, fmt.Errorf("%w: unexpected magic byte 0x%02x", ErrBadEnvelope, value[0])
	}

	schemaID := int(binary.BigEndian.Uint32(value[1:5]))
	schema, err := d.resolver.Resolve(schemaID)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}

	var p payload
	if err := avro.Unmarshal(schema, value[5:], &p); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}

	if p.Label == "" {
		if len(key) == 0 {
			return Event{}, fmt.Errorf("%w: record carries no label and no key", ErrSchemaMismatch)
		}
		p.Label = string(key)
	}

	return Event{
		Label:     p.Label,
		Outcome:   p.Outcome,
		Version:   p.Version,
		UpdatedOn: p.UpdatedOn,
	}, nil
}
