// Package registry serializes records against a schema registry. Payloads are
// JSON documents validated against the subject's JSON schema and framed with
// the registry wire header.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	errspkg "github.com/drblury/cekafka/internal/runtime/errors"
	jsoncodec "github.com/drblury/cekafka/internal/runtime/jsoncodec"
)

// Serde turns values into registry-framed bytes and back.
type Serde interface {
	Serialize(ctx context.Context, subject string, v any) ([]byte, error)
	Deserialize(ctx context.Context, subject string, data []byte, v any) error
}

// KeySubject returns the subject for record keys on topic.
func KeySubject(topic string) string {
	return topic + "-key"
}

// ValueSubject returns the subject for record values on topic.
func ValueSubject(topic string) string {
	return topic + "-value"
}

// Options mirrors the registry client policy flags.
type Options struct {
	// AutoRegister would register unknown schemas on write. Schemas are
	// managed outside this process, so it must stay false.
	AutoRegister bool
	// UseLatestVersion serializes against the newest version of the subject.
	UseLatestVersion bool
	// StrictCompatibility rejects documents carrying top-level properties
	// the schema does not declare.
	StrictCompatibility bool
	// FailInvalidSchema validates every document against its schema.
	FailInvalidSchema bool
}

// DefaultOptions returns the policy used by the service.
func DefaultOptions() Options {
	return Options{
		UseLatestVersion:    true,
		StrictCompatibility: true,
		FailInvalidSchema:   true,
	}
}

// JSONSerde implements Serde with JSON schemas.
type JSONSerde struct {
	source SchemaSource
	opts   Options

	mu       sync.Mutex
	compiled map[int]*compiledSchema
}

type compiledSchema struct {
	schema     *jsonschema.Schema
	properties map[string]struct{}
}

// NewJSONSerde returns a serde reading schemas from source.
func NewJSONSerde(source SchemaSource, opts Options) (*JSONSerde, error) {
	if source == nil {
		return nil, errors.New("cekafka: schema source is required")
	}
	if opts.AutoRegister {
		return nil, errors.New("cekafka: schema auto-registration is not supported")
	}
	if !opts.UseLatestVersion {
		return nil, errors.New("cekafka: use latest version is required when auto-registration is disabled")
	}
	return &JSONSerde{
		source:   source,
		opts:     opts,
		compiled: make(map[int]*compiledSchema),
	}, nil
}

// Serialize encodes v as JSON, checks it against the latest schema of
// subject and frames it with that schema's id.
func (s *JSONSerde) Serialize(ctx context.Context, subject string, v any) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: subject %q: nil value", errspkg.ErrSerialization, subject)
	}
	schema, err := s.source.Latest(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errspkg.ErrSerialization, err)
	}

	payload, err := jsoncodec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: subject %q: %w", errspkg.ErrSerialization, subject, err)
	}
	if err := s.check(schema, payload); err != nil {
		return nil, fmt.Errorf("%w: subject %q: %w", errspkg.ErrSerialization, subject, err)
	}
	return Frame(schema.ID, payload), nil
}

// Deserialize unframes data, checks it against the schema named by its id
// and decodes it into v.
func (s *JSONSerde) Deserialize(ctx context.Context, subject string, data []byte, v any) error {
	id, payload, err := Unframe(data)
	if err != nil {
		return fmt.Errorf("%w: subject %q: %w", errspkg.ErrDeserialization, subject, err)
	}
	schema, err := s.source.ByID(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: subject %q: %w", errspkg.ErrDeserialization, subject, err)
	}
	if err := s.check(schema, payload); err != nil {
		return fmt.Errorf("%w: subject %q: %w", errspkg.ErrDeserialization, subject, err)
	}
	if err := jsoncodec.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: subject %q: %w", errspkg.ErrDeserialization, subject, err)
	}
	return nil
}

func (s *JSONSerde) check(schema Schema, payload []byte) error {
	if !s.opts.FailInvalidSchema && !s.opts.StrictCompatibility {
		return nil
	}
	compiled, err := s.compile(schema)
	if err != nil {
		return err
	}

	var doc any
	if err := jsoncodec.Unmarshal(payload, &doc); err != nil {
		return err
	}

	if s.opts.StrictCompatibility && compiled.properties != nil {
		if obj, ok := doc.(map[string]any); ok {
			var unknown []string
			for name := range obj {
				if _, declared := compiled.properties[name]; !declared {
					unknown = append(unknown, name)
				}
			}
			if len(unknown) > 0 {
				sort.Strings(unknown)
				return fmt.Errorf("properties not declared by schema %d: %s", schema.ID, strings.Join(unknown, ", "))
			}
		}
	}

	if s.opts.FailInvalidSchema {
		if err := compiled.schema.Validate(doc); err != nil {
			return err
		}
	}
	return nil
}

func (s *JSONSerde) compile(schema Schema) (*compiledSchema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.compiled[schema.ID]; ok {
		return c, nil
	}
	if schema.Type != "" && !strings.EqualFold(schema.Type, "JSON") {
		return nil, fmt.Errorf("schema %d has unsupported type %s", schema.ID, schema.Type)
	}

	compiledJS, err := jsonschema.CompileString(fmt.Sprintf("registry://schemas/%d.json", schema.ID), schema.Schema)
	if err != nil {
		return nil, fmt.Errorf("compile schema %d: %w", schema.ID, err)
	}

	c := &compiledSchema{schema: compiledJS}
	var raw struct {
		Properties map[string]jsoncodec.RawMessage `json:"properties"`
	}
	if err := jsoncodec.Unmarshal([]byte(schema.Schema), &raw); err == nil && raw.Properties != nil {
		c.properties = make(map[string]struct{}, len(raw.Properties))
		for name := range raw.Properties {
			c.properties[name] = struct{}{}
		}
	}
	s.compiled[schema.ID] = c
	return c, nil
}
