package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrSchemaNotFound is returned when a subject or schema id is unknown to the registry.
var ErrSchemaNotFound = errors.New("cekafka: schema not found")

// Schema is a registered JSON schema.
type Schema struct {
	ID      int    `json:"id"`
	Subject string `json:"subject,omitempty"`
	Version int    `json:"version,omitempty"`
	Type    string `json:"schemaType,omitempty"`
	Schema  string `json:"schema"`
}

// SchemaSource resolves schemas by subject or id.
type SchemaSource interface {
	Latest(ctx context.Context, subject string) (Schema, error)
	ByID(ctx context.Context, id int) (Schema, error)
}

// StaticSource is an in-memory SchemaSource. Registering a subject again
// adds a new version with a new id.
type StaticSource struct {
	mu     sync.RWMutex
	nextID int
	bySubj map[string][]Schema
	byID   map[int]Schema
}

// NewStaticSource returns an empty StaticSource.
func NewStaticSource() *StaticSource {
	return &StaticSource{
		nextID: 1,
		bySubj: make(map[string][]Schema),
		byID:   make(map[int]Schema),
	}
}

// Register stores schema as the newest version of subject and returns its id.
func (s *StaticSource) Register(subject, schema string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := Schema{
		ID:      s.nextID,
		Subject: subject,
		Version: len(s.bySubj[subject]) + 1,
		Type:    "JSON",
		Schema:  schema,
	}
	s.nextID++
	s.bySubj[subject] = append(s.bySubj[subject], entry)
	s.byID[entry.ID] = entry
	return entry.ID
}

func (s *StaticSource) Latest(_ context.Context, subject string) (Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.bySubj[subject]
	if len(versions) == 0 {
		return Schema{}, fmt.Errorf("%w: subject %q", ErrSchemaNotFound, subject)
	}
	return versions[len(versions)-1], nil
}

func (s *StaticSource) ByID(_ context.Context, id int) (Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schema, ok := s.byID[id]
	if !ok {
		return Schema{}, fmt.Errorf("%w: id %d", ErrSchemaNotFound, id)
	}
	return schema, nil
}
