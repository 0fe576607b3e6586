// Package cloudevents provides the CloudEvents v1.0 envelope that wraps every
// record written to or read from the log. The payload type is fixed per
// deployment through the Event type parameter.
package cloudevents

import (
	"fmt"
	"maps"
	"time"

	jsoncodec "github.com/drblury/cekafka/internal/runtime/jsoncodec"
)

// SpecVersion is the CloudEvents specification version implemented.
const SpecVersion = "1.0"

// Core attribute names.
const (
	AttrID              = "id"
	AttrType            = "type"
	AttrSource          = "source"
	AttrSpecVersion     = "specversion"
	AttrSubject         = "subject"
	AttrDataContentType = "datacontenttype"
	AttrTime            = "time"
	AttrData            = "data"
)

// Event is a CloudEvents v1.0 envelope carrying a typed payload.
// See https://github.com/cloudevents/spec/blob/v1.0/spec.md for specification details.
//
// The identifier is assigned once by Build (or by decoding) and cannot be
// changed afterwards; read it through ID.
type Event[P any] struct {
	id string

	// SpecVersion is the version of the CloudEvents specification. MUST be "1.0".
	SpecVersion string

	// Type describes the type of event related to the originating occurrence.
	Type string

	// Source identifies the context in which an event happened, usually a URI.
	Source string

	// Subject describes the subject of the event in the context of the source.
	Subject *string

	// DataContentType describes the content type of Data.
	DataContentType *string

	// Time is the timestamp of the occurrence. Zero when not supplied.
	Time time.Time

	// Data is the application payload.
	Data P

	// Extensions holds every attribute that is not a core attribute.
	Extensions map[string]any
}

// ID returns the envelope identifier.
func (e Event[P]) ID() string {
	return e.id
}

// WithSubject returns a copy of the event with the given subject.
func (e Event[P]) WithSubject(subject string) Event[P] {
	e.Subject = &subject
	return e
}

// WithDataContentType returns a copy of the event with the given content type.
func (e Event[P]) WithDataContentType(contentType string) Event[P] {
	e.DataContentType = &contentType
	return e
}

// WithExtension returns a copy of the event with the extension set.
func (e Event[P]) WithExtension(key string, value any) Event[P] {
	e = e.Clone()
	if e.Extensions == nil {
		e.Extensions = make(map[string]any)
	}
	e.Extensions[key] = value
	return e
}

// GetExtension retrieves an extension value by key.
func (e Event[P]) GetExtension(key string) any {
	if e.Extensions == nil {
		return nil
	}
	return e.Extensions[key]
}

// GetExtensionString retrieves an extension value as a string.
// Returns empty string if the extension does not exist.
func (e Event[P]) GetExtensionString(key string) string {
	v := e.GetExtension(key)
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Attributes returns the envelope attributes (without data) as a flat map.
func (e Event[P]) Attributes() map[string]any {
	attrs := make(map[string]any, 4+len(e.Extensions))
	maps.Copy(attrs, e.Extensions)
	attrs[AttrID] = e.id
	attrs[AttrType] = e.Type
	attrs[AttrSource] = e.Source
	attrs[AttrSpecVersion] = e.SpecVersion
	if e.Subject != nil {
		attrs[AttrSubject] = *e.Subject
	}
	if e.DataContentType != nil {
		attrs[AttrDataContentType] = *e.DataContentType
	}
	if !e.Time.IsZero() {
		attrs[AttrTime] = FormatTime(e.Time)
	}
	return attrs
}

// Validate checks that the event has all required CloudEvents attributes.
func (e Event[P]) Validate() error {
	if e.SpecVersion == "" {
		return fmt.Errorf("specversion is required")
	}
	if e.SpecVersion != SpecVersion {
		return fmt.Errorf("specversion must be %q, got %q", SpecVersion, e.SpecVersion)
	}
	if e.Type == "" {
		return fmt.Errorf("type is required")
	}
	if e.Source == "" {
		return fmt.Errorf("source is required")
	}
	if e.id == "" {
		return fmt.Errorf("id is required")
	}
	return nil
}

// Clone returns a copy that shares no mutable attribute state with e.
// The payload itself is copied by value.
func (e Event[P]) Clone() Event[P] {
	cloned := e
	if e.Subject != nil {
		v := *e.Subject
		cloned.Subject = &v
	}
	if e.DataContentType != nil {
		v := *e.DataContentType
		cloned.DataContentType = &v
	}
	if e.Extensions != nil {
		cloned.Extensions = maps.Clone(e.Extensions)
	}
	return cloned
}

// MarshalJSON renders the structured-mode CloudEvents JSON object.
// Extensions are flattened into the top-level object.
func (e Event[P]) MarshalJSON() ([]byte, error) {
	m := e.Attributes()
	m[AttrData] = e.Data
	return jsoncodec.Marshal(m)
}

// UnmarshalJSON implements json.Unmarshaler for the structured-mode format.
func (e *Event[P]) UnmarshalJSON(data []byte) error {
	var m map[string]jsoncodec.RawMessage
	if err := jsoncodec.Unmarshal(data, &m); err != nil {
		return err
	}

	decoded := Event[P]{Extensions: make(map[string]any)}
	for k, raw := range m {
		var err error
		switch k {
		case AttrID:
			err = jsoncodec.Unmarshal(raw, &decoded.id)
		case AttrType:
			err = jsoncodec.Unmarshal(raw, &decoded.Type)
		case AttrSource:
			err = jsoncodec.Unmarshal(raw, &decoded.Source)
		case AttrSpecVersion:
			err = jsoncodec.Unmarshal(raw, &decoded.SpecVersion)
		case AttrSubject:
			var v string
			err = jsoncodec.Unmarshal(raw, &v)
			decoded.Subject = &v
		case AttrDataContentType:
			var v string
			err = jsoncodec.Unmarshal(raw, &v)
			decoded.DataContentType = &v
		case AttrTime:
			var v string
			if err = jsoncodec.Unmarshal(raw, &v); err == nil {
				decoded.Time, err = ParseTime(v)
			}
		case AttrData:
			err = jsoncodec.Unmarshal(raw, &decoded.Data)
		default:
			var v any
			err = jsoncodec.Unmarshal(raw, &v)
			decoded.Extensions[k] = v
		}
		if err != nil {
			return fmt.Errorf("invalid %s: %w", k, err)
		}
	}
	if len(decoded.Extensions) == 0 {
		decoded.Extensions = nil
	}

	*e = decoded
	return nil
}
