package cloudevents

import (
	"fmt"
	"time"

	errspkg "github.com/drblury/cekafka/internal/runtime/errors"
	idspkg "github.com/drblury/cekafka/internal/runtime/ids"
)

var requiredAttributes = []string{AttrType, AttrSpecVersion, AttrSource}

// Build wraps payload in a new envelope. attributes must contain non-empty
// string values for "type", "specversion" and "source"; "subject",
// "datacontenttype" and "time" are mapped onto their typed fields and every
// other attribute becomes an extension. Any "id" attribute is ignored: a fresh
// random identifier is generated for each call.
func Build[P any](payload P, attributes map[string]any) (Event[P], error) {
	for _, name := range requiredAttributes {
		if _, err := stringAttribute(attributes, name, true); err != nil {
			return Event[P]{}, err
		}
	}

	evt := Event[P]{
		id:   idspkg.NewEventID(),
		Data: payload,
	}

	for name, value := range attributes {
		switch name {
		case AttrID, AttrData:
			continue
		case AttrType:
			evt.Type = value.(string)
		case AttrSpecVersion:
			evt.SpecVersion = value.(string)
		case AttrSource:
			evt.Source = value.(string)
		case AttrSubject, AttrDataContentType:
			s, err := stringAttribute(attributes, name, false)
			if err != nil {
				return Event[P]{}, err
			}
			if name == AttrSubject {
				evt.Subject = &s
			} else {
				evt.DataContentType = &s
			}
		case AttrTime:
			t, err := timeAttribute(value)
			if err != nil {
				return Event[P]{}, err
			}
			evt.Time = t
		default:
			if evt.Extensions == nil {
				evt.Extensions = make(map[string]any)
			}
			evt.Extensions[name] = value
		}
	}

	if evt.SpecVersion != SpecVersion {
		return Event[P]{}, fmt.Errorf("%w: specversion must be %q, got %q", errspkg.ErrInvalidAttributes, SpecVersion, evt.SpecVersion)
	}
	return evt, nil
}

// Attributes returns the minimal attribute set for Build.
func Attributes(eventType, source string) map[string]any {
	return map[string]any{
		AttrType:        eventType,
		AttrSource:      source,
		AttrSpecVersion: SpecVersion,
	}
}

func stringAttribute(attributes map[string]any, name string, required bool) (string, error) {
	raw, ok := attributes[name]
	if !ok {
		if required {
			return "", fmt.Errorf("%w: %q is required", errspkg.ErrInvalidAttributes, name)
		}
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q must be a string, got %T", errspkg.ErrInvalidAttributes, name, raw)
	}
	if required && s == "" {
		return "", fmt.Errorf("%w: %q must not be empty", errspkg.ErrInvalidAttributes, name)
	}
	return s, nil
}

func timeAttribute(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		t, err := ParseTime(v)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: time: %v", errspkg.ErrInvalidAttributes, err)
		}
		return t.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q must be a string or time.Time, got %T", errspkg.ErrInvalidAttributes, AttrTime, value)
	}
}
