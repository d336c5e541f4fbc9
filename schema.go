package outbox

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// FieldType is the accepted kind of a payload field.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldBool   FieldType = "bool"
	FieldTime   FieldType = "time"
	FieldObject FieldType = "object"
	FieldList   FieldType = "list"
	FieldAny    FieldType = "any"
)

// Schema fixes the payload shape of one collection.
type Schema struct {
	Collection string
	Fields     map[string]FieldType
	Required   []string
	// Priority is the default queue priority for writes to this collection.
	Priority int
}

// DefaultSchemas returns the built-in collections.
func DefaultSchemas() []Schema {
	return []Schema{
		{
			Collection: "sessions",
			Priority:   3,
			Required:   []string{"title"},
			Fields: map[string]FieldType{
				"title":           FieldString,
				"startedAt":       FieldTime,
				"endedAt":         FieldTime,
				"durationSeconds": FieldNumber,
				"status":          FieldString,
				"completed":       FieldBool,
				"tags":            FieldList,
				"version":         FieldNumber,
			},
		},
		{
			Collection: "meetings",
			Priority:   2,
			Required:   []string{"title", "startsAt"},
			Fields: map[string]FieldType{
				"title":     FieldString,
				"startsAt":  FieldTime,
				"endsAt":    FieldTime,
				"location":  FieldString,
				"attendees": FieldList,
				"notes":     FieldString,
				"version":   FieldNumber,
			},
		},
		{
			Collection: "stats",
			Priority:   1,
			Required:   []string{"name", "value"},
			Fields: map[string]FieldType{
				"name":      FieldString,
				"value":     FieldNumber,
				"period":    FieldString,
				"breakdown": FieldObject,
				"updatedAt": FieldTime,
				"version":   FieldNumber,
			},
		},
	}
}

// Schemas is a registry of collection schemas.
type Schemas map[string]Schema

// NewSchemas builds a registry. Later entries replace earlier ones.
func NewSchemas(list ...Schema) Schemas {
	s := make(Schemas, len(list))
	for _, sc := range list {
		s[sc.Collection] = sc
	}
	return s
}

// Lookup returns the schema of a collection.
func (s Schemas) Lookup(collection string) (Schema, error) {
	sc, ok := s[collection]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	return sc, nil
}

// Collections returns the registered collection names, sorted.
func (s Schemas) Collections() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks p against the schema. Partial payloads skip required-field checks.
func (sc Schema) Validate(p Payload, partial bool) error {
	if partial && len(p) == 0 {
		return &ValidationError{Field: "payload", Message: "must set at least one field"}
	}
	if !partial {
		for _, name := range sc.Required {
			if v, ok := p[name]; !ok || v == nil {
				return &ValidationError{Field: name, Message: "required"}
			}
		}
	}

	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		kind, ok := sc.Fields[name]
		if !ok {
			return &ValidationError{Field: name, Message: fmt.Sprintf("not a field of %s", sc.Collection)}
		}
		if err := checkKind(name, kind, p[name]); err != nil {
			return err
		}
	}
	return nil
}

func checkKind(name string, kind FieldType, v any) error {
	if v == nil || kind == FieldAny {
		return nil
	}
	ok := false
	switch kind {
	case FieldString:
		_, ok = v.(string)
	case FieldNumber:
		_, ok = v.(float64)
	case FieldBool:
		_, ok = v.(bool)
	case FieldObject:
		_, ok = v.(map[string]any)
	case FieldList:
		_, ok = v.([]any)
	case FieldTime:
		s, isString := v.(string)
		if isString {
			_, err := time.Parse(time.RFC3339Nano, s)
			ok = err == nil
		}
	}
	if !ok {
		return &ValidationError{Field: name, Message: fmt.Sprintf("must be %s", kind)}
	}
	return nil
}

// normalizePayload round-trips p through JSON so the in-memory value equals
// what a reload from storage produces (numbers become float64, times strings).
func normalizePayload(p Payload) (Payload, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, &ValidationError{Field: "payload", Message: err.Error()}
	}
	var out Payload
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &ValidationError{Field: "payload", Message: err.Error()}
	}
	return out, nil
}

// prepare normalizes and validates a payload for a collection.
func (s Schemas) prepare(collection string, p Payload, partial bool) (Schema, Payload, error) {
	sc, err := s.Lookup(collection)
	if err != nil {
		return Schema{}, nil, err
	}
	norm, err := normalizePayload(p)
	if err != nil {
		return Schema{}, nil, err
	}
	if err := sc.Validate(norm, partial); err != nil {
		return Schema{}, nil, err
	}
	return sc, norm, nil
}
