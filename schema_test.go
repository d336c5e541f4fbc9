package outbox

import (
	"errors"
	"testing"
	"time"
)

func TestSchemas_Prepare(t *testing.T) {
	s := NewSchemas(DefaultSchemas()...)

	tests := []struct {
		name       string
		collection string
		payload    Payload
		partial    bool
		wantField  string
	}{
		{"valid session", "sessions", Payload{"title": "Focus", "durationSeconds": 1500}, false, ""},
		{"missing required", "sessions", Payload{"durationSeconds": 1500}, false, "title"},
		{"wrong type", "sessions", Payload{"title": 5}, false, "title"},
		{"unknown field", "sessions", Payload{"title": "x", "colour": "red"}, false, "colour"},
		{"bad time", "meetings", Payload{"title": "x", "startsAt": "tomorrow"}, false, "startsAt"},
		{"time value", "meetings", Payload{"title": "x", "startsAt": time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}, false, ""},
		{"partial skips required", "stats", Payload{"value": 3}, true, ""},
		{"empty partial", "stats", Payload{}, true, "payload"},
		{"null clears field", "sessions", Payload{"status": nil}, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.prepare(tt.collection, tt.payload, tt.partial)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("prepare() error = %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("prepare() error = %v, want *ValidationError", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("ValidationError.Field = %q, want %q", verr.Field, tt.wantField)
			}
		})
	}
}

func TestSchemas_UnknownCollection(t *testing.T) {
	s := NewSchemas(DefaultSchemas()...)
	if _, _, err := s.prepare("widgets", Payload{"a": 1}, false); !errors.Is(err, ErrUnknownCollection) {
		t.Errorf("prepare(widgets) = %v, want ErrUnknownCollection", err)
	}
}

func TestSchemas_NormalizesPayload(t *testing.T) {
	s := NewSchemas(DefaultSchemas()...)
	_, norm, err := s.prepare("sessions", Payload{"title": "x", "durationSeconds": 90, "tags": []string{"deep"}}, false)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, ok := norm["durationSeconds"].(float64); !ok {
		t.Errorf("durationSeconds = %T, want float64", norm["durationSeconds"])
	}
	if tags, ok := norm["tags"].([]any); !ok || tags[0] != "deep" {
		t.Errorf("tags = %#v", norm["tags"])
	}
}

func TestEngine_CustomSchema(t *testing.T) {
	e, _ := newTestEngine(t, nil, nil, nil, WithSchemas(Schema{
		Collection: "habits",
		Priority:   5,
		Required:   []string{"name"},
		Fields:     map[string]FieldType{"name": FieldString, "meta": FieldAny},
	}))

	if _, err := e.EnqueueCreate("habits", Payload{"name": "read", "meta": 3}); err != nil {
		t.Fatalf("EnqueueCreate(habits): %v", err)
	}
	if p := e.QueueSnapshot()[0].Priority; p != 5 {
		t.Errorf("priority = %d, want 5", p)
	}
	if _, err := e.EnqueueUpdate("habits", "", Payload{"name": "x"}); !errors.Is(err, ErrEmptyTarget) {
		t.Errorf("empty target = %v, want ErrEmptyTarget", err)
	}
}
