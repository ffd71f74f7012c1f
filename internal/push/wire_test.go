package push

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelope_Validate(t *testing.T) {
	t.Parallel()

	valid := NewEnvelope(TypeHello, json.RawMessage(`{"token":"x"}`), time.Now().UTC())
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid envelope rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Envelope)
	}{
		{name: "wrong version", mutate: func(e *Envelope) { e.V = 2 }},
		{name: "missing type", mutate: func(e *Envelope) { e.Type = "" }},
		{name: "unknown type", mutate: func(e *Envelope) { e.Type = "conversation.join" }},
		{name: "missing id", mutate: func(e *Envelope) { e.ID = "" }},
		{name: "missing ts", mutate: func(e *Envelope) { e.TS = time.Time{} }},
		{name: "missing payload", mutate: func(e *Envelope) { e.Payload = nil }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			e := valid
			tc.mutate(&e)
			if err := e.Validate(); err == nil {
				t.Fatalf("expected validation failure")
			}
		})
	}
}

func TestNewEnvelope_UniqueIDs(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	a := NewEnvelope(TypeMessageNew, json.RawMessage(`{}`), now)
	b := NewEnvelope(TypeMessageNew, json.RawMessage(`{}`), now)
	if a.ID == b.ID {
		t.Fatalf("envelope IDs must be unique, got %q twice", a.ID)
	}
	if a.V != Version {
		t.Fatalf("version = %d", a.V)
	}
}
