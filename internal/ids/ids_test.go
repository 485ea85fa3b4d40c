package ids

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

func TestNewAtIsMonotonic(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := NewAt(at)
	b := NewAt(at)
	if a >= b {
		t.Fatalf("expected %s < %s", a, b)
	}
	parsed, err := ulid.Parse(a)
	if err != nil {
		t.Fatalf("parse ulid: %v", err)
	}
	if got := ulid.Time(parsed.Time()); !got.Equal(at) {
		t.Fatalf("timestamp mismatch: %v", got)
	}
}

func TestNewRequestID(t *testing.T) {
	id := NewRequestID()
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("request id is not a uuid: %v", err)
	}
	if id == NewRequestID() {
		t.Fatal("request ids must differ")
	}
}
