package obs

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogRequestFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	restore := SetLogger(zap.New(core))
	defer restore()

	LogRequest("req-1", "POST", "/v1/admin/login", 401, 1500*time.Microsecond, zap.String("client_ip", "10.0.0.1"))

	entries := logs.FilterMessage("request_complete").All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-1" || fields["path"] != "/v1/admin/login" {
		t.Fatalf("unexpected fields: %v", fields)
	}
	if fields["status"] != int64(401) {
		t.Fatalf("unexpected status: %v", fields["status"])
	}
	if fields["duration_ms"] != 1.5 {
		t.Fatalf("unexpected duration: %v", fields["duration_ms"])
	}
	if fields["client_ip"] != "10.0.0.1" {
		t.Fatalf("extra field missing: %v", fields)
	}
}

func TestConfigureLoggerRejectsUnknownLevel(t *testing.T) {
	if err := ConfigureLogger("chatty"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
