package broadcast

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/wardensec/agent/internal/event"
)

func sampleEvent() *event.ExecutionEvent {
	return &event.ExecutionEvent{
		FileSHA256:     "deadbeef",
		FilePath:       "/usr/local/bin/evil",
		FileBundleID:   "com.example.evil",
		FileBundleName: "Evil",
		TeamID:         "TEAM123",
		SigningID:      "com.example.evil",
		ExecutingUser:  "alice",
		OccurrenceDate: time.Unix(1700000000, 0),
		PID:            4242,
		PPID:           1,
		ParentName:     "launchd",
		SigningChain: []event.SigningChainEntry{
			{
				SHA256:       "certhash",
				CommonName:   "Developer ID Application: Example",
				Organization: "Example Inc",
				ValidFrom:    time.Unix(1600000000, 0),
				ValidUntil:   time.Unix(1800000000, 0),
			},
		},
	}
}

func TestFlattenSchema(t *testing.T) {
	rec := Flatten(sampleEvent())

	if rec.Event != EventName {
		t.Fatalf("Event = %q, want %q", rec.Event, EventName)
	}
	if rec.ID == "" {
		t.Fatal("record should carry a unique ID")
	}
	if rec.FileSHA256 != "deadbeef" || rec.FilePath != "/usr/local/bin/evil" {
		t.Fatalf("subject fields wrong: %+v", rec)
	}
	if rec.OccurredAt != 1700000000 {
		t.Fatalf("OccurredAt = %d", rec.OccurredAt)
	}
	if rec.PID != 4242 || rec.PPID != 1 || rec.ParentName != "launchd" {
		t.Fatalf("process fields wrong: %+v", rec)
	}
	if len(rec.SigningChain) != 1 {
		t.Fatalf("signing chain length = %d", len(rec.SigningChain))
	}
	chain := rec.SigningChain[0]
	if chain.SHA256 != "certhash" || chain.ValidFrom != 1600000000 || chain.ValidUntil != 1800000000 {
		t.Fatalf("chain entry wrong: %+v", chain)
	}
}

func TestFlattenStableFieldNames(t *testing.T) {
	data, err := json.Marshal(Flatten(sampleEvent()))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// The wire field names are the public contract.
	for _, key := range []string{
		"event", "id", "file_sha256", "file_path", "team_id",
		"executing_user", "occurred_at", "pid", "ppid", "signing_chain",
	} {
		if _, ok := m[key]; !ok {
			t.Errorf("record missing field %q", key)
		}
	}
}

func TestEmitDeliversDatagram(t *testing.T) {
	got := make(chan []byte, 1)

	b := New("/tmp/unused.sock")
	b.sendFn = func(data []byte) error {
		got <- data
		return nil
	}

	b.Emit(sampleEvent())

	select {
	case data := <-got:
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			t.Fatalf("emitted record not valid JSON: %v", err)
		}
		if rec.FileSHA256 != "deadbeef" {
			t.Fatalf("FileSHA256 = %q", rec.FileSHA256)
		}
	default:
		t.Fatal("Emit should publish synchronously")
	}
}

func TestEmitToleratesNoListener(t *testing.T) {
	b := New("/tmp/unused.sock")
	b.sendFn = func(data []byte) error {
		return errors.New("connection refused")
	}

	// Must not panic or block: no listener is a normal condition.
	b.Emit(sampleEvent())
}
