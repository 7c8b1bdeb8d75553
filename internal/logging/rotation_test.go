package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriterRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notifier.log")

	rw, err := NewRotatingWriter(path, 1, 2)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer rw.Close()

	// Force the threshold low so two writes trigger a rotation.
	rw.maxSize = 64

	line := bytes.Repeat([]byte("x"), 48)
	if _, err := rw.Write(line); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := rw.Write(line); err != nil {
		t.Fatalf("second write: %v", err)
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("expected backup file after rotation: %v", err)
	}
}

func TestInitSwitchesHandler(t *testing.T) {
	var buf bytes.Buffer
	Init("json", "debug", &buf)
	defer Init("text", "info", os.Stdout)

	log := L("test")
	log.Debug("hello", "identity", "abc")

	out := buf.String()
	if !strings.Contains(out, `"component":"test"`) {
		t.Errorf("expected component field in JSON output, got %q", out)
	}
	if !strings.Contains(out, `"identity":"abc"`) {
		t.Errorf("expected identity field in JSON output, got %q", out)
	}
}
