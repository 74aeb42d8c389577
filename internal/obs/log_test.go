package obs

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"
)

func TestEventStampsServiceFields(t *testing.T) {
	var buf bytes.Buffer
	Logger().SetOutput(&buf)
	defer Logger().SetOutput(os.Stdout)

	Event("warn", "token_reuse", map[string]any{"client_id": "c1"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["service"] != "idgate" {
		t.Fatalf("service = %v, want idgate", entry["service"])
	}
	if entry["level"] != "warn" || entry["msg"] != "token_reuse" {
		t.Fatalf("level/msg = %v/%v", entry["level"], entry["msg"])
	}
	if entry["client_id"] != "c1" {
		t.Fatalf("client_id = %v", entry["client_id"])
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatal("missing ts")
	}
}

func TestEventCallerFieldsWin(t *testing.T) {
	var buf bytes.Buffer
	Logger().SetOutput(&buf)
	defer Logger().SetOutput(os.Stdout)

	Event("info", "x", map[string]any{"level": "debug"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["level"] != "debug" {
		t.Fatalf("level = %v, want caller override", entry["level"])
	}
}
