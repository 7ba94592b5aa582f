package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

// TestNew_JSONFormat tests that the JSON handler emits parseable records.
func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	logger.Info("admission checked", "credential_id", "cred-1", "allowed", true)

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if record["msg"] != "admission checked" {
		t.Errorf("Expected msg field, got %v", record["msg"])
	}
	if record["credential_id"] != "cred-1" {
		t.Errorf("Expected credential_id attribute, got %v", record["credential_id"])
	}
}

// TestNew_TextFormat tests the text handler.
func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Format: "text", Writer: &buf})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	logger.Info("server started", "listen_address", "127.0.0.1:8080")

	out := buf.String()
	if !strings.Contains(out, "msg=") || !strings.Contains(out, "listen_address=127.0.0.1:8080") {
		t.Errorf("Unexpected text output: %s", out)
	}
}

// TestNew_LevelFiltering tests that records below the configured level
// are suppressed.
func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	logger.Debug("should be dropped")
	logger.Info("should be dropped too")
	if buf.Len() != 0 {
		t.Errorf("Expected no output below warn, got %s", buf.String())
	}

	logger.Warn("should appear")
	if buf.Len() == 0 {
		t.Error("Expected warn record to be emitted")
	}
}

// TestNew_Defaults tests that empty level and format fall back to info
// and JSON.
func TestNew_Defaults(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Writer: &buf})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	logger.Debug("below default level")
	if buf.Len() != 0 {
		t.Error("debug should be suppressed at the default level")
	}

	logger.Info("at default level")
	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("default format should be JSON: %v", err)
	}
}

// TestNew_InvalidConfig tests rejection of unknown levels and formats.
func TestNew_InvalidConfig(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Error("New() should reject an unknown level")
	}
	if _, err := New(Config{Format: "xml"}); err == nil {
		t.Error("New() should reject an unknown format")
	}
}
