package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerRenamesCoreFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelInfo))
	logger.Info("deal resolved", "dealId", "0xabc")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	for _, key := range []string{"timestamp", "severity", "message", "dealId"} {
		if _, ok := line[key]; !ok {
			t.Fatalf("expected key %q in %v", key, line)
		}
	}
	if line["severity"] != "INFO" {
		t.Fatalf("unexpected severity %v", line["severity"])
	}
}

func TestHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, ParseLevel("warn")))
	logger.Info("skipped")
	if buf.Len() != 0 {
		t.Fatalf("expected info line to be filtered, got %s", buf.String())
	}
	logger.Warn("kept")
	if buf.Len() == 0 {
		t.Fatalf("expected warn line to be written")
	}
}

func TestMaskField(t *testing.T) {
	if attr := MaskField("token", "secret"); attr.Value.String() != RedactedValue {
		t.Fatalf("expected token to be redacted, got %s", attr.Value.String())
	}
	if attr := MaskField("dealId", "0x01"); attr.Value.String() != "0x01" {
		t.Fatalf("expected allowlisted key to pass through")
	}
	if attr := MaskField("token", " "); attr.Value.String() != " " {
		t.Fatalf("expected empty value to pass through")
	}
}

func TestMaskFieldStripsCredentials(t *testing.T) {
	cases := []struct {
		key, value, want string
	}{
		{"dsn", "postgres://market:hunter2@db:5432/journal?sslmode=disable", "postgres://market:xxxxx@db:5432/journal?sslmode=disable"},
		{"dsn", "host=db user=market password=hunter2 dbname=journal", "host=db user=market password=[REDACTED] dbname=journal"},
		{"dsn", "file:journal.db", "file:journal.db"},
		{"endpoint", "https://hooks.example.com/market/T0KEN?sig=abc", "https://hooks.example.com"},
		{"endpoint", "::not a url", RedactedValue},
		{"asset", "BTC", "BTC"},
	}
	for _, tc := range cases {
		if got := MaskField(tc.key, tc.value).Value.String(); got != tc.want {
			t.Fatalf("MaskField(%q, %q) = %q, want %q", tc.key, tc.value, got, tc.want)
		}
	}
}
