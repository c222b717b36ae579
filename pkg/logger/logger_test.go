package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoggerInit(t *testing.T) {
	err := Init()
	if err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() {
		if err := Sync(); err != nil {
			t.Errorf("failed to sync logger: %v", err)
		}
	}()

	logger := Get()
	if logger == nil {
		t.Fatal("logger is nil after initialization")
	}
}

func TestLoggerBasic(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWithWriter(&buf, FormatText); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = InitWithWriter(os.Stdout, FormatText) }()

	ctx := context.Background()
	Get().Info(ctx, "test message", String("k", "v"), Duration("took", time.Second))

	out := buf.String()
	if !strings.Contains(out, "test message") || !strings.Contains(out, "k=v") {
		t.Fatalf("unexpected output: %q", out)
	}
	if !strings.Contains(out, "source=") {
		t.Fatalf("expected source attribute in %q", out)
	}
}

func TestLoggerNamed(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWithWriter(&buf, FormatJSON); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = InitWithWriter(os.Stdout, FormatText) }()

	Named("service").Named("view").Warn(context.Background(), "named message", Bool("flag", true))

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected json output, got %q: %v", buf.String(), err)
	}
	if entry["logger"] != "service.view" {
		t.Errorf("expected logger=service.view, got %v", entry["logger"])
	}
	if entry["flag"] != true {
		t.Errorf("expected flag=true, got %v", entry["flag"])
	}
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWithWriter(&buf, FormatText); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = InitWithWriter(os.Stdout, FormatText) }()

	Get().Debug(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug entry written at info level: %q", buf.String())
	}

	if err := SetLevelString("DEBUG"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	Get().Debug(context.Background(), "visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("debug entry missing: %q", buf.String())
	}

	if err := SetLevelString("verbose"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if err := InitWithWriter(&buf, "xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Info(context.Background(), "dropped")
	if l.Named("x") == nil {
		t.Fatal("named nop logger is nil")
	}
}
