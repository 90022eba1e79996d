package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("wire")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("connected", "endpoint", "10.0.0.5:9296")

	out := buf.String()
	if strings.Contains(out, `msg="INFO connected`) {
		t.Fatalf("unexpected nested severity prefix in message: %s", out)
	}
	if !strings.Contains(out, "msg=connected") {
		t.Fatalf("expected plain connected message, got: %s", out)
	}
	if !strings.Contains(out, "component=wire") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "endpoint=10.0.0.5:9296") {
		t.Fatalf("expected endpoint field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("wire")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestWithSessionAddsCorrelationField(t *testing.T) {
	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger := WithSession(L("session"), "sess-42")
	logger.Info("handshake complete")

	out := buf.String()
	if !strings.Contains(out, "session=sess-42") {
		t.Fatalf("expected session field, got: %s", out)
	}
}
