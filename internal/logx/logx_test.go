package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"pkt.systems/pslog"
	"pkt.systems/tabterm/schema"
)

func TestWithTargetAddsFields(t *testing.T) {
	capture := &logCapture{}
	log := WithTarget(newLogger(capture), schema.ConnectOptions{Host: "example.com", Username: "bob"})
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["host"] != "example.com" {
		t.Fatalf("expected host field, got %+v", entry)
	}
	if entry["ssh_user"] != "bob" {
		t.Fatalf("expected ssh_user field, got %+v", entry)
	}
	if _, ok := entry["port"]; ok {
		t.Fatalf("did not expect port for default port")
	}
}

func TestWithTargetAddsCustomPort(t *testing.T) {
	capture := &logCapture{}
	log := WithTarget(newLogger(capture), schema.ConnectOptions{Host: "example.com", Port: 2222})
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["port"] != float64(2222) {
		t.Fatalf("expected port field, got %+v", entry)
	}
}

func TestWithTabAddsField(t *testing.T) {
	capture := &logCapture{}
	ctx := pslog.ContextWithLogger(context.Background(), newLogger(capture))
	log := WithTab(ctx, "tab1")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["tab"] != "tab1" {
		t.Fatalf("expected tab field, got %+v", entry)
	}
}

func TestWithTabSkipsDuplicate(t *testing.T) {
	capture := &logCapture{}
	base := newLogger(capture)
	ctx := ContextWithTabLogger(context.Background(), base.With("tab", "tab1"), "tab1")
	WithTab(ctx, "tab1").Info("hello")

	line := bytes.TrimSpace(capture.buf.Bytes())
	if bytes.Count(line, []byte(`"tab"`)) != 1 {
		t.Fatalf("expected one tab field, got %s", line)
	}
}

func newLogger(capture *logCapture) pslog.Logger {
	return pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	return entry
}
