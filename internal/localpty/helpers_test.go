package localpty

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func readUntil(t *testing.T, proc *Process, want string) string {
	t.Helper()
	var buf bytes.Buffer
	deadline := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-proc.Output():
			if !ok {
				t.Fatalf("output closed before %q; got %q", want, buf.String())
			}
			buf.Write(chunk)
			if strings.Contains(buf.String(), want) {
				return buf.String()
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q; got %q", want, buf.String())
		}
	}
}

func drain(proc *Process) {
	go func() {
		for range proc.Output() {
		}
	}()
}
