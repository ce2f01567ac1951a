package tabio

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"pkt.systems/tabterm/internal/eventbus"
	"pkt.systems/tabterm/schema"
)

type stubService struct {
	mu          sync.Mutex
	inputs      []string
	resizes     []schema.ResizeRequest
	sendInputFn func(context.Context, schema.SendInputRequest) (schema.SendInputResponse, error)
}

func (s *stubService) OpenTab(context.Context, schema.OpenTabRequest) (schema.OpenTabResponse, error) {
	return schema.OpenTabResponse{}, nil
}

func (s *stubService) OpenLocalTab(context.Context, schema.OpenLocalTabRequest) (schema.OpenLocalTabResponse, error) {
	return schema.OpenLocalTabResponse{}, nil
}

func (s *stubService) OpenRemoteTab(context.Context, schema.OpenRemoteTabRequest) (schema.OpenRemoteTabResponse, error) {
	return schema.OpenRemoteTabResponse{}, nil
}

func (s *stubService) SendInput(ctx context.Context, req schema.SendInputRequest) (schema.SendInputResponse, error) {
	s.mu.Lock()
	s.inputs = append(s.inputs, string(req.Data))
	fn := s.sendInputFn
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return schema.SendInputResponse{}, nil
}

func (s *stubService) Resize(_ context.Context, req schema.ResizeRequest) (schema.ResizeResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resizes = append(s.resizes, req)
	return schema.ResizeResponse{}, nil
}

func (s *stubService) CloseTab(context.Context, schema.CloseTabRequest) (schema.CloseTabResponse, error) {
	return schema.CloseTabResponse{}, nil
}

func (s *stubService) GetTab(context.Context, schema.GetTabRequest) (schema.GetTabResponse, error) {
	return schema.GetTabResponse{}, nil
}

func (s *stubService) ListTabs(context.Context, schema.ListTabsRequest) (schema.ListTabsResponse, error) {
	return schema.ListTabsResponse{}, nil
}

func (s *stubService) CountTabs(context.Context) int { return 0 }

func (s *stubService) sentInput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out string
	for _, in := range s.inputs {
		out += in
	}
	return out
}

func (s *stubService) resizeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.resizes)
}

// pipeConn is a fake surface: tests write client keystrokes into in and
// read what the bridge wrote from out.
type pipeConn struct {
	reader *io.PipeReader
	in     *io.PipeWriter
	mu     sync.Mutex
	out    bytes.Buffer
}

func newPipeConn() *pipeConn {
	r, w := io.Pipe()
	return &pipeConn{reader: r, in: w}
}

func (c *pipeConn) Read(p []byte) (int, error) { return c.reader.Read(p) }

func (c *pipeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}

func (c *pipeConn) written() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.String()
}

func runBridge(t *testing.T, bridge *Bridge, sizes <-chan Size) <-chan string {
	t.Helper()
	done := make(chan string, 1)
	go func() {
		done <- bridge.Run(context.Background(), sizes)
	}()
	return done
}

func waitReason(t *testing.T, done <-chan string) string {
	t.Helper()
	select {
	case reason := <-done:
		return reason
	case <-time.After(2 * time.Second):
		t.Fatalf("bridge did not stop")
		return ""
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met")
}

func TestBridgeForwardsInputAndOutput(t *testing.T) {
	svc := &stubService{}
	conn := newPipeConn()
	events := make(chan eventbus.Event, 4)
	bridge := &Bridge{Conn: conn, Service: svc, TabID: "t1", Events: events}
	done := runBridge(t, bridge, nil)

	if _, err := conn.in.Write([]byte("ls\r")); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitUntil(t, func() bool { return svc.sentInput() == "ls\r" })

	events <- eventbus.Event{Type: eventbus.EventOutput, Output: schema.OutputEvent{TabID: "t1", Data: []byte("hello")}}
	waitUntil(t, func() bool { return conn.written() == "hello" })

	events <- eventbus.Event{Type: eventbus.EventTab, Tab: schema.TabEvent{Type: schema.TabEventClosed}}
	if reason := waitReason(t, done); reason != ReasonTabClosed {
		t.Fatalf("unexpected reason %q", reason)
	}
}

func TestBridgeStopsOnClientDisconnect(t *testing.T) {
	svc := &stubService{}
	conn := newPipeConn()
	bridge := &Bridge{Conn: conn, Service: svc, TabID: "t1", Events: make(chan eventbus.Event)}
	done := runBridge(t, bridge, nil)

	_ = conn.in.Close()
	if reason := waitReason(t, done); reason != ReasonDisconnected {
		t.Fatalf("unexpected reason %q", reason)
	}
}

func TestBridgeStopsWhenTabIsGone(t *testing.T) {
	svc := &stubService{
		sendInputFn: func(context.Context, schema.SendInputRequest) (schema.SendInputResponse, error) {
			return schema.SendInputResponse{}, schema.ErrTabNotFound
		},
	}
	conn := newPipeConn()
	bridge := &Bridge{Conn: conn, Service: svc, TabID: "t1", Events: make(chan eventbus.Event)}
	done := runBridge(t, bridge, nil)

	go func() { _, _ = conn.in.Write([]byte("x")) }()
	if reason := waitReason(t, done); reason != ReasonTabClosed {
		t.Fatalf("unexpected reason %q", reason)
	}
}

func TestBridgeAppliesResizes(t *testing.T) {
	svc := &stubService{}
	conn := newPipeConn()
	sizes := make(chan Size, 2)
	bridge := &Bridge{Conn: conn, Service: svc, TabID: "t1", Events: make(chan eventbus.Event)}
	done := runBridge(t, bridge, sizes)

	sizes <- Size{Cols: 120, Rows: 40}
	waitUntil(t, func() bool { return svc.resizeCount() == 1 })
	svc.mu.Lock()
	got := svc.resizes[0]
	svc.mu.Unlock()
	if got.TabID != "t1" || got.Cols != 120 || got.Rows != 40 {
		t.Fatalf("unexpected resize %+v", got)
	}

	close(sizes)
	_ = conn.in.Close()
	waitReason(t, done)
}

func TestBridgeStopsWhenEventStreamEnds(t *testing.T) {
	conn := newPipeConn()
	events := make(chan eventbus.Event)
	bridge := &Bridge{Conn: conn, Service: &stubService{}, TabID: "t1", Events: events}
	done := runBridge(t, bridge, nil)

	close(events)
	if reason := waitReason(t, done); reason != ReasonTabClosed {
		t.Fatalf("unexpected reason %q", reason)
	}
}

func TestBridgeStopsOnContextCancel(t *testing.T) {
	conn := newPipeConn()
	bridge := &Bridge{Conn: conn, Service: &stubService{}, TabID: "t1", Events: make(chan eventbus.Event)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan string, 1)
	go func() { done <- bridge.Run(ctx, nil) }()
	cancel()
	if reason := waitReason(t, done); reason != ReasonContextDone {
		t.Fatalf("unexpected reason %q", reason)
	}
}
