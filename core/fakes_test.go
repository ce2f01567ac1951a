package core

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/tabterm/schema"
)

type fakeHandle struct {
	mu         sync.Mutex
	writes     bytes.Buffer
	resizes    [][2]int
	closeCount int
	output     chan []byte
	done       chan struct{}
	exitOnce   sync.Once
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{
		output: make(chan []byte, 1024),
		done:   make(chan struct{}),
	}
}

func (h *fakeHandle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writes.Write(p)
}

func (h *fakeHandle) Resize(cols, rows int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resizes = append(h.resizes, [2]int{cols, rows})
	return nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	h.closeCount++
	h.mu.Unlock()
	h.exit()
	return nil
}

func (h *fakeHandle) Output() <-chan []byte { return h.output }

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) push(data string) {
	h.output <- []byte(data)
}

func (h *fakeHandle) exit() {
	h.exitOnce.Do(func() {
		close(h.output)
		close(h.done)
	})
}

func (h *fakeHandle) written() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writes.String()
}

func (h *fakeHandle) closes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closeCount
}

func (h *fakeHandle) lastResize() [2]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.resizes) == 0 {
		return [2]int{}
	}
	return h.resizes[len(h.resizes)-1]
}

type fakeSpawner struct {
	mu      sync.Mutex
	handles []*fakeHandle
	reqs    []SpawnRequest
	err     error
}

func (s *fakeSpawner) Spawn(_ context.Context, req SpawnRequest) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return nil, s.err
	}
	h := newFakeHandle()
	s.handles = append(s.handles, h)
	return h, nil
}

func (s *fakeSpawner) last() *fakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[len(s.handles)-1]
}

type dialCall struct {
	opts schema.ConnectOptions
	cols int
	rows int
}

type fakeDialer struct {
	mu    sync.Mutex
	calls []dialCall
	// dial decides each outcome; nil means every attempt fails with ErrAuth.
	dial func(ctx context.Context, opts schema.ConnectOptions) (Handle, error)
}

func (d *fakeDialer) Dial(ctx context.Context, opts schema.ConnectOptions, cols, rows int) (Handle, error) {
	d.mu.Lock()
	d.calls = append(d.calls, dialCall{opts: opts, cols: cols, rows: rows})
	dial := d.dial
	d.mu.Unlock()
	if !opts.HasCredentials() {
		return nil, schema.ErrNoCredentials
	}
	if dial == nil {
		return nil, schema.ErrAuth
	}
	return dial(ctx, opts)
}

func (d *fakeDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *fakeDialer) lastCall() dialCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[len(d.calls)-1]
}

type fakeRunner struct {
	mu    sync.Mutex
	lines []string
	run   func(ctx context.Context, line string) ([]byte, error)
}

func (r *fakeRunner) Run(ctx context.Context, line string) ([]byte, error) {
	r.mu.Lock()
	r.lines = append(r.lines, line)
	run := r.run
	r.mu.Unlock()
	if run == nil {
		return nil, nil
	}
	return run(ctx, line)
}

func (r *fakeRunner) lastLine() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.lines) == 0 {
		return ""
	}
	return r.lines[len(r.lines)-1]
}

type fakeSink struct {
	mu     sync.Mutex
	data   map[schema.TabID]*bytes.Buffer
	events []schema.TabEvent
}

func newFakeSink() *fakeSink {
	return &fakeSink{data: make(map[schema.TabID]*bytes.Buffer)}
}

func (s *fakeSink) OnData(event schema.OutputEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := s.data[event.TabID]
	if buf == nil {
		buf = &bytes.Buffer{}
		s.data[event.TabID] = buf
	}
	buf.Write(event.Data)
}

func (s *fakeSink) OnTabEvent(event schema.TabEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *fakeSink) output(tabID schema.TabID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if buf := s.data[tabID]; buf != nil {
		return buf.String()
	}
	return ""
}

func (s *fakeSink) hasEvent(tabID schema.TabID, eventType schema.TabEventType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range s.events {
		if event.Tab.ID == tabID && event.Type == eventType {
			return true
		}
	}
	return false
}

func (s *fakeSink) eventCount(tabID schema.TabID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, event := range s.events {
		if event.Tab.ID == tabID {
			count++
		}
	}
	return count
}

// waitOutput waits until the tab's accumulated output contains want.
func (s *fakeSink) waitOutput(t *testing.T, tabID schema.TabID, want string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		out := s.output(tabID)
		if strings.Contains(out, want) {
			return out
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %q; got %q", want, out)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (s *fakeSink) waitEvent(t *testing.T, tabID schema.TabID, eventType schema.TabEventType) {
	t.Helper()
	waitFor(t, func() bool { return s.hasEvent(tabID, eventType) }, "tab event "+string(eventType))
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type testEnv struct {
	svc     Service
	sink    *fakeSink
	spawner *fakeSpawner
	dialer  *fakeDialer
	runner  *fakeRunner
}

func newTestEnv(t *testing.T, cfg schema.ServiceConfig, mutate ...func(*ServiceDeps)) *testEnv {
	t.Helper()
	env := &testEnv{
		sink:    newFakeSink(),
		spawner: &fakeSpawner{},
		dialer:  &fakeDialer{},
		runner:  &fakeRunner{},
	}
	if cfg.StateDir == "" {
		cfg.StateDir = t.TempDir()
	}
	deps := ServiceDeps{
		Spawner:     env.spawner,
		Dialer:      env.dialer,
		Commands:    env.runner,
		EventSink:   env.sink,
		CurrentUser: func() string { return "carol" },
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	svc, err := NewService(cfg, deps)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	env.svc = svc
	return env
}

func (e *testEnv) send(t *testing.T, tabID schema.TabID, data string) {
	t.Helper()
	if _, err := e.svc.SendInput(context.Background(), schema.SendInputRequest{TabID: tabID, Data: []byte(data)}); err != nil {
		t.Fatalf("send input: %v", err)
	}
}

func (e *testEnv) tab(t *testing.T, tabID schema.TabID) schema.TabSnapshot {
	t.Helper()
	resp, err := e.svc.GetTab(context.Background(), schema.GetTabRequest{TabID: tabID})
	if err != nil {
		t.Fatalf("get tab: %v", err)
	}
	return resp.Tab
}
