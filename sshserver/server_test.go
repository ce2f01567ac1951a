package sshserver

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gliderssh "github.com/gliderlabs/ssh"
	"golang.org/x/crypto/ssh"

	"pkt.systems/tabterm/core"
	"pkt.systems/tabterm/internal/eventbus"
	"pkt.systems/tabterm/internal/sshkeys"
	"pkt.systems/tabterm/schema"
)

// echoHandle stands in for a local shell that echoes its input.
type echoHandle struct {
	mu       sync.Mutex
	closed   bool
	resized  [2]int
	output   chan []byte
	done     chan struct{}
	exitOnce sync.Once
}

func newEchoHandle() *echoHandle {
	return &echoHandle{output: make(chan []byte, 64), done: make(chan struct{})}
}

func (h *echoHandle) Write(p []byte) (int, error) {
	data := append([]byte(nil), p...)
	select {
	case h.output <- data:
	case <-h.done:
	}
	return len(p), nil
}

func (h *echoHandle) Resize(cols, rows int) error {
	h.mu.Lock()
	h.resized = [2]int{cols, rows}
	h.mu.Unlock()
	return nil
}

func (h *echoHandle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.exitOnce.Do(func() { close(h.done) })
	return nil
}

func (h *echoHandle) Output() <-chan []byte { return h.output }

func (h *echoHandle) Done() <-chan struct{} { return h.done }

func (h *echoHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

type echoSpawner struct {
	mu      sync.Mutex
	handles []*echoHandle
}

func (s *echoSpawner) Spawn(context.Context, core.SpawnRequest) (core.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := newEchoHandle()
	s.handles = append(s.handles, h)
	return h, nil
}

func (s *echoSpawner) first() *echoHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.handles) == 0 {
		return nil
	}
	return s.handles[0]
}

type serverEnv struct {
	addr    string
	signer  ssh.Signer
	service core.Service
	spawner *echoSpawner
}

func startServer(t *testing.T) *serverEnv {
	t.Helper()
	dir := t.TempDir()
	clientKey := filepath.Join(dir, "id_ed25519")
	if _, err := sshkeys.Generate(sshkeys.GenerateOptions{Path: clientKey, Type: sshkeys.KeyTypeEd25519, Comment: "test"}); err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	keyData, err := os.ReadFile(clientKey)
	if err != nil {
		t.Fatalf("read client key: %v", err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		t.Fatalf("parse client key: %v", err)
	}

	bus := eventbus.New(nil)
	spawner := &echoSpawner{}
	svc, err := core.NewService(schema.ServiceConfig{}, core.ServiceDeps{
		Spawner:     spawner,
		EventSink:   bus,
		CurrentUser: func() string { return "tester" },
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	server, err := New(Config{
		HostKeyPath:        filepath.Join(dir, "host_key"),
		AuthorizedKeysPath: clientKey + ".pub",
	}, svc, bus, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server.Listener = listener

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(2 * time.Second):
			t.Errorf("server did not stop")
		}
	})
	return &serverEnv{addr: listener.Addr().String(), signer: signer, service: svc, spawner: spawner}
}

type clientOutput struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *clientOutput) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *clientOutput) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func (c *clientOutput) waitFor(t *testing.T, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(c.String(), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q in %q", want, c.String())
}

type clientSession struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   interface {
		Write([]byte) (int, error)
	}
	out *clientOutput
}

func (env *serverEnv) dial(t *testing.T, signer ssh.Signer, command string) (*clientSession, error) {
	t.Helper()
	client, err := ssh.Dial("tcp", env.addr, &ssh.ClientConfig{
		User:            "alice",
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         2 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	t.Cleanup(func() { _ = client.Close() })
	session, err := client.NewSession()
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := session.RequestPty("xterm", 24, 80, ssh.TerminalModes{}); err != nil {
		t.Fatalf("request pty: %v", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		t.Fatalf("stdin: %v", err)
	}
	out := &clientOutput{}
	session.Stdout = out
	session.Stderr = out
	if command == "" {
		err = session.Shell()
	} else {
		err = session.Start(command)
	}
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	return &clientSession{client: client, session: session, stdin: stdin, out: out}, nil
}

func waitSession(t *testing.T, session *ssh.Session) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- session.Wait() }()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("session did not end")
	}
}

func waitTabs(t *testing.T, svc core.Service, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if svc.CountTabs(context.Background()) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d tabs, got %d", want, svc.CountTabs(context.Background()))
}

func TestServerShellOpensBlankTab(t *testing.T) {
	env := startServer(t)
	cs, err := env.dial(t, env.signer, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	cs.out.waitFor(t, "Simple Terminal")
	cs.out.waitFor(t, "$ ")
	waitTabs(t, env.service, 1)

	resp, err := env.service.ListTabs(context.Background(), schema.ListTabsRequest{})
	if err != nil {
		t.Fatalf("list tabs: %v", err)
	}
	if len(resp.Tabs) != 1 || !strings.HasPrefix(string(resp.Tabs[0].ID), "SSH-") {
		t.Fatalf("unexpected tabs %+v", resp.Tabs)
	}

	if _, err := cs.stdin.Write([]byte("echo")); err != nil {
		t.Fatalf("write: %v", err)
	}
	cs.out.waitFor(t, "$ echo")

	if _, err := cs.stdin.Write([]byte("\x7f\x7f\x7f\x7fexit\r")); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitSession(t, cs.session)
	waitTabs(t, env.service, 0)
}

func TestServerLocalCommandAttachesShell(t *testing.T) {
	env := startServer(t)
	cs, err := env.dial(t, env.signer, "local")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitTabs(t, env.service, 1)
	if _, err := cs.stdin.Write([]byte("pwd\r")); err != nil {
		t.Fatalf("write: %v", err)
	}
	cs.out.waitFor(t, "pwd")

	handle := env.spawner.first()
	if handle == nil {
		t.Fatalf("expected a spawned shell")
	}
	_ = cs.session.Close()
	waitTabs(t, env.service, 0)
	if !handle.isClosed() {
		t.Fatalf("expected shell to be released when the client leaves")
	}
}

func TestServerRejectsUnknownCommand(t *testing.T) {
	env := startServer(t)
	cs, err := env.dial(t, env.signer, "telnet example.com")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitSession(t, cs.session)
	if !strings.Contains(cs.out.String(), "unknown command") {
		t.Fatalf("expected unknown command message, got %q", cs.out.String())
	}
	if env.service.CountTabs(context.Background()) != 0 {
		t.Fatalf("expected no tabs")
	}
}

func TestServerRejectsUnknownKey(t *testing.T) {
	env := startServer(t)
	otherPath := filepath.Join(t.TempDir(), "other")
	if _, err := sshkeys.Generate(sshkeys.GenerateOptions{Path: otherPath, Type: sshkeys.KeyTypeEd25519}); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	data, err := os.ReadFile(otherPath)
	if err != nil {
		t.Fatalf("read key: %v", err)
	}
	other, err := ssh.ParsePrivateKey(data)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	if _, err := env.dial(t, other, ""); err == nil {
		t.Fatalf("expected authentication failure")
	}
}

func TestListenAndServeRequiresAuthorizedKeys(t *testing.T) {
	bus := eventbus.New(nil)
	svc, err := core.NewService(schema.ServiceConfig{}, core.ServiceDeps{EventSink: bus})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	server, err := New(Config{HostKeyPath: filepath.Join(t.TempDir(), "host_key")}, svc, bus, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if err := server.ListenAndServe(context.Background()); err == nil {
		t.Fatalf("expected error without authorized keys")
	}
}

func TestEnsureHostKeyIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "host_key")
	first, err := EnsureHostKey(path)
	if err != nil {
		t.Fatalf("ensure host key: %v", err)
	}
	second, err := EnsureHostKey(path)
	if err != nil {
		t.Fatalf("reload host key: %v", err)
	}
	if !bytes.Equal(first.PublicKey().Marshal(), second.PublicKey().Marshal()) {
		t.Fatalf("expected the same host key on reload")
	}
}

func TestWindowSizesConvertsAndCloses(t *testing.T) {
	winCh := make(chan gliderssh.Window, 1)
	sizes := windowSizes(context.Background(), winCh)
	winCh <- gliderssh.Window{Width: 100, Height: 30}
	select {
	case size := <-sizes:
		if size.Cols != 100 || size.Rows != 30 {
			t.Fatalf("unexpected size %+v", size)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected converted size")
	}
	close(winCh)
	select {
	case _, ok := <-sizes:
		if ok {
			t.Fatalf("expected sizes to close")
		}
	case <-time.After(time.Second):
		t.Fatalf("sizes did not close")
	}
	if windowSizes(context.Background(), nil) != nil {
		t.Fatalf("expected nil channel for nil input")
	}
}
