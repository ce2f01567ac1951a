package remotessh

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/crypto/ssh"

	"pkt.systems/tabterm/schema"
)

// Session is an interactive shell channel on an SSH client.
type Session struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser

	output chan []byte
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
	exitErr   error
}

func startShell(client *ssh.Client, cols, rows int) (*Session, error) {
	sess, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty(TerminalType, rows, cols, modes); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		_ = sess.Close()
		return nil, err
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		_ = sess.Close()
		return nil, err
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		_ = sess.Close()
		return nil, err
	}
	if err := sess.Shell(); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}
	s := &Session{
		client:  client,
		session: sess,
		stdin:   stdin,
		output:  make(chan []byte, 64),
		done:    make(chan struct{}),
	}
	var readers sync.WaitGroup
	readers.Add(2)
	go s.pump(stdout, &readers)
	go s.pump(stderr, &readers)
	go func() {
		readers.Wait()
		close(s.output)
	}()
	go s.wait(&readers)
	return s, nil
}

// Write forwards keystrokes to the remote shell.
func (s *Session) Write(data []byte) (int, error) {
	if s.isClosed() {
		return 0, schema.ErrTransportClosed
	}
	n, err := s.stdin.Write(data)
	if err != nil {
		return n, fmt.Errorf("%w: %v", schema.ErrTransportClosed, err)
	}
	return n, nil
}

// Resize sends a window-change request.
func (s *Session) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 || s.isClosed() {
		return nil
	}
	return s.session.WindowChange(rows, cols)
}

// Close tears down the channel and the connection. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		if closeErr := s.session.Close(); !ignorableClose(closeErr) {
			err = closeErr
		}
		if closeErr := s.client.Close(); !ignorableClose(closeErr) && err == nil {
			err = closeErr
		}
	})
	return err
}

// Output returns stdout and stderr merged in arrival order. It is closed when both end.
func (s *Session) Output() <-chan []byte {
	return s.output
}

// Done is closed once the remote shell has ended and its output is drained.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// ExitErr reports how the remote shell ended, after Done.
func (s *Session) ExitErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitErr
}

func (s *Session) pump(r io.Reader, readers *sync.WaitGroup) {
	defer readers.Done()
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.output <- chunk
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) wait(readers *sync.WaitGroup) {
	err := s.session.Wait()
	s.mu.Lock()
	s.exitErr = err
	s.mu.Unlock()
	readers.Wait()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	_ = s.client.Close()
	close(s.done)
}

func ignorableClose(err error) bool {
	return err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
