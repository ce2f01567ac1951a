package localpty

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"pkt.systems/tabterm/schema"
)

// Options configures a spawned shell.
type Options struct {
	Shell string
	Args  []string
	Dir   string
	Env   []string
	Cols  int
	Rows  int
}

// exitGrace bounds how long output may keep flowing after the shell exits,
// for background children that still hold the terminal open.
var exitGrace = 500 * time.Millisecond

// ptyProcess is a child attached to a platform pseudo-terminal. Read, Write
// and Close act on the terminal; Kill and Wait act on the child.
type ptyProcess interface {
	io.ReadWriteCloser
	Resize(cols, rows int) error
	Wait() error
	Kill() error
	Pid() int
}

// Process is a shell running on a pseudo-terminal.
type Process struct {
	pty ptyProcess

	output     chan []byte
	done       chan struct{}
	readerDone chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
	exitErr   error
}

// Start spawns the shell described by opts.
func Start(opts Options) (*Process, error) {
	shell := opts.Shell
	if shell == "" {
		shell = DefaultShell()
	}
	dir := opts.Dir
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = home
		}
	}
	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 {
		cols = schema.DefaultCols
	}
	if rows <= 0 {
		rows = schema.DefaultRows
	}
	env := opts.Env
	if env == nil {
		env = os.Environ()
	}
	env = append(env, "TERM=xterm-256color", "COLORTERM=truecolor")

	cmd := exec.Command(shell, opts.Args...)
	cmd.Dir = dir
	cmd.Env = env
	proc, err := startPty(cmd, cols, rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", schema.ErrSpawn, shell, err)
	}
	p := &Process{
		pty:        proc,
		output:     make(chan []byte, 64),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	go p.readLoop()
	go p.waitLoop()
	return p, nil
}

// Pid reports the shell's process id.
func (p *Process) Pid() int {
	return p.pty.Pid()
}

// Write forwards keystrokes to the shell.
func (p *Process) Write(data []byte) (int, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed || isDone(p.done) {
		return 0, schema.ErrTransportClosed
	}
	n, err := p.pty.Write(data)
	if err != nil {
		return n, fmt.Errorf("%w: %v", schema.ErrTransportClosed, err)
	}
	return n, nil
}

// Resize changes the terminal geometry.
func (p *Process) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return nil
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil
	}
	return p.pty.Resize(cols, rows)
}

// Close terminates the shell. It is safe to call more than once.
func (p *Process) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		err = p.pty.Close()
		if !isDone(p.done) {
			if killErr := p.pty.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
				err = errors.Join(err, killErr)
			}
		}
	})
	return err
}

// Output returns the shell output stream. It is closed when the stream ends.
func (p *Process) Output() <-chan []byte {
	return p.output
}

// Done is closed once the shell has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitErr reports the shell's exit error after Done.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *Process) readLoop() {
	defer close(p.readerDone)
	defer close(p.output)
	buf := make([]byte, 32*1024)
	for {
		n, err := p.pty.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.output <- chunk
		}
		if err != nil {
			return
		}
	}
}

func (p *Process) waitLoop() {
	err := p.pty.Wait()
	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()
	select {
	case <-p.readerDone:
	case <-time.After(exitGrace):
		p.closeOnce.Do(func() {
			p.mu.Lock()
			p.closed = true
			p.mu.Unlock()
			_ = p.pty.Close()
		})
		<-p.readerDone
	}
	close(p.done)
}

func isDone(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
