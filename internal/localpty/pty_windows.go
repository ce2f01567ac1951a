//go:build windows

package localpty

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/UserExistsError/conpty"
	"golang.org/x/sys/windows"
)

// conPty runs a child on a Windows pseudo console.
type conPty struct {
	cpty *conpty.ConPty
	proc *os.Process
}

func startPty(cmd *exec.Cmd, cols, rows int) (ptyProcess, error) {
	if cmd.Err != nil {
		return nil, cmd.Err
	}
	args := append([]string{cmd.Path}, cmd.Args[1:]...)
	opts := []conpty.ConPtyOption{conpty.ConPtyDimensions(cols, rows)}
	if cmd.Dir != "" {
		opts = append(opts, conpty.ConPtyWorkDir(cmd.Dir))
	}
	if cmd.Env != nil {
		opts = append(opts, conpty.ConPtyEnv(cmd.Env))
	}
	cpty, err := conpty.Start(windows.ComposeCommandLine(args), opts...)
	if err != nil {
		return nil, err
	}
	// A separate handle keeps Kill usable after the console is closed.
	proc, err := os.FindProcess(cpty.Pid())
	if err != nil {
		_ = cpty.Close()
		return nil, fmt.Errorf("open shell process: %w", err)
	}
	return &conPty{cpty: cpty, proc: proc}, nil
}

func (c *conPty) Read(p []byte) (int, error) {
	return c.cpty.Read(p)
}

func (c *conPty) Write(p []byte) (int, error) {
	return c.cpty.Write(p)
}

func (c *conPty) Close() error {
	return c.cpty.Close()
}

func (c *conPty) Resize(cols, rows int) error {
	return c.cpty.Resize(cols, rows)
}

func (c *conPty) Wait() error {
	code, err := c.proc.Wait()
	if err != nil {
		return err
	}
	if !code.Success() {
		return fmt.Errorf("exit status %d", code.ExitCode())
	}
	return nil
}

func (c *conPty) Kill() error {
	return c.proc.Kill()
}

func (c *conPty) Pid() int {
	return c.proc.Pid
}

// DefaultShell returns the Windows shell.
func DefaultShell() string {
	return "powershell.exe"
}
