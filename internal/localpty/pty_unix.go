//go:build !windows

package localpty

import (
	"os"
	"os/exec"

	"github.com/creack/pty"
)

type unixPty struct {
	*os.File
	cmd *exec.Cmd
}

func startPty(cmd *exec.Cmd, cols, rows int) (ptyProcess, error) {
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, err
	}
	return &unixPty{File: ptmx, cmd: cmd}, nil
}

func (u *unixPty) Resize(cols, rows int) error {
	return pty.Setsize(u.File, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

func (u *unixPty) Wait() error {
	return u.cmd.Wait()
}

func (u *unixPty) Kill() error {
	return u.cmd.Process.Kill()
}

func (u *unixPty) Pid() int {
	return u.cmd.Process.Pid
}

// DefaultShell returns $SHELL, falling back to /bin/bash.
func DefaultShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/bash"
}
