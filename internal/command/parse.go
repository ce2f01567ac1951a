package command

import (
	"errors"
	"strconv"
	"strings"
)

// Command represents a parsed command line.
type Command struct {
	Name      string
	Args      []string
	Raw       string
	Remainder string
}

// Builtin command names handled by the tab itself.
const (
	NameSSH  = "ssh"
	NameExit = "exit"
	NameQuit = "quit"
)

// ErrInvalidSSH indicates a malformed ssh directive.
var ErrInvalidSSH = errors.New("invalid ssh directive")

// Parse splits a command line into its name and arguments.
// It returns false for blank lines.
func Parse(input string) (Command, bool) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Command{}, false
	}
	fields := strings.Fields(raw)
	name := fields[0]
	args := []string{}
	if len(fields) > 1 {
		args = fields[1:]
	}
	return Command{
		Name:      name,
		Args:      args,
		Raw:       raw,
		Remainder: remainderAfterTokens(raw, 1),
	}, true
}

// SSHTarget is the destination named by an ssh directive.
type SSHTarget struct {
	User string
	Host string
	Port int
}

// ParseSSH interprets the arguments of `ssh [-p port] [user@]host`.
func ParseSSH(cmd Command) (SSHTarget, error) {
	if cmd.Name != NameSSH {
		return SSHTarget{}, ErrInvalidSSH
	}
	var target SSHTarget
	var dest string
	for i := 0; i < len(cmd.Args); i++ {
		arg := cmd.Args[i]
		switch {
		case arg == "-p":
			if i+1 >= len(cmd.Args) {
				return SSHTarget{}, ErrInvalidSSH
			}
			port, err := parsePort(cmd.Args[i+1])
			if err != nil {
				return SSHTarget{}, err
			}
			target.Port = port
			i++
		case strings.HasPrefix(arg, "-p") && len(arg) > 2:
			port, err := parsePort(arg[2:])
			if err != nil {
				return SSHTarget{}, err
			}
			target.Port = port
		case strings.HasPrefix(arg, "-"):
			return SSHTarget{}, ErrInvalidSSH
		default:
			if dest != "" {
				return SSHTarget{}, ErrInvalidSSH
			}
			dest = arg
		}
	}
	if dest == "" {
		return SSHTarget{}, ErrInvalidSSH
	}
	if at := strings.LastIndex(dest, "@"); at >= 0 {
		target.User = dest[:at]
		target.Host = dest[at+1:]
		if target.User == "" {
			return SSHTarget{}, ErrInvalidSSH
		}
	} else {
		target.Host = dest
	}
	if target.Host == "" {
		return SSHTarget{}, ErrInvalidSSH
	}
	return target, nil
}

func parsePort(value string) (int, error) {
	port, err := strconv.Atoi(value)
	if err != nil || port <= 0 || port > 65535 {
		return 0, ErrInvalidSSH
	}
	return port, nil
}

func remainderAfterTokens(raw string, count int) string {
	i := 0
	remaining := count
	for remaining > 0 && i < len(raw) {
		for i < len(raw) && isSpace(raw[i]) {
			i++
		}
		for i < len(raw) && !isSpace(raw[i]) {
			i++
		}
		remaining--
	}
	if i >= len(raw) {
		return ""
	}
	return strings.TrimSpace(raw[i:])
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
