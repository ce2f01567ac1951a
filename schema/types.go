package schema

import (
	"net"
	"strconv"
)

// TabID identifies a tab session.
type TabID string

// SessionMode describes what backs a tab.
type SessionMode string

const (
	// ModeUnattached indicates no handle; keystrokes go to the input state machine.
	ModeUnattached SessionMode = "unattached"
	// ModeLocal indicates a local shell on a pseudo-terminal.
	ModeLocal SessionMode = "local"
	// ModeRemote indicates an interactive SSH shell.
	ModeRemote SessionMode = "remote"
)

// InputMode selects how a completed line is interpreted in unattached mode.
type InputMode string

const (
	// InputCommand interprets lines as commands.
	InputCommand InputMode = "command"
	// InputUsername collects a username for a pending connect.
	InputUsername InputMode = "username"
	// InputPassword collects a password for a pending connect.
	InputPassword InputMode = "password"
)

// TabPhase describes what an unattached tab is currently doing.
type TabPhase string

const (
	// PhaseIdle indicates nothing is pending.
	PhaseIdle TabPhase = "idle"
	// PhaseConnecting indicates a connection attempt is in flight.
	PhaseConnecting TabPhase = "connecting"
	// PhaseAwaitingUsername indicates the tab waits for a username line.
	PhaseAwaitingUsername TabPhase = "awaiting_username"
	// PhaseAwaitingPassword indicates the tab waits for a password line.
	PhaseAwaitingPassword TabPhase = "awaiting_password"
	// PhaseRunningCommand indicates a local command is running.
	PhaseRunningCommand TabPhase = "running_command"
)

// DefaultSSHPort is used when ConnectOptions.Port is zero.
const DefaultSSHPort = 22

// ConnectOptions describes one remote connection attempt.
type ConnectOptions struct {
	Host     string
	Username string
	Port     int
	KeyPath  string
	Password string
}

// Address returns host:port for dialing.
func (o ConnectOptions) Address() string {
	port := o.Port
	if port <= 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(o.Host, strconv.Itoa(port))
}

// Target returns user@host as shown in prompts.
func (o ConnectOptions) Target() string {
	if o.Username == "" {
		return o.Host
	}
	return o.Username + "@" + o.Host
}

// HasCredentials reports whether a key path or password is set.
func (o ConnectOptions) HasCredentials() bool {
	return o.KeyPath != "" || o.Password != ""
}

// KeySettings is the persisted key preference consulted by connects.
type KeySettings struct {
	UseSSHKey  bool   `json:"useSshKey"`
	SSHKeyPath string `json:"sshKeyPath"`
}

// TabSnapshot is a read-only view of tab state for front-ends.
type TabSnapshot struct {
	ID         TabID
	Mode       SessionMode
	Input      InputMode
	Phase      TabPhase
	Host       string
	Username   string
	Port       int
	RetryCount int
	Cols       int
	Rows       int
}
