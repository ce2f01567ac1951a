package sshserver

import "time"

// Config defines SSH server settings.
type Config struct {
	Addr        string
	HostKeyPath string
	// AuthorizedKeysPath lists the client keys allowed to log in.
	AuthorizedKeysPath string
	IdleTimeout        time.Duration
}
