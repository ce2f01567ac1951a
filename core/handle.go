package core

import (
	"context"

	"pkt.systems/tabterm/schema"
)

// Handle is a live byte stream to a local shell or a remote shell channel.
type Handle interface {
	Write(p []byte) (int, error)
	Resize(cols, rows int) error
	// Close releases the handle. It is idempotent and safe after exit.
	Close() error
	// Output delivers chunks in transport order and is closed when the stream ends.
	Output() <-chan []byte
	// Done is closed exactly once when the handle has exited.
	Done() <-chan struct{}
}

// ExitReporter is implemented by handles that know how their process ended.
// ExitErr is read after Done; nil means a clean exit.
type ExitReporter interface {
	ExitErr() error
}

// SpawnRequest describes a local shell to start.
type SpawnRequest struct {
	Shell string
	Cols  int
	Rows  int
}

// ProcessSpawner starts local shells.
type ProcessSpawner interface {
	Spawn(ctx context.Context, req SpawnRequest) (Handle, error)
}

// RemoteDialer opens remote shells. Implementations fail with
// schema.ErrNoCredentials when opts has neither key nor password.
type RemoteDialer interface {
	Dial(ctx context.Context, opts schema.ConnectOptions, cols, rows int) (Handle, error)
}

// CommandRunner executes one-off command lines typed into an unattached tab.
// The returned error's message is shown to the user.
type CommandRunner interface {
	Run(ctx context.Context, line string) ([]byte, error)
}

// SettingsProvider exposes persisted key preferences.
type SettingsProvider interface {
	KeySettings() schema.KeySettings
}
