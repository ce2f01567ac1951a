package core

import (
	"context"

	"pkt.systems/tabterm/internal/localpty"
	"pkt.systems/tabterm/internal/remotessh"
	"pkt.systems/tabterm/schema"
)

// PTYSpawner starts local shells on pseudo-terminals.
type PTYSpawner struct{}

// Spawn starts the shell.
func (PTYSpawner) Spawn(_ context.Context, req SpawnRequest) (Handle, error) {
	proc, err := localpty.Start(localpty.Options{Shell: req.Shell, Cols: req.Cols, Rows: req.Rows})
	if err != nil {
		return nil, err
	}
	return proc, nil
}

// SSHDialer opens remote shells over SSH.
type SSHDialer struct {
	Dialer *remotessh.Dialer
}

// Dial connects and starts the remote shell.
func (d SSHDialer) Dial(ctx context.Context, opts schema.ConnectOptions, cols, rows int) (Handle, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = &remotessh.Dialer{}
	}
	sess, err := dialer.Connect(ctx, opts, cols, rows)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// StaticSettings is a fixed SettingsProvider.
type StaticSettings schema.KeySettings

// KeySettings returns the fixed settings.
func (s StaticSettings) KeySettings() schema.KeySettings {
	return schema.KeySettings(s)
}
