package core

import (
	"pkt.systems/pslog"
	"pkt.systems/tabterm/schema"
)

// ServiceDeps captures optional dependencies for the core service.
type ServiceDeps struct {
	Spawner   ProcessSpawner
	Dialer    RemoteDialer
	Commands  CommandRunner
	Settings  SettingsProvider
	EventSink EventSink
	// CurrentUser supplies the username used when a username prompt is left empty.
	CurrentUser func() string
	// NewTabID overrides tab id generation.
	NewTabID func() schema.TabID
	Logger   pslog.Logger
}
