package core

import "pkt.systems/tabterm/schema"

// EventSink receives tab output and lifecycle events from the core service.
// Calls for one tab arrive in order. Implementations must not call back into
// the service synchronously.
type EventSink interface {
	OnData(event schema.OutputEvent)
	OnTabEvent(event schema.TabEvent)
}
