package schema

// OutputEvent carries raw bytes destined for a tab's display surface.
type OutputEvent struct {
	TabID TabID
	Data  []byte
}

// TabEventType describes tab lifecycle or state changes.
type TabEventType string

const (
	// TabEventCreated indicates a tab was created.
	TabEventCreated TabEventType = "created"
	// TabEventAttached indicates a handle was attached to a tab.
	TabEventAttached TabEventType = "attached"
	// TabEventDetached indicates a tab fell back to unattached mode.
	TabEventDetached TabEventType = "detached"
	// TabEventClosed indicates a tab was removed by the system.
	TabEventClosed TabEventType = "closed"
)

// TabEvent represents a change to a tab.
type TabEvent struct {
	Type TabEventType
	Tab  TabSnapshot
}
