package schema

// Tab lifecycle. An empty TabID asks the service to generate one.

// OpenTabRequest describes a request to open an unattached tab.
type OpenTabRequest struct {
	TabID TabID
}

// OpenTabResponse reports the opened tab.
type OpenTabResponse struct {
	Tab TabSnapshot
}

// OpenLocalTabRequest describes a request to open a local shell tab.
type OpenLocalTabRequest struct {
	TabID TabID
	Cols  int
	Rows  int
}

// OpenLocalTabResponse reports the opened tab.
type OpenLocalTabResponse struct {
	Tab TabSnapshot
}

// OpenRemoteTabRequest describes a request to open an SSH tab.
type OpenRemoteTabRequest struct {
	TabID   TabID
	Options ConnectOptions
	Cols    int
	Rows    int
}

// OpenRemoteTabResponse reports the opened tab.
type OpenRemoteTabResponse struct {
	Tab TabSnapshot
}

// CloseTabRequest describes a request to close a tab.
type CloseTabRequest struct {
	TabID TabID
}

// CloseTabResponse reports whether a tab was removed.
type CloseTabResponse struct {
	Closed bool
}

// GetTabRequest describes a request for a single tab snapshot.
type GetTabRequest struct {
	TabID TabID
}

// GetTabResponse reports a tab snapshot.
type GetTabResponse struct {
	Tab TabSnapshot
}

// ListTabsRequest describes a request to list tabs.
type ListTabsRequest struct{}

// ListTabsResponse reports tabs in creation order.
type ListTabsResponse struct {
	Tabs []TabSnapshot
}

// Input and geometry.

// SendInputRequest carries keystrokes for a tab.
type SendInputRequest struct {
	TabID TabID
	Data  []byte
}

// SendInputResponse is empty.
type SendInputResponse struct{}

// ResizeRequest carries a new terminal geometry.
type ResizeRequest struct {
	TabID TabID
	Cols  int
	Rows  int
}

// ResizeResponse is empty.
type ResizeResponse struct{}
