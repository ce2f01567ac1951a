package core

import (
	"context"

	"pkt.systems/tabterm/schema"
)

// Service is the front-end agnostic API for managing terminal tabs.
type Service interface {
	OpenTab(ctx context.Context, req schema.OpenTabRequest) (schema.OpenTabResponse, error)
	OpenLocalTab(ctx context.Context, req schema.OpenLocalTabRequest) (schema.OpenLocalTabResponse, error)
	OpenRemoteTab(ctx context.Context, req schema.OpenRemoteTabRequest) (schema.OpenRemoteTabResponse, error)
	SendInput(ctx context.Context, req schema.SendInputRequest) (schema.SendInputResponse, error)
	Resize(ctx context.Context, req schema.ResizeRequest) (schema.ResizeResponse, error)
	CloseTab(ctx context.Context, req schema.CloseTabRequest) (schema.CloseTabResponse, error)
	GetTab(ctx context.Context, req schema.GetTabRequest) (schema.GetTabResponse, error)
	ListTabs(ctx context.Context, req schema.ListTabsRequest) (schema.ListTabsResponse, error)
	CountTabs(ctx context.Context) int
}
