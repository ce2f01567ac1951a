//go:build windows

package main

import (
	"context"

	"pkt.systems/tabterm/internal/tabio"
)

// watchResize is a no-op: Windows consoles have no SIGWINCH.
func watchResize(context.Context, int) <-chan tabio.Size {
	return nil
}
