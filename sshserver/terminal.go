package sshserver

import (
	"context"

	gliderssh "github.com/gliderlabs/ssh"

	"pkt.systems/tabterm/internal/tabio"
)

// windowSizes converts pty window changes into tab sizes until winCh closes
// or ctx ends. winCh keeps being drained after ctx ends.
func windowSizes(ctx context.Context, winCh <-chan gliderssh.Window) <-chan tabio.Size {
	if winCh == nil {
		return nil
	}
	out := make(chan tabio.Size, 1)
	go func() {
		defer close(out)
		for win := range winCh {
			select {
			case out <- tabio.Size{Cols: win.Width, Rows: win.Height}:
			case <-ctx.Done():
			}
		}
	}()
	return out
}
