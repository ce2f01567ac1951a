//go:build !windows

package main

import (
	"context"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"pkt.systems/tabterm/internal/tabio"
)

// watchResize reports the size of fd whenever the terminal window changes.
func watchResize(ctx context.Context, fd int) <-chan tabio.Size {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, unix.SIGWINCH)
	out := make(chan tabio.Size, 1)
	go func() {
		defer close(out)
		defer signal.Stop(sig)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sig:
				cols, rows, err := term.GetSize(fd)
				if err != nil {
					continue
				}
				select {
				case out <- tabio.Size{Cols: cols, Rows: rows}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
