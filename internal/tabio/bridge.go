// Package tabio pumps bytes between one display surface and one tab.
package tabio

import (
	"context"
	"errors"
	"io"

	"pkt.systems/tabterm/core"
	"pkt.systems/tabterm/internal/eventbus"
	"pkt.systems/tabterm/internal/logx"
	"pkt.systems/tabterm/schema"
)

const readChunkSize = 4096

// Reasons reported by Run.
const (
	ReasonContextDone  = "context done"
	ReasonTabClosed    = "tab closed"
	ReasonDisconnected = "client disconnected"
)

// Size is a terminal geometry in character cells.
type Size struct {
	Cols int
	Rows int
}

// Bridge connects a surface to a tab: keystrokes read from Conn go to the
// service, tab output from Events is written back to Conn.
type Bridge struct {
	Conn    io.ReadWriter
	Service core.Service
	TabID   schema.TabID
	// Events is the tab's subscription on the event bus.
	Events <-chan eventbus.Event
}

// Run pumps data until the surface disconnects, the tab closes or ctx ends.
// It returns one of the Reason constants.
func (b *Bridge) Run(ctx context.Context, sizes <-chan Size) string {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logx.WithTab(ctx, b.TabID)

	// Output is forwarded on its own goroutine so a blocked publish never
	// waits on keystroke handling.
	tabClosed := make(chan struct{})
	go func() {
		defer close(tabClosed)
		for ev := range b.Events {
			switch ev.Type {
			case eventbus.EventOutput:
				if _, err := b.Conn.Write(ev.Output.Data); err != nil {
					log.Debug("tab bridge write failed", "err", err)
				}
			case eventbus.EventTab:
				if ev.Tab.Type == schema.TabEventClosed {
					return
				}
			}
		}
	}()

	input := make(chan []byte, 16)
	go readChunks(b.Conn, input)

	for {
		select {
		case <-ctx.Done():
			return ReasonContextDone
		case <-tabClosed:
			return ReasonTabClosed
		case data, ok := <-input:
			if !ok {
				return ReasonDisconnected
			}
			_, err := b.Service.SendInput(ctx, schema.SendInputRequest{TabID: b.TabID, Data: data})
			if errors.Is(err, schema.ErrTabNotFound) {
				return ReasonTabClosed
			}
			if err != nil {
				log.Warn("tab bridge input failed", "err", err)
			}
		case size, ok := <-sizes:
			if !ok {
				sizes = nil
				continue
			}
			if _, err := b.Service.Resize(ctx, schema.ResizeRequest{TabID: b.TabID, Cols: size.Cols, Rows: size.Rows}); err != nil {
				log.Debug("tab bridge resize failed", "err", err)
			}
		}
	}
}

func readChunks(r io.Reader, out chan<- []byte) {
	defer close(out)
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			out <- chunk
		}
		if err != nil {
			return
		}
	}
}
