package eventbus

import (
	"testing"
	"time"

	"pkt.systems/tabterm/schema"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("tab1")
	defer cancel()

	bus.OnData(schema.OutputEvent{TabID: "tab1", Data: []byte("hi")})

	select {
	case got := <-ch:
		if got.Type != EventOutput {
			t.Fatalf("expected output event, got %v", got.Type)
		}
		if got.Output.TabID != "tab1" || string(got.Output.Data) != "hi" {
			t.Fatalf("unexpected payload: %+v", got.Output)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for event")
	}
}

func TestPublishIsScopedToTab(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("tab1")
	defer cancel()

	bus.OnData(schema.OutputEvent{TabID: "tab2", Data: []byte("other")})
	bus.OnTabEvent(schema.TabEvent{Type: schema.TabEventClosed, Tab: schema.TabSnapshot{ID: "tab1"}})

	select {
	case got := <-ch:
		if got.Type != EventTab || got.Tab.Type != schema.TabEventClosed {
			t.Fatalf("expected tab event, got %+v", got)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for event")
	}
}

func TestPublishPreservesOrder(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("tab1")
	defer cancel()

	const total = 1000
	go func() {
		for i := 0; i < total; i++ {
			bus.OnData(schema.OutputEvent{TabID: "tab1", Data: []byte{byte(i % 251)}})
		}
	}()
	for i := 0; i < total; i++ {
		select {
		case got := <-ch:
			if got.Output.Data[0] != byte(i%251) {
				t.Fatalf("event %d out of order: %d", i, got.Output.Data[0])
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out at event %d", i)
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("tab1")
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed")
	}
	if bus.Subscribers("tab1") != 0 {
		t.Fatalf("expected no subscribers")
	}
}

func TestUnsubscribeReleasesBlockedPublish(t *testing.T) {
	bus := New(nil)
	bus.depth = 1
	_, cancel := bus.Subscribe("tab1")

	bus.OnData(schema.OutputEvent{TabID: "tab1"})
	done := make(chan struct{})
	go func() {
		bus.OnData(schema.OutputEvent{TabID: "tab1"})
		close(done)
	}()
	select {
	case <-done:
		t.Fatalf("expected publish to wait on a full subscriber")
	case <-time.After(50 * time.Millisecond):
	}
	cancel()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("publish stayed blocked after unsubscribe")
	}
}
