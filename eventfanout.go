package tabterm

import (
	"pkt.systems/tabterm/core"
	"pkt.systems/tabterm/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnData(event schema.OutputEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnData(event)
	}
}

func (f eventFanout) OnTabEvent(event schema.TabEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnTabEvent(event)
	}
}
