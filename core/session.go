package core

import (
	"context"
	"sync"

	"pkt.systems/tabterm/schema"
)

// session tracks one tab. Lock order: inMu, then outMu, then mu.
//
// inMu serializes keystroke handling and state transitions driven by
// asynchronous completions. outMu serializes emission so bytes reach the sink
// in order and a closed session can wait out an in-flight emit. mu guards
// the fields below it.
type session struct {
	id   schema.TabID
	sink EventSink

	inMu  sync.Mutex
	outMu sync.Mutex

	mu         sync.Mutex
	mode       schema.SessionMode
	handle     Handle
	editor     *lineEditor
	phase      schema.TabPhase
	pending    schema.ConnectOptions
	retryCount int
	// gen identifies the current asynchronous operation; completions
	// carrying an older generation are discarded.
	gen    uint64
	cancel context.CancelFunc
	cols   int
	rows   int
	closed bool
}

func newSession(id schema.TabID, sink EventSink, cols, rows int) *session {
	return &session{
		id:     id,
		sink:   sink,
		mode:   schema.ModeUnattached,
		editor: newLineEditor(),
		phase:  schema.PhaseIdle,
		cols:   cols,
		rows:   rows,
	}
}

// emit delivers bytes produced by the session itself. Callers must not hold mu.
func (s *session) emit(data []byte) {
	if len(data) == 0 {
		return
	}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	s.emitLocked(data)
}

// emitLocked delivers bytes while the caller holds outMu.
func (s *session) emitLocked(data []byte) {
	if len(data) == 0 || s.sink == nil {
		return
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.sink.OnData(schema.OutputEvent{TabID: s.id, Data: data})
}

// emitFrom delivers handle output only while h is still the attached handle.
func (s *session) emitFrom(h Handle, data []byte) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	s.mu.Lock()
	current := !s.closed && s.handle == h
	s.mu.Unlock()
	if !current || s.sink == nil {
		return
	}
	s.sink.OnData(schema.OutputEvent{TabID: s.id, Data: data})
}

// emitEvent delivers a lifecycle event unless the session is closed.
func (s *session) emitEvent(eventType schema.TabEventType, snap schema.TabSnapshot) {
	if s.sink == nil {
		return
	}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if s.isClosed() {
		return
	}
	s.sink.OnTabEvent(schema.TabEvent{Type: eventType, Tab: snap})
}

// shutdown marks the session closed, cancels pending work and releases the
// handle exactly once. The handle is detached before Close so a concurrent
// exit notification finds nothing to release.
func (s *session) shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	h := s.handle
	s.handle = nil
	cancel := s.cancel
	s.cancel = nil
	s.gen++
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	// Wait out an emit that observed the session before it was closed.
	s.outMu.Lock()
	s.outMu.Unlock()
	if h != nil {
		_ = h.Close()
	}
}

// detachLocked clears h if it is still attached and returns whether it was.
func (s *session) detachLocked(h Handle) bool {
	if s.closed || s.handle != h {
		return false
	}
	s.handle = nil
	s.mode = schema.ModeUnattached
	s.phase = schema.PhaseIdle
	s.editor.reset()
	return true
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *session) snapshot() schema.TabSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *session) snapshotLocked() schema.TabSnapshot {
	snap := schema.TabSnapshot{
		ID:         s.id,
		Mode:       s.mode,
		Phase:      s.phase,
		RetryCount: s.retryCount,
		Cols:       s.cols,
		Rows:       s.rows,
	}
	if s.mode == schema.ModeUnattached {
		snap.Input = s.editor.mode
	}
	switch {
	case s.mode == schema.ModeRemote,
		s.phase == schema.PhaseConnecting,
		s.phase == schema.PhaseAwaitingUsername,
		s.phase == schema.PhaseAwaitingPassword:
		snap.Host = s.pending.Host
		snap.Username = s.pending.Username
		snap.Port = s.pending.Port
	}
	return snap
}
