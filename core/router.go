package core

import "pkt.systems/tabterm/schema"

// route forwards h's output to the sink until the stream ends, then handles
// the exit. One goroutine runs per attached handle.
func (s *service) route(sess *session, h Handle) {
	for chunk := range h.Output() {
		sess.emitFrom(h, chunk)
	}
	<-h.Done()
	s.handleExit(sess, h)
}

// handleExit detaches an exited handle and applies the exit policy. A handle
// already detached by close or replacement is ignored.
func (s *service) handleExit(sess *session, h Handle) {
	log := s.logger.With("tab", sess.id)
	if r, ok := h.(ExitReporter); ok {
		if err := r.ExitErr(); err != nil {
			log = log.With("exit_err", err)
		}
	}
	sess.inMu.Lock()
	sess.outMu.Lock()
	sess.mu.Lock()
	mode := sess.mode
	if !sess.detachLocked(h) {
		sess.mu.Unlock()
		sess.outMu.Unlock()
		sess.inMu.Unlock()
		return
	}
	closeTab := s.cfg.ExitPolicy == schema.ExitClose
	snap := sess.snapshotLocked()
	sess.mu.Unlock()

	notice := "\r\nProcess exited.\r\n"
	if mode == schema.ModeRemote {
		notice = "\r\nConnection closed.\r\n"
	}
	if !closeTab {
		notice += promptText
	}
	sess.emitLocked([]byte(notice))
	if closeTab {
		sess.mu.Lock()
		sess.closed = true
		sess.mu.Unlock()
	}
	sess.outMu.Unlock()
	sess.inMu.Unlock()
	_ = h.Close()

	if closeTab {
		s.tabs.remove(sess.id)
		s.emitTabEvent(schema.TabEventClosed, snap)
		log.Info("service tab closed on exit", "mode", mode)
		return
	}
	sess.emitEvent(schema.TabEventDetached, snap)
	log.Info("service tab detached on exit", "mode", mode)
}
