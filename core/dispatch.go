package core

import (
	"context"

	"pkt.systems/tabterm/internal/command"
	"pkt.systems/tabterm/internal/logx"
	"pkt.systems/tabterm/schema"
)

const (
	invalidSSHText = "Invalid format. Use: ssh [user@]host\r\n"
	abortedText    = "\r\nAborted.\r\n"
	interruptText  = "^C\r\n"
	newlineText    = "\r\n"
)

// handleKey processes one key for an unattached session. Caller holds inMu.
func (s *service) handleKey(ctx context.Context, sess *session, k key) {
	sess.mu.Lock()
	phase := sess.phase
	mode := sess.editor.mode
	sess.mu.Unlock()

	switch phase {
	case schema.PhaseConnecting:
		if k.kind == keyInterrupt {
			s.abortConnect(ctx, sess)
		}
		return
	case schema.PhaseRunningCommand:
		if k.kind == keyInterrupt {
			s.interruptCommand(ctx, sess)
		}
		return
	}

	switch k.kind {
	case keyInterrupt:
		if mode != schema.InputCommand {
			s.abortConnect(ctx, sess)
			return
		}
		sess.mu.Lock()
		sess.editor.takeLine()
		sess.mu.Unlock()
		sess.emit([]byte(interruptText + promptText))
	case keyEnter:
		sess.mu.Lock()
		line := sess.editor.takeLine()
		sess.mu.Unlock()
		sess.emit([]byte(newlineText))
		s.dispatchLine(ctx, sess, mode, line)
	default:
		sess.mu.Lock()
		echo := sess.editor.apply(k)
		sess.mu.Unlock()
		sess.emit(echo)
	}
}

// dispatchLine interprets a completed line according to the input mode.
func (s *service) dispatchLine(ctx context.Context, sess *session, mode schema.InputMode, line string) {
	switch mode {
	case schema.InputUsername:
		s.resumeWithUsername(ctx, sess, line)
		return
	case schema.InputPassword:
		s.resumeWithPassword(ctx, sess, line)
		return
	}
	cmd, ok := command.Parse(line)
	if !ok {
		sess.emit([]byte(promptText))
		return
	}
	log := logx.WithTab(ctx, sess.id)
	switch cmd.Name {
	case command.NameSSH:
		target, err := command.ParseSSH(cmd)
		if err != nil {
			log.Debug("service ssh directive rejected", "input", cmd.Raw)
			sess.emit([]byte(invalidSSHText + promptText))
			return
		}
		s.beginConnect(ctx, sess, schema.ConnectOptions{
			Host:     target.Host,
			Username: target.User,
			Port:     target.Port,
		})
	case command.NameExit, command.NameQuit:
		snap := sess.snapshot()
		if s.tabs.remove(sess.id) {
			log.Info("service tab closed by command")
			s.emitTabEvent(schema.TabEventClosed, snap)
		}
	default:
		s.runCommand(ctx, sess, cmd.Raw)
	}
}

// runCommand executes a non-ssh line in the background. Caller holds inMu.
func (s *service) runCommand(ctx context.Context, sess *session, line string) {
	log := logx.WithTab(ctx, sess.id)
	if s.commands == nil {
		sess.emit([]byte("Error: command execution is not available\r\n" + promptText))
		return
	}
	runCtx, cancel := context.WithCancel(logx.CopyContextFields(context.Background(), ctx))
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		cancel()
		return
	}
	sess.gen++
	gen := sess.gen
	sess.phase = schema.PhaseRunningCommand
	sess.cancel = cancel
	sess.mu.Unlock()
	log.Debug("service command start", "command", line)

	go func() {
		out, err := s.commands.Run(runCtx, line)
		cancel()
		sess.inMu.Lock()
		defer sess.inMu.Unlock()
		sess.mu.Lock()
		if sess.closed || sess.gen != gen || sess.phase != schema.PhaseRunningCommand {
			sess.mu.Unlock()
			return
		}
		sess.phase = schema.PhaseIdle
		sess.cancel = nil
		sess.mu.Unlock()
		if err != nil {
			log.Debug("service command failed", "command", line, "err", err)
			sess.emit([]byte("Error: " + err.Error() + "\r\n" + promptText))
			return
		}
		log.Debug("service command done", "command", line, "bytes", len(out))
		sess.emit(append(out, promptText...))
	}()
}

// interruptCommand cancels a running command and returns to the prompt.
func (s *service) interruptCommand(ctx context.Context, sess *session) {
	sess.mu.Lock()
	if sess.phase != schema.PhaseRunningCommand {
		sess.mu.Unlock()
		return
	}
	cancel := sess.cancel
	sess.cancel = nil
	sess.gen++
	sess.phase = schema.PhaseIdle
	sess.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	logx.WithTab(ctx, sess.id).Debug("service command interrupted")
	sess.emit([]byte(interruptText + promptText))
}
