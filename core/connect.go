package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pkt.systems/tabterm/internal/logx"
	"pkt.systems/tabterm/schema"
)

// beginConnect enters the connection protocol with fresh options.
// Caller holds inMu.
func (s *service) beginConnect(ctx context.Context, sess *session, opts schema.ConnectOptions) {
	opts = s.resolveOptions(opts)
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return
	}
	sess.pending = opts
	sess.retryCount = 0
	if opts.Username == "" {
		sess.phase = schema.PhaseAwaitingUsername
		sess.editor.mode = schema.InputUsername
		sess.mu.Unlock()
		sess.emit([]byte(fmt.Sprintf("Username for %s: ", opts.Host)))
		return
	}
	sess.mu.Unlock()
	s.attempt(ctx, sess)
}

// resolveOptions applies the default port and the persisted key preference.
func (s *service) resolveOptions(opts schema.ConnectOptions) schema.ConnectOptions {
	opts.Host = strings.TrimSpace(opts.Host)
	if opts.Port <= 0 {
		opts.Port = schema.DefaultSSHPort
	}
	if opts.KeyPath == "" && s.settings != nil {
		prefs := s.settings.KeySettings()
		if prefs.UseSSHKey && strings.TrimSpace(prefs.SSHKeyPath) != "" {
			opts.KeyPath = strings.TrimSpace(prefs.SSHKeyPath)
		}
	}
	return opts
}

func (s *service) resumeWithUsername(ctx context.Context, sess *session, line string) {
	username := strings.TrimSpace(line)
	if username == "" {
		username = s.currentUser()
	}
	sess.mu.Lock()
	if sess.closed || sess.phase != schema.PhaseAwaitingUsername {
		sess.mu.Unlock()
		return
	}
	sess.pending.Username = username
	sess.mu.Unlock()
	s.attempt(ctx, sess)
}

func (s *service) resumeWithPassword(ctx context.Context, sess *session, line string) {
	sess.mu.Lock()
	if sess.closed || sess.phase != schema.PhaseAwaitingPassword {
		sess.mu.Unlock()
		return
	}
	sess.pending.Password = line
	sess.mu.Unlock()
	s.attempt(ctx, sess)
}

// attempt dials the pending options in the background. Caller holds inMu.
func (s *service) attempt(ctx context.Context, sess *session) {
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return
	}
	opts := sess.pending
	cols, rows := sess.cols, sess.rows
	sess.gen++
	gen := sess.gen
	sess.phase = schema.PhaseConnecting
	sess.editor.reset()
	dialCtx, cancel := context.WithTimeout(logx.CopyContextFields(context.Background(), ctx), s.cfg.ConnectTimeout)
	sess.cancel = cancel
	sess.mu.Unlock()

	log := logx.WithTarget(logx.WithTab(ctx, sess.id), opts)
	log.Info("service connect attempt", "key", opts.KeyPath != "", "password", opts.Password != "")
	sess.emit([]byte(fmt.Sprintf("Connecting to %s...\r\n", opts.Target())))

	go func() {
		h, err := s.dialer.Dial(dialCtx, opts, cols, rows)
		cancel()
		s.finishAttempt(dialCtx, sess, gen, opts, cols, rows, h, err)
	}()
}

// finishAttempt applies the outcome of a dial. Outcomes for a closed session
// or a superseded attempt are discarded and their handle released.
func (s *service) finishAttempt(ctx context.Context, sess *session, gen uint64, opts schema.ConnectOptions, cols, rows int, h Handle, err error) {
	log := logx.WithTarget(logx.WithTab(ctx, sess.id), opts)
	sess.inMu.Lock()
	defer sess.inMu.Unlock()

	sess.mu.Lock()
	if sess.closed || sess.gen != gen || sess.phase != schema.PhaseConnecting {
		sess.mu.Unlock()
		if h != nil {
			_ = h.Close()
		}
		log.Debug("service connect outcome discarded")
		return
	}
	sess.cancel = nil
	if err == nil {
		resize := sess.cols != cols || sess.rows != rows
		newCols, newRows := sess.cols, sess.rows
		sess.mu.Unlock()
		if !s.attach(sess, h, schema.ModeRemote, []byte("Connected!\r\n")) {
			_ = h.Close()
			return
		}
		if resize {
			_ = h.Resize(newCols, newRows)
		}
		log.Info("service connect succeeded")
		return
	}

	reason := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "timed out"
	}
	var msg strings.Builder
	fmt.Fprintf(&msg, "Connection failed: %s\r\n", reason)
	limit := s.cfg.MaxPasswordAttempts
	switch {
	case !opts.HasCredentials():
		sess.retryCount = 0
		sess.phase = schema.PhaseAwaitingPassword
		sess.editor.mode = schema.InputPassword
		fmt.Fprintf(&msg, "Password for %s: ", opts.Target())
	default:
		sess.retryCount++
		if sess.retryCount < limit {
			sess.phase = schema.PhaseAwaitingPassword
			sess.editor.mode = schema.InputPassword
			fmt.Fprintf(&msg, "Attempt %d/%d failed. Password: ", sess.retryCount, limit)
		} else {
			fmt.Fprintf(&msg, "Attempt %d/%d failed.\r\nNo attempts left.\r\n%s", sess.retryCount, limit, promptText)
			sess.retryCount = 0
			sess.phase = schema.PhaseIdle
			sess.editor.reset()
		}
	}
	retries := sess.retryCount
	sess.mu.Unlock()
	log.Info("service connect failed", "err", err, "retry", retries)
	sess.emit([]byte(msg.String()))
}

// abortConnect abandons a pending or in-flight connect and returns to
// command mode. Caller holds inMu.
func (s *service) abortConnect(ctx context.Context, sess *session) {
	sess.mu.Lock()
	switch sess.phase {
	case schema.PhaseConnecting, schema.PhaseAwaitingUsername, schema.PhaseAwaitingPassword:
	default:
		sess.mu.Unlock()
		return
	}
	cancel := sess.cancel
	sess.cancel = nil
	sess.gen++
	sess.phase = schema.PhaseIdle
	sess.retryCount = 0
	sess.pending = schema.ConnectOptions{}
	sess.editor.reset()
	sess.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	logx.WithTab(ctx, sess.id).Info("service connect aborted")
	sess.emit([]byte(abortedText + promptText))
}
