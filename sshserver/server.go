package sshserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	gliderssh "github.com/gliderlabs/ssh"
	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"pkt.systems/pslog"
	"pkt.systems/tabterm/core"
	"pkt.systems/tabterm/internal/command"
	"pkt.systems/tabterm/internal/eventbus"
	"pkt.systems/tabterm/internal/logx"
	"pkt.systems/tabterm/internal/sshkeys"
	"pkt.systems/tabterm/internal/tabio"
	"pkt.systems/tabterm/schema"
)

// Server exposes tabs over SSH. Every login with a pty becomes one tab that
// lives as long as the SSH session.
type Server struct {
	Addr        string
	HostKeyPath string
	Listener    net.Listener
	Service     core.Service
	EventBus    *eventbus.Bus
	// AuthorizedKeys are the client keys allowed to log in.
	AuthorizedKeys []ssh.PublicKey
	IdleTimeout    time.Duration
	logger         pslog.Logger
}

// New builds a server from cfg, loading the authorized keys file.
func New(cfg Config, service core.Service, bus *eventbus.Bus, logger pslog.Logger) (*Server, error) {
	if service == nil {
		return nil, errors.New("service is required")
	}
	if bus == nil {
		return nil, errors.New("event bus is required")
	}
	var keys []ssh.PublicKey
	if path := strings.TrimSpace(cfg.AuthorizedKeysPath); path != "" {
		loaded, err := sshkeys.LoadAuthorizedKeys(path)
		if err != nil {
			return nil, fmt.Errorf("load authorized keys: %w", err)
		}
		keys = loaded
	}
	return &Server{
		Addr:           cfg.Addr,
		HostKeyPath:    cfg.HostKeyPath,
		Service:        service,
		EventBus:       bus,
		AuthorizedKeys: keys,
		IdleTimeout:    cfg.IdleTimeout,
		logger:         logger,
	}, nil
}

// ListenAndServe starts the SSH server and shuts down on context cancellation.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.logger == nil {
		s.logger = pslog.Ctx(ctx)
	}
	if s.Service == nil || s.EventBus == nil {
		return errors.New("service and event bus are required for SSH")
	}
	if len(s.AuthorizedKeys) == 0 {
		return errors.New("at least one authorized key is required for SSH")
	}

	signer, err := EnsureHostKey(s.HostKeyPath)
	if err != nil {
		return err
	}

	server := &gliderssh.Server{
		Addr:             s.Addr,
		Handler:          s.handleSession,
		PublicKeyHandler: s.handlePublicKey,
		IdleTimeout:      s.IdleTimeout,
	}
	server.AddHostKey(signer)

	errCh := make(chan error, 1)
	go func() {
		if s.Listener != nil {
			s.logger.Info("ssh server listening", "addr", s.Listener.Addr().String())
			errCh <- server.Serve(s.Listener)
			return
		}
		s.logger.Info("ssh server listening", "addr", s.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		_ = server.Close()
		return nil
	case err := <-errCh:
		if errors.Is(err, gliderssh.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handlePublicKey(ctx gliderssh.Context, key gliderssh.PublicKey) bool {
	log := s.logger
	if log == nil {
		log = pslog.Ctx(ctx)
	}
	log = log.With("user", ctx.User(), "remote", remoteAddr(ctx), "fingerprint", ssh.FingerprintSHA256(key))
	for _, allowed := range s.AuthorizedKeys {
		if gliderssh.KeysEqual(key, allowed) {
			log.Info("ssh pubkey accepted")
			return true
		}
	}
	log.Warn("ssh pubkey rejected", "reason", "no matching key")
	return false
}

func remoteAddr(ctx gliderssh.Context) string {
	if ctx == nil || ctx.RemoteAddr() == nil {
		return ""
	}
	return ctx.RemoteAddr().String()
}

func (s *Server) handleSession(sess gliderssh.Session) {
	log := s.logger
	if log == nil {
		log = pslog.Ctx(sess.Context())
	}
	log = log.With("user", sess.User(), "remote", sess.RemoteAddr().String())
	if id := sess.Context().SessionID(); id != "" {
		log = log.With("ssh_session", shortID(id))
	}

	pty, winCh, ok := sess.Pty()
	if !ok {
		log.Info("ssh session rejected", "reason", "pty required")
		_, _ = io.WriteString(sess, "pty required\n")
		_ = sess.Exit(1)
		return
	}

	tabID := newSessionTabID()
	log = log.With("tab", tabID)
	ctx := logx.ContextWithTabLogger(sess.Context(), log, tabID)

	// Subscribe before the tab exists so the banner is not missed.
	events, unsubscribe := s.EventBus.Subscribe(tabID)
	bridge := &tabio.Bridge{Conn: sess, Service: s.Service, TabID: tabID, Events: events}
	if err := s.openTab(ctx, tabID, sess.Command(), pty.Window); err != nil {
		unsubscribe()
		log.Warn("ssh session open failed", "err", err)
		_, _ = io.WriteString(sess, err.Error()+"\r\n")
		_ = sess.Exit(1)
		return
	}
	log.Info("ssh session opened", "term", pty.Term, "cols", pty.Window.Width, "rows", pty.Window.Height)

	bridgeCtx, stop := context.WithCancel(ctx)
	reason := bridge.Run(bridgeCtx, windowSizes(bridgeCtx, winCh))
	stop()
	unsubscribe()
	if _, err := s.Service.CloseTab(ctx, schema.CloseTabRequest{TabID: tabID}); err != nil {
		log.Warn("ssh session close failed", "err", err)
	}
	_ = sess.Exit(0)
	log.Info("ssh session closed", "reason", reason)
}

// openTab opens the tab named by the SSH command line: nothing for a blank
// tab, "local" for a local shell, or an ssh directive for a remote shell.
func (s *Server) openTab(ctx context.Context, tabID schema.TabID, args []string, win gliderssh.Window) error {
	cmd, ok := command.Parse(strings.Join(args, " "))
	if !ok {
		_, err := s.Service.OpenTab(ctx, schema.OpenTabRequest{TabID: tabID})
		return err
	}
	switch cmd.Name {
	case "local":
		_, err := s.Service.OpenLocalTab(ctx, schema.OpenLocalTabRequest{TabID: tabID, Cols: win.Width, Rows: win.Height})
		if errors.Is(err, schema.ErrSpawn) {
			// The tab stays open in command mode with the error shown.
			return nil
		}
		return err
	case command.NameSSH:
		target, err := command.ParseSSH(cmd)
		if err != nil {
			return fmt.Errorf("usage: ssh [-p port] [user@]host")
		}
		_, err = s.Service.OpenRemoteTab(ctx, schema.OpenRemoteTabRequest{
			TabID:   tabID,
			Options: schema.ConnectOptions{Host: target.Host, Username: target.User, Port: target.Port},
			Cols:    win.Width,
			Rows:    win.Height,
		})
		return err
	default:
		return fmt.Errorf("unknown command %q; use local or ssh [user@]host", cmd.Name)
	}
}

func newSessionTabID() schema.TabID {
	return schema.TabID("SSH-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
