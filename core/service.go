package core

import (
	"context"
	"errors"
	"fmt"

	"pkt.systems/pslog"
	"pkt.systems/tabterm/internal/logx"
	"pkt.systems/tabterm/schema"
)

const (
	bannerText = "Simple Terminal - Type commands or \"ssh [user@]host\"\r\n"
	promptText = "$ "
)

// service implements the core service behavior.
type service struct {
	cfg         schema.ServiceConfig
	spawner     ProcessSpawner
	dialer      RemoteDialer
	commands    CommandRunner
	settings    SettingsProvider
	sink        EventSink
	currentUser func() string
	newID       func() schema.TabID
	logger      pslog.Logger
	tabs        *registry
}

// NewService constructs the core service implementation.
func NewService(cfg schema.ServiceConfig, deps ServiceDeps) (Service, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	cfg = normalized
	if deps.Spawner == nil {
		deps.Spawner = PTYSpawner{}
	}
	if deps.Dialer == nil {
		deps.Dialer = SSHDialer{}
	}
	if deps.CurrentUser == nil {
		deps.CurrentUser = currentUsername
	}
	if deps.NewTabID == nil {
		deps.NewTabID = NewTabID
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &service{
		cfg:         cfg,
		spawner:     deps.Spawner,
		dialer:      deps.Dialer,
		commands:    deps.Commands,
		settings:    deps.Settings,
		sink:        deps.EventSink,
		currentUser: deps.CurrentUser,
		newID:       deps.NewTabID,
		logger:      logger,
		tabs:        newRegistry(),
	}, nil
}

func (s *service) OpenTab(ctx context.Context, req schema.OpenTabRequest) (schema.OpenTabResponse, error) {
	if ctx == nil {
		return schema.OpenTabResponse{}, errors.New("missing context")
	}
	sess, err := s.createSession(req.TabID, 0, 0)
	if err != nil {
		return schema.OpenTabResponse{}, err
	}
	log := logx.WithTab(ctx, sess.id)
	sess.emit([]byte(bannerText + promptText))
	snap := sess.snapshot()
	sess.emitEvent(schema.TabEventCreated, snap)
	log.Info("service tab opened", "mode", snap.Mode)
	return schema.OpenTabResponse{Tab: snap}, nil
}

func (s *service) OpenLocalTab(ctx context.Context, req schema.OpenLocalTabRequest) (schema.OpenLocalTabResponse, error) {
	if ctx == nil {
		return schema.OpenLocalTabResponse{}, errors.New("missing context")
	}
	sess, err := s.createSession(req.TabID, req.Cols, req.Rows)
	if err != nil {
		return schema.OpenLocalTabResponse{}, err
	}
	log := logx.WithTab(ctx, sess.id)
	log.Info("service local tab open start", "cols", sess.cols, "rows", sess.rows, "shell", s.cfg.Shell)
	sess.emitEvent(schema.TabEventCreated, sess.snapshot())

	h, err := s.spawner.Spawn(ctx, SpawnRequest{Shell: s.cfg.Shell, Cols: sess.cols, Rows: sess.rows})
	if err != nil {
		if !errors.Is(err, schema.ErrSpawn) {
			err = fmt.Errorf("%w: %v", schema.ErrSpawn, err)
		}
		log.Warn("service local tab spawn failed", "err", err)
		sess.emit([]byte("Error: " + err.Error() + "\r\n" + promptText))
		return schema.OpenLocalTabResponse{Tab: sess.snapshot()}, err
	}
	if !s.attach(sess, h, schema.ModeLocal, nil) {
		_ = h.Close()
		return schema.OpenLocalTabResponse{}, fmt.Errorf("%w: %s", schema.ErrTabNotFound, sess.id)
	}
	log.Info("service local tab opened")
	return schema.OpenLocalTabResponse{Tab: sess.snapshot()}, nil
}

func (s *service) OpenRemoteTab(ctx context.Context, req schema.OpenRemoteTabRequest) (schema.OpenRemoteTabResponse, error) {
	if ctx == nil {
		return schema.OpenRemoteTabResponse{}, errors.New("missing context")
	}
	if req.Options.Host == "" {
		return schema.OpenRemoteTabResponse{}, fmt.Errorf("%w: missing host", schema.ErrInvalidRequest)
	}
	sess, err := s.createSession(req.TabID, req.Cols, req.Rows)
	if err != nil {
		return schema.OpenRemoteTabResponse{}, err
	}
	log := logx.WithTarget(logx.WithTab(ctx, sess.id), req.Options)
	log.Info("service remote tab open start")
	sess.emitEvent(schema.TabEventCreated, sess.snapshot())

	sess.inMu.Lock()
	s.beginConnect(logx.ContextWithTabLogger(ctx, log, sess.id), sess, req.Options)
	sess.inMu.Unlock()
	return schema.OpenRemoteTabResponse{Tab: sess.snapshot()}, nil
}

func (s *service) SendInput(ctx context.Context, req schema.SendInputRequest) (schema.SendInputResponse, error) {
	if ctx == nil {
		return schema.SendInputResponse{}, errors.New("missing context")
	}
	sess, err := s.tabs.get(req.TabID)
	if err != nil {
		return schema.SendInputResponse{}, err
	}
	if len(req.Data) == 0 {
		return schema.SendInputResponse{}, nil
	}
	log := logx.WithTab(ctx, sess.id)
	ctx = logx.ContextWithTabLogger(ctx, log, sess.id)

	sess.inMu.Lock()
	defer sess.inMu.Unlock()
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return schema.SendInputResponse{}, nil
	}
	h := sess.handle
	sess.mu.Unlock()
	if h != nil {
		if _, err := h.Write(req.Data); err != nil {
			log.Debug("service input write failed", "err", err)
		}
		return schema.SendInputResponse{}, nil
	}
	for _, k := range sess.editor.decode(req.Data) {
		s.handleKey(ctx, sess, k)
		if sess.isClosed() {
			break
		}
	}
	return schema.SendInputResponse{}, nil
}

func (s *service) Resize(ctx context.Context, req schema.ResizeRequest) (schema.ResizeResponse, error) {
	if ctx == nil {
		return schema.ResizeResponse{}, errors.New("missing context")
	}
	if req.Cols <= 0 || req.Rows <= 0 {
		return schema.ResizeResponse{}, nil
	}
	sess, err := s.tabs.get(req.TabID)
	if err != nil {
		return schema.ResizeResponse{}, nil
	}
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return schema.ResizeResponse{}, nil
	}
	sess.cols, sess.rows = req.Cols, req.Rows
	h := sess.handle
	sess.mu.Unlock()
	if h != nil {
		if err := h.Resize(req.Cols, req.Rows); err != nil {
			logx.WithTab(ctx, sess.id).Debug("service resize failed", "err", err)
		}
	}
	return schema.ResizeResponse{}, nil
}

func (s *service) CloseTab(ctx context.Context, req schema.CloseTabRequest) (schema.CloseTabResponse, error) {
	if ctx == nil {
		return schema.CloseTabResponse{}, errors.New("missing context")
	}
	closed := s.tabs.remove(req.TabID)
	if closed {
		logx.WithTab(ctx, req.TabID).Info("service tab closed")
	}
	return schema.CloseTabResponse{Closed: closed}, nil
}

func (s *service) GetTab(ctx context.Context, req schema.GetTabRequest) (schema.GetTabResponse, error) {
	if ctx == nil {
		return schema.GetTabResponse{}, errors.New("missing context")
	}
	sess, err := s.tabs.get(req.TabID)
	if err != nil {
		return schema.GetTabResponse{}, err
	}
	return schema.GetTabResponse{Tab: sess.snapshot()}, nil
}

func (s *service) ListTabs(ctx context.Context, _ schema.ListTabsRequest) (schema.ListTabsResponse, error) {
	if ctx == nil {
		return schema.ListTabsResponse{}, errors.New("missing context")
	}
	var tabs []schema.TabSnapshot
	s.tabs.forEach(func(sess *session) {
		tabs = append(tabs, sess.snapshot())
	})
	return schema.ListTabsResponse{Tabs: tabs}, nil
}

func (s *service) CountTabs(_ context.Context) int {
	return s.tabs.count()
}

// createSession registers a new session. An empty id is generated.
func (s *service) createSession(id schema.TabID, cols, rows int) (*session, error) {
	if cols <= 0 {
		cols = s.cfg.Cols
	}
	if rows <= 0 {
		rows = s.cfg.Rows
	}
	if id != "" {
		sess := newSession(id, s.sink, cols, rows)
		if err := s.tabs.create(sess); err != nil {
			return nil, err
		}
		return sess, nil
	}
	var err error
	for range 8 {
		sess := newSession(s.newID(), s.sink, cols, rows)
		if err = s.tabs.create(sess); err == nil {
			return sess, nil
		}
	}
	return nil, err
}

// attach installs h on a session and starts routing its output. It returns
// false when the session was closed in the meantime. notice is emitted
// before any handle output.
func (s *service) attach(sess *session, h Handle, mode schema.SessionMode, notice []byte) bool {
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return false
	}
	sess.handle = h
	sess.mode = mode
	sess.phase = schema.PhaseIdle
	sess.retryCount = 0
	sess.editor.reset()
	snap := sess.snapshotLocked()
	sess.mu.Unlock()
	sess.emit(notice)
	sess.emitEvent(schema.TabEventAttached, snap)
	go s.route(sess, h)
	return true
}

func (s *service) emitTabEvent(eventType schema.TabEventType, snap schema.TabSnapshot) {
	if s.sink == nil {
		return
	}
	s.sink.OnTabEvent(schema.TabEvent{Type: eventType, Tab: snap})
}
