package tabterm

import (
	"context"
	"errors"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/tabterm/core"
	"pkt.systems/tabterm/internal/eventbus"
	"pkt.systems/tabterm/internal/remotessh"
	"pkt.systems/tabterm/internal/shellexec"
	"pkt.systems/tabterm/schema"
	"pkt.systems/tabterm/sshserver"
)

// Server composes the tab service with its display front-ends.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
	// Service is the tab service shared by every front-end.
	Service() core.Service
	// EventBus delivers tab events to display surfaces.
	EventBus() *eventbus.Bus
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Service schema.ServiceConfig
	SSH     sshserver.Config
	// KnownHostsPath enables host key checks for outgoing ssh tabs.
	KnownHostsPath string
}

// ServerDeps captures dependencies required to build the server.
type ServerDeps struct {
	ServiceDeps core.ServiceDeps
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableSSH bool
}

// WithSSH enables the SSH front-end.
func WithSSH() ServerOption {
	return func(o *serverOptions) { o.enableSSH = true }
}

// New constructs the service, its event bus and the enabled front-ends.
// Without options the server only hosts the service, which suits a local
// front-end that drives it directly.
func New(cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	normalized, err := schema.NormalizeServiceConfig(cfg.Service)
	if err != nil {
		return nil, err
	}
	cfg.Service = normalized

	serviceDeps := deps.ServiceDeps
	logger := serviceDeps.Logger
	bus := eventbus.New(logger)
	if serviceDeps.EventSink == nil {
		serviceDeps.EventSink = bus
	} else {
		serviceDeps.EventSink = eventFanout{sinks: []core.EventSink{serviceDeps.EventSink, bus}}
	}
	if serviceDeps.Dialer == nil {
		serviceDeps.Dialer = core.SSHDialer{Dialer: &remotessh.Dialer{
			KnownHostsPath: cfg.KnownHostsPath,
			Timeout:        cfg.Service.ConnectTimeout,
			Logger:         logger,
		}}
	}
	if serviceDeps.Commands == nil {
		serviceDeps.Commands = &shellexec.Runner{}
	}

	service, err := core.NewService(cfg.Service, serviceDeps)
	if err != nil {
		return nil, err
	}

	var sshSrv *sshserver.Server
	if options.enableSSH {
		sshSrv, err = sshserver.New(cfg.SSH, service, bus, logger)
		if err != nil {
			return nil, err
		}
	}

	return &compositeServer{
		cfg:     cfg,
		options: options,
		service: service,
		bus:     bus,
		sshSrv:  sshSrv,
	}, nil
}

type compositeServer struct {
	cfg     ServerConfig
	options serverOptions
	service core.Service
	bus     *eventbus.Bus
	sshSrv  *sshserver.Server
	logger  pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	started bool
}

func (s *compositeServer) Service() core.Service { return s.service }

func (s *compositeServer) EventBus() *eventbus.Bus { return s.bus }

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 1)
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"ssh", s.options.enableSSH,
		"ssh_addr", s.cfg.SSH.Addr,
		"exit_policy", s.cfg.Service.ExitPolicy,
	)
	if s.options.enableSSH && s.sshSrv != nil {
		go func() {
			if err := s.sshSrv.ListenAndServe(s.ctx); err != nil {
				log.Error("ssh server failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	return nil
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

// Stop cancels the front-ends and closes every open tab.
func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	if cancel != nil {
		cancel()
	}
	closed := s.closeTabs()
	log.Info("server tabs closed", "count", closed)
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-s.ctx.Done():
		log.Info("server stopped")
		return nil
	}
}

func (s *compositeServer) closeTabs() int {
	if s.service == nil {
		return 0
	}
	ctx := context.Background()
	resp, err := s.service.ListTabs(ctx, schema.ListTabsRequest{})
	if err != nil {
		return 0
	}
	closed := 0
	for _, tab := range resp.Tabs {
		out, err := s.service.CloseTab(ctx, schema.CloseTabRequest{TabID: tab.ID})
		if err == nil && out.Closed {
			closed++
		}
	}
	return closed
}
