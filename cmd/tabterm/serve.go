package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/tabterm"
	"pkt.systems/tabterm/core"
	"pkt.systems/tabterm/internal/appconfig"
	"pkt.systems/tabterm/internal/persist"
	"pkt.systems/tabterm/schema"
	"pkt.systems/tabterm/sshserver"
)

func newServeCmd(cfgPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve tabs over SSH, one tab per login",
		Long: "Serve tabs over SSH. Each login with a pty gets its own tab. The SSH\n" +
			"command selects the tab: none for a prompt, \"local\" for a local shell\n" +
			"or \"ssh [user@]host\" for a remote shell.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(*cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Serve.Addr = addr
			}
			ctx, closer, err := withFileLogger(cmd.Context(), cfg, "")
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()
			logger := pslog.Ctx(ctx)

			store, err := persist.NewStoreWithLogger(cfg.StateDir, logger)
			if err != nil {
				return err
			}
			watcher, err := persist.NewWatcher(store, logger)
			if err != nil {
				return err
			}
			defer func() { _ = watcher.Close() }()
			watcher.OnChange(func(settings schema.KeySettings) {
				logger.Info("settings reloaded", "use_ssh_key", settings.UseSSHKey, "ssh_key_path", settings.SSHKeyPath)
			})

			server, err := tabterm.New(serverConfig(cfg), tabterm.ServerDeps{ServiceDeps: core.ServiceDeps{
				Settings: watcher,
				Logger:   logger,
			}}, tabterm.WithSSH())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides serve.addr)")
	return cmd
}

func serverConfig(cfg appconfig.Config) tabterm.ServerConfig {
	return tabterm.ServerConfig{
		Service: cfg.ServiceSettings(),
		SSH: sshserver.Config{
			Addr:               cfg.Serve.Addr,
			HostKeyPath:        cfg.Serve.HostKeyPath,
			AuthorizedKeysPath: cfg.Serve.AuthorizedKeys,
			IdleTimeout:        time.Duration(cfg.Serve.IdleTimeout) * time.Minute,
		},
		KnownHostsPath: cfg.SSH.KnownHosts,
	}
}
