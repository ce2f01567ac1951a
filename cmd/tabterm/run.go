package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pkt.systems/pslog"
	"pkt.systems/tabterm"
	"pkt.systems/tabterm/core"
	"pkt.systems/tabterm/internal/appconfig"
	"pkt.systems/tabterm/internal/command"
	"pkt.systems/tabterm/internal/persist"
	"pkt.systems/tabterm/internal/tabio"
	"pkt.systems/tabterm/internal/vault"
	"pkt.systems/tabterm/schema"
)

type targetKind int

const (
	targetBlank targetKind = iota
	targetLocal
	targetRemote
)

// runTarget is what the first tab opens into.
type runTarget struct {
	kind    targetKind
	options schema.ConnectOptions
}

type runFlags struct {
	local    bool
	ssh      string
	port     int
	favorite string
}

func newRunCmd(cfgPath *string) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Open a tab in this terminal",
		Long: "Open a tab in this terminal. Without flags the tab starts at the\n" +
			"command prompt, where \"ssh [user@]host\" connects to a remote shell.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(*cfgPath)
			if err != nil {
				return err
			}
			// The terminal belongs to the tab, so logs go to a file.
			ctx, closer, err := withFileLogger(cmd.Context(), cfg, defaultLogFile)
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

			target, err := resolveTarget(flags, func() (favoriteFinder, error) {
				v, err := vault.Open(cfg.StateDir, logger)
				if err != nil {
					return nil, err
				}
				return v, nil
			}, watcher.KeySettings())
			if err != nil {
				return err
			}

			server, err := tabterm.New(tabterm.ServerConfig{
				Service:        cfg.ServiceSettings(),
				KnownHostsPath: cfg.SSH.KnownHosts,
			}, tabterm.ServerDeps{ServiceDeps: core.ServiceDeps{
				Settings: watcher,
				Logger:   logger,
			}})
			if err != nil {
				return err
			}
			if err := server.Start(ctx); err != nil {
				return err
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = server.Stop(stopCtx)
			}()
			return runInteractive(ctx, server, target, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().BoolVar(&flags.local, "local", false, "start a local shell")
	cmd.Flags().StringVar(&flags.ssh, "ssh", "", "connect to [user@]host")
	cmd.Flags().IntVarP(&flags.port, "port", "p", 0, "ssh port")
	cmd.Flags().StringVarP(&flags.favorite, "favorite", "f", "", "connect to a saved favorite by name or hostname")
	return cmd
}

type favoriteFinder interface {
	Find(name string) (int, schema.Favorite, error)
}

func resolveTarget(flags runFlags, openFavorites func() (favoriteFinder, error), keys schema.KeySettings) (runTarget, error) {
	chosen := 0
	for _, set := range []bool{flags.local, flags.ssh != "", flags.favorite != ""} {
		if set {
			chosen++
		}
	}
	if chosen > 1 {
		return runTarget{}, errors.New("choose one of --local, --ssh or --favorite")
	}
	if flags.port != 0 && flags.ssh == "" {
		return runTarget{}, errors.New("--port requires --ssh")
	}
	switch {
	case flags.local:
		return runTarget{kind: targetLocal}, nil
	case flags.ssh != "":
		line := "ssh " + flags.ssh
		if flags.port != 0 {
			line = "ssh -p " + strconv.Itoa(flags.port) + " " + flags.ssh
		}
		cmd, _ := command.Parse(line)
		target, err := command.ParseSSH(cmd)
		if err != nil {
			return runTarget{}, fmt.Errorf("--ssh %q: %w", flags.ssh, err)
		}
		return runTarget{kind: targetRemote, options: schema.ConnectOptions{
			Host:     target.Host,
			Username: target.User,
			Port:     target.Port,
		}}, nil
	case flags.favorite != "":
		favorites, err := openFavorites()
		if err != nil {
			return runTarget{}, err
		}
		_, fav, err := favorites.Find(flags.favorite)
		if err != nil {
			return runTarget{}, err
		}
		return runTarget{kind: targetRemote, options: fav.ConnectOptions(keys)}, nil
	default:
		return runTarget{kind: targetBlank}, nil
	}
}

// runInteractive puts the terminal in raw mode and attaches it to a new tab.
func runInteractive(ctx context.Context, server tabterm.Server, target runTarget, in *os.File, out *os.File) error {
	inFd := int(in.Fd())
	if term.IsTerminal(inFd) {
		state, err := term.MakeRaw(inFd)
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer func() { _ = term.Restore(inFd, state) }()
	}
	size := tabio.Size{}
	outFd := int(out.Fd())
	if cols, rows, err := term.GetSize(outFd); err == nil {
		size = tabio.Size{Cols: cols, Rows: rows}
	}
	resizeCtx, stop := context.WithCancel(ctx)
	defer stop()
	reason, err := attachTab(ctx, server, target, terminalConn{Reader: in, Writer: out}, size, watchResize(resizeCtx, outFd))
	if err != nil {
		return err
	}
	pslog.Ctx(ctx).Info("run tab finished", "reason", reason)
	if reason == tabio.ReasonTabClosed {
		_, _ = io.WriteString(out, "\r\n")
	}
	return nil
}

type terminalConn struct {
	io.Reader
	io.Writer
}

// attachTab opens a tab for target and bridges conn to it until the tab
// closes or conn ends. The tab is closed on return.
func attachTab(ctx context.Context, server tabterm.Server, target runTarget, conn io.ReadWriter, size tabio.Size, sizes <-chan tabio.Size) (string, error) {
	svc := server.Service()
	tabID := core.NewTabID()
	events, unsubscribe := server.EventBus().Subscribe(tabID)
	if err := openTarget(ctx, svc, tabID, target, size); err != nil {
		unsubscribe()
		return "", err
	}
	if size.Cols > 0 && size.Rows > 0 {
		_, _ = svc.Resize(ctx, schema.ResizeRequest{TabID: tabID, Cols: size.Cols, Rows: size.Rows})
	}
	bridge := &tabio.Bridge{Conn: conn, Service: svc, TabID: tabID, Events: events}
	reason := bridge.Run(ctx, sizes)
	unsubscribe()
	_, _ = svc.CloseTab(context.Background(), schema.CloseTabRequest{TabID: tabID})
	return reason, nil
}

func openTarget(ctx context.Context, svc core.Service, tabID schema.TabID, target runTarget, size tabio.Size) error {
	switch target.kind {
	case targetLocal:
		_, err := svc.OpenLocalTab(ctx, schema.OpenLocalTabRequest{TabID: tabID, Cols: size.Cols, Rows: size.Rows})
		if errors.Is(err, schema.ErrSpawn) {
			// The tab stays at the prompt with the error shown.
			return nil
		}
		return err
	case targetRemote:
		if strings.TrimSpace(target.options.Host) == "" {
			return errors.New("remote target has no host")
		}
		_, err := svc.OpenRemoteTab(ctx, schema.OpenRemoteTabRequest{
			TabID:   tabID,
			Options: target.options,
			Cols:    size.Cols,
			Rows:    size.Rows,
		})
		return err
	default:
		_, err := svc.OpenTab(ctx, schema.OpenTabRequest{TabID: tabID})
		return err
	}
}
