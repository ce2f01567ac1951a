package remotessh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"pkt.systems/pslog"
	"pkt.systems/tabterm/schema"
)

// TerminalType is requested for every remote pty.
const TerminalType = "xterm-256color"

// Dialer opens interactive shells on remote hosts.
type Dialer struct {
	// KnownHostsPath enables host key verification when set.
	KnownHostsPath string
	// HostKeyCallback overrides KnownHostsPath when set.
	HostKeyCallback ssh.HostKeyCallback
	// Timeout bounds dial and handshake when ctx has no deadline.
	Timeout time.Duration
	Logger  pslog.Logger
}

// Connect dials opts, authenticates and starts a shell of the given geometry.
// Authentication failures wrap schema.ErrAuth.
func (d *Dialer) Connect(ctx context.Context, opts schema.ConnectOptions, cols, rows int) (*Session, error) {
	if strings.TrimSpace(opts.Host) == "" {
		return nil, fmt.Errorf("%w: missing host", schema.ErrInvalidRequest)
	}
	if !opts.HasCredentials() {
		return nil, schema.ErrNoCredentials
	}
	if cols <= 0 {
		cols = schema.DefaultCols
	}
	if rows <= 0 {
		rows = schema.DefaultRows
	}
	log := d.Logger
	if log == nil {
		log = pslog.Ctx(ctx)
	}
	auth, err := authMethods(opts, log)
	if err != nil {
		return nil, err
	}
	hostKeys, err := d.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	if d.Timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.Timeout)
			defer cancel()
		}
	}

	addr := opts.Address()
	log.Debug("ssh dial start", "addr", addr, "user", opts.Username, "key", opts.KeyPath != "", "password", opts.Password != "")
	var netDialer net.Dialer
	conn, err := netDialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	// Closing the conn unblocks the handshake and session setup on cancellation.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	config := &ssh.ClientConfig{
		User:            opts.Username,
		Auth:            auth,
		HostKeyCallback: hostKeys,
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		stop()
		_ = conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if isAuthError(err) {
			return nil, fmt.Errorf("%w: %v", schema.ErrAuth, err)
		}
		return nil, err
	}
	client := ssh.NewClient(clientConn, chans, reqs)
	sess, err := startShell(client, cols, rows)
	if !stop() {
		if sess != nil {
			_ = sess.Close()
		}
		_ = client.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	log.Info("ssh shell started", "addr", addr, "user", opts.Username)
	return sess, nil
}

// authMethods offers the key first, then the password. An unusable key is
// only fatal when there is no password to fall back to.
func authMethods(opts schema.ConnectOptions, log pslog.Logger) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if opts.KeyPath != "" {
		signer, err := loadSigner(opts.KeyPath, opts.Password)
		switch {
		case err == nil:
			methods = append(methods, ssh.PublicKeys(signer))
		case opts.Password == "":
			return nil, err
		default:
			log.Warn("ssh key unusable, using password", "key_path", opts.KeyPath, "err", err)
		}
	}
	if opts.Password != "" {
		methods = append(methods, ssh.Password(opts.Password))
	}
	return methods, nil
}

// loadSigner reads a private key. An encrypted key is unlocked with the
// password when one was supplied.
func loadSigner(path, password string) (ssh.Signer, error) {
	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err == nil {
		return signer, nil
	}
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) && password != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(data, []byte(password))
		if err == nil {
			return signer, nil
		}
	}
	return nil, fmt.Errorf("parse private key: %w", err)
}

func (d *Dialer) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if d.HostKeyCallback != nil {
		return d.HostKeyCallback, nil
	}
	path := strings.TrimSpace(d.KnownHostsPath)
	if path == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	callback, err := knownhosts.New(expandHome(path))
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}
	return callback, nil
}

func isAuthError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}
