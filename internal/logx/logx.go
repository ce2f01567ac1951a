package logx

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/tabterm/schema"
)

type contextKey int

const tabKey contextKey = 0

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithTab annotates the logger with the tab id if present.
func WithTab(ctx context.Context, tabID schema.TabID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if tabID != "" {
		if current, ok := ctx.Value(tabKey).(schema.TabID); ok && current == tabID {
			return log
		}
		log = log.With("tab", tabID)
	}
	return log
}

// WithTarget annotates the logger with remote connection metadata when available.
func WithTarget(log pslog.Logger, opts schema.ConnectOptions) pslog.Logger {
	if opts.Host != "" {
		log = log.With("host", opts.Host)
	}
	if opts.Username != "" {
		log = log.With("ssh_user", opts.Username)
	}
	if opts.Port > 0 && opts.Port != schema.DefaultSSHPort {
		log = log.With("port", opts.Port)
	}
	return log
}

// ContextWithTab stores the tab marker on the context for log de-duplication.
func ContextWithTab(ctx context.Context, tabID schema.TabID) context.Context {
	if ctx == nil || tabID == "" {
		return ctx
	}
	return context.WithValue(ctx, tabKey, tabID)
}

// ContextWithTabLogger attaches the logger and tab marker to the context.
func ContextWithTabLogger(ctx context.Context, log pslog.Logger, tabID schema.TabID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithTab(ctx, tabID)
}

// CopyContextFields copies the logger and tab marker from src to dst.
func CopyContextFields(dst context.Context, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	dst = pslog.ContextWithLogger(dst, pslog.Ctx(src))
	if tab, ok := src.Value(tabKey).(schema.TabID); ok && tab != "" {
		dst = ContextWithTab(dst, tab)
	}
	return dst
}
