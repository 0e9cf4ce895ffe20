// Package logging is the structured logger every component receives. The
// engine only depends on Logger; SlogLogger backs it with log/slog.
package logging

import "context"

// Logger takes a message plus alternating key/value pairs, e.g.
//
//	log.Info(ctx, "sync target done", "dir", dir, "uploaded", n)
//
// The context is forwarded to the handler so request-scoped attributes
// survive.
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a logger that prefixes every record with args, used to
	// tag a component ("module", "storage").
	With(args ...any) Logger
}
